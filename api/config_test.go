package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImportConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ImportConfig
		wantErr string
	}{
		{name: "minimal", cfg: ImportConfig{OrganismID: 1}},
		{name: "no organism", cfg: ImportConfig{}, wantErr: "organism_id"},
		{name: "re_mrna alone", cfg: ImportConfig{OrganismID: 1, ReMRNA: "x"}, wantErr: "together"},
		{name: "re_protein alone", cfg: ImportConfig{OrganismID: 1, ReProtein: "x"}, wantErr: "together"},
		{name: "bad regex", cfg: ImportConfig{OrganismID: 1, ReMRNA: "(", ReProtein: "x"}, wantErr: "re_mrna"},
		{name: "negative batch", cfg: ImportConfig{OrganismID: 1, BatchSize: -1}, wantErr: "batch_size"},
		{name: "negative start", cfg: ImportConfig{OrganismID: 1, StartLine: -4}, wantErr: "start_line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, DefaultBatchSize, (&ImportConfig{}).EffectiveBatchSize())
}
