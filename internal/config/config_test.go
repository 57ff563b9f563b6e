package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "hcl",
			file: "import.hcl",
			body: `
organism_id   = 3
landmark_type = "chromosome"
re_mrna       = "-RA$"
re_protein    = "-PA"
batch_size    = 250
create_target = true
`,
		},
		{
			name: "yaml",
			file: "import.yaml",
			body: `
organism_id: 3
landmark_type: chromosome
re_mrna: "-RA$"
re_protein: "-PA"
batch_size: 250
create_target: true
`,
		},
		{
			name: "json",
			file: "import.json",
			body: `{"organism_id": 3, "landmark_type": "chromosome", "re_mrna": "-RA$",
"re_protein": "-PA", "batch_size": 250, "create_target": true}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.file, tt.body))
			require.NoError(t, err)
			assert.Equal(t, int64(3), cfg.OrganismID)
			assert.Equal(t, "chromosome", cfg.LandmarkType)
			assert.Equal(t, "-RA$", cfg.ReMRNA)
			assert.Equal(t, "-PA", cfg.ReProtein)
			assert.Equal(t, 250, cfg.EffectiveBatchSize())
			assert.True(t, cfg.CreateTarget)
			assert.False(t, cfg.SkipProtein)
			require.NoError(t, cfg.Validate())
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(writeFile(t, "import.toml", "organism_id = 1"))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = Load(writeFile(t, "import.hcl", "organism_id = "))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Error(t, cfg.Validate(), "organism_id is required")
}
