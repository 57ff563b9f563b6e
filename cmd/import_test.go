package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/agentic-research/gffload/api"
	"github.com/agentic-research/gffload/internal/lockfile"
	"github.com/agentic-research/gffload/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGFF = "##gff-version 3\n" +
	"chr1\ttest\tgene\t1\t300\t.\t+\t.\tID=gene1;Name=Adh\n" +
	"chr1\ttest\tmRNA\t1\t300\t.\t+\t.\tID=mrna1;Parent=gene1\n" +
	"chr1\ttest\tCDS\t11\t100\t.\t+\t0\tParent=mrna1\n"

// setupStore creates a database holding one organism and writes sampleGFF.
func setupStore(t *testing.T) (dbPath, gffPath string, organism int64) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "features.db")
	gffPath = filepath.Join(dir, "sample.gff3")
	require.NoError(t, os.WriteFile(gffPath, []byte(sampleGFF), 0o644))

	db, err := store.Open(dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	err = db.RunInTx(context.Background(), func(tx *store.Tx) error {
		organism, err = tx.CreateOrganism(context.Background(), "Drosophila", "melanogaster")
		return err
	})
	require.NoError(t, err)
	return dbPath, gffPath, organism
}

func TestImportCommand_JSONSummary(t *testing.T) {
	dbPath, gffPath, organism := setupStore(t)
	cfgPath := filepath.Join(t.TempDir(), "import.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("landmark_type: chromosome\nskip_protein: true\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{
		"import", gffPath,
		"--store", dbPath,
		"--config", cfgPath,
		"--organism-id", strconv.FormatInt(organism, 10),
		"--skip-protein=false",
		"--analysis-name", "dmel-annotation",
		"--json",
	})
	require.NoError(t, rootCmd.Execute())

	doc, err := oj.ParseString(out.String())
	require.NoError(t, err)
	summary := doc.(map[string]any)
	assert.Equal(t, int64(3), summary["processed"])
	assert.Equal(t, int64(4), summary["inserted"], "flag re-enables protein inference")
	assert.Equal(t, int64(1), summary["proteins"])

	db, err := store.Open(dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	var linked int
	require.NoError(t, db.SQL().QueryRow(`
		SELECT COUNT(*) FROM analysisfeature a JOIN analysis n ON n.analysis_id = a.analysis_id
		WHERE n.name = 'dmel-annotation'`).Scan(&linked))
	assert.Equal(t, 4, linked)
}

func TestRunImport_LockedStore(t *testing.T) {
	dbPath, gffPath, organism := setupStore(t)
	lock, err := lockfile.Acquire(lockfile.PathFor(dbPath))
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()

	_, err = runImport(context.Background(), importRequest{
		StorePath: dbPath,
		GFFPath:   gffPath,
		Config:    api.ImportConfig{OrganismID: organism, LandmarkType: "chromosome"},
		Log:       &bytes.Buffer{},
	})
	assert.ErrorIs(t, err, lockfile.ErrLocked)
}

func TestImportTool(t *testing.T) {
	dbPath, gffPath, organism := setupStore(t)
	handler := importToolHandler(&bytes.Buffer{})

	req := mcp.CallToolRequest{}
	req.Params.Name = "import_gff3"
	req.Params.Arguments = map[string]any{
		"store":         dbPath,
		"path":          gffPath,
		"organism_id":   float64(organism),
		"landmark_type": "chromosome",
	}
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	doc, err := oj.ParseString(text.Text)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.(map[string]any)["proteins"])

	req.Params.Arguments = map[string]any{"store": dbPath, "path": gffPath}
	res, err = handler(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMergeFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cfg := &api.ImportConfig{OrganismID: 7, LandmarkType: "contig", BatchSize: 10}
	require.NoError(t, importCmd.Flags().Set("landmark-type", "chromosome"))
	defer func() { _ = importCmd.Flags().Set("landmark-type", "") }()

	flags := api.ImportConfig{LandmarkType: "chromosome", BatchSize: api.DefaultBatchSize}
	mergeFlags(importCmd, cfg, &flags)
	assert.Equal(t, "chromosome", cfg.LandmarkType)
	assert.Equal(t, 10, cfg.BatchSize, "unset flags keep the file value")
	assert.Equal(t, int64(7), cfg.OrganismID)
}
