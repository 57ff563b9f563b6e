package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentic-research/gffload/internal/gff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTx(t *testing.T) (*DB, *Tx) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tx, err := db.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	return db, tx
}

// createTerm seeds an ontology term backed by a db:accession dbxref.
func createTerm(t *testing.T, tx *Tx, cv, name string, key gff.DbxrefKey) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tx.InsertDbxrefs(ctx, []gff.DbxrefKey{key}))
	res, err := tx.tx.ExecContext(ctx, `
		INSERT INTO cvterm (cv, name, dbxref_id)
		SELECT ?, ?, x.dbxref_id FROM dbxref x JOIN db d ON d.db_id = x.db_id
		WHERE d.name = ? AND x.accession = ?`, cv, name, key.DB, key.Accession)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestTypes_SeparateVocabularies(t *testing.T) {
	ctx := context.Background()
	_, tx := openTx(t)

	_, ok, err := tx.FindType(ctx, "gene", false)
	require.NoError(t, err)
	assert.False(t, ok)

	geneID, err := tx.CreateType(ctx, "gene", false)
	require.NoError(t, err)
	propID, err := tx.CreateType(ctx, "gene", true)
	require.NoError(t, err)
	assert.NotEqual(t, geneID, propID)

	id, ok, err := tx.FindType(ctx, "GENE", false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geneID, id)
}

func TestFeatures_InsertFindRename(t *testing.T) {
	ctx := context.Background()
	_, tx := openTx(t)

	org, err := tx.CreateOrganism(ctx, "Arabidopsis", "thaliana")
	require.NoError(t, err)
	gene, err := tx.CreateType(ctx, "gene", false)
	require.NoError(t, err)

	require.NoError(t, tx.InsertFeatures(ctx, []FeatureRow{
		{OrganismID: org, Name: "one", Uniquename: "g1", TypeID: gene},
		{OrganismID: org, Name: "two", Uniquename: "g2", TypeID: gene},
	}))
	matches, err := tx.FindFeatures(ctx, []string{"g1", "g2", "g3"})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	ids := map[string]int64{}
	for _, m := range matches {
		ids[m.Uniquename] = m.ID
		assert.Equal(t, org, m.OrganismID)
		assert.Equal(t, gene, m.TypeID)
	}
	require.NoError(t, tx.UpdateFeatureNames(ctx, map[int64]string{ids["g1"]: "uno", ids["g2"]: "dos"}))

	matches, err = tx.FindFeatures(ctx, []string{"g1", "g2"})
	require.NoError(t, err)
	names := map[string]string{}
	for _, m := range matches {
		names[m.Uniquename] = m.Name
	}
	assert.Equal(t, map[string]string{"g1": "uno", "g2": "dos"}, names)
}

func TestLandmark_AmbiguousName(t *testing.T) {
	ctx := context.Background()
	_, tx := openTx(t)

	org, err := tx.CreateOrganism(ctx, "Zea", "mays")
	require.NoError(t, err)
	chr, err := tx.CreateType(ctx, "chromosome", false)
	require.NoError(t, err)
	contig, err := tx.CreateType(ctx, "contig", false)
	require.NoError(t, err)

	id, err := tx.CreateLandmark(ctx, "chr1", chr, org, 5000)
	require.NoError(t, err)
	found, ok, err := tx.FindLandmark(ctx, "chr1", org, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, found)

	_, err = tx.CreateLandmark(ctx, "chr1", contig, org, 0)
	require.NoError(t, err)
	_, _, err = tx.FindLandmark(ctx, "chr1", org, 0)
	assert.ErrorIs(t, err, ErrAmbiguous)

	found, ok, err = tx.FindLandmark(ctx, "chr1", org, chr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, found)
}

func TestDbxrefs_FindInsertTerm(t *testing.T) {
	ctx := context.Background()
	_, tx := openTx(t)

	keys := []gff.DbxrefKey{{DB: "GO", Accession: "0005634"}, {DB: "EMBL", Accession: "AA816246"}}
	matches, err := tx.FindDbxrefs(ctx, keys)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Zero(t, m.DbxrefID)
	}

	termID := createTerm(t, tx, "cellular_component", "nucleus", keys[0])
	require.NoError(t, tx.InsertDbxrefs(ctx, keys))

	matches, err = tx.FindDbxrefs(ctx, keys)
	require.NoError(t, err)
	byKey := map[string]DbxrefMatch{}
	for _, m := range matches {
		byKey[m.Key.String()] = m
	}
	assert.NotZero(t, byKey["EMBL:AA816246"].DbxrefID)
	assert.Zero(t, byKey["EMBL:AA816246"].CvtermID)
	assert.Equal(t, termID, byKey["GO:0005634"].CvtermID)
}

func TestPurge_RemovesAncillaryRows(t *testing.T) {
	ctx := context.Background()
	db, tx := openTx(t)

	org, err := tx.CreateOrganism(ctx, "Danio", "rerio")
	require.NoError(t, err)
	gene, err := tx.CreateType(ctx, "gene", false)
	require.NoError(t, err)
	mrna, err := tx.CreateType(ctx, "mrna", false)
	require.NoError(t, err)
	partOf, err := tx.CreateType(ctx, "part_of", false)
	require.NoError(t, err)
	note, err := tx.CreateType(ctx, "Note", true)
	require.NoError(t, err)

	chr, err := tx.CreateLandmark(ctx, "chr1", gene, org, 0)
	require.NoError(t, err)
	require.NoError(t, tx.InsertFeatures(ctx, []FeatureRow{
		{OrganismID: org, Name: "g1", Uniquename: "g1", TypeID: gene},
		{OrganismID: org, Name: "t1", Uniquename: "t1", TypeID: mrna},
	}))
	matches, err := tx.FindFeatures(ctx, []string{"g1", "t1"})
	require.NoError(t, err)
	ids := map[string]int64{}
	for _, m := range matches {
		ids[m.Uniquename] = m.ID
	}
	phase := 0
	require.NoError(t, tx.InsertLocations(ctx, []LocationRow{
		{FeatureID: ids["g1"], SrcFeatureID: chr, Fmin: 0, Fmax: 100, Strand: 1},
		{FeatureID: ids["t1"], SrcFeatureID: chr, Fmin: 0, Fmax: 90, Strand: 1, Phase: &phase},
	}))
	require.NoError(t, tx.InsertRelationships(ctx, []RelationshipRow{{SubjectID: ids["t1"], ObjectID: ids["g1"], TypeID: partOf}}))
	require.NoError(t, tx.InsertProperties(ctx, []PropertyRow{{FeatureID: ids["g1"], TypeID: note, Value: "hello"}}))

	require.NoError(t, tx.DeleteFeatureAncillaryData(ctx, []int64{ids["g1"]}))
	require.NoError(t, tx.Commit())

	count := func(query string) int {
		var n int
		require.NoError(t, db.SQL().QueryRow(query).Scan(&n))
		return n
	}
	assert.Equal(t, 1, count("SELECT COUNT(*) FROM featureloc"), "t1 keeps its location")
	assert.Zero(t, count("SELECT COUNT(*) FROM feature_relationship"), "children of a purged parent are unlinked")
	assert.Zero(t, count("SELECT COUNT(*) FROM featureprop"))
	assert.Equal(t, 3, count("SELECT COUNT(*) FROM feature"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0, 2))
	assert.Equal(t, "?,?,?", placeholders(3, 1))
	assert.Equal(t, "(?,?),(?,?)", placeholders(2, 2))

	spans := chunks(maxVariables/4*2+1, 4)
	require.Len(t, spans, 3)
	assert.Equal(t, 1, spans[2].n)
}
