package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agentic-research/gffload/internal/gff"
	_ "modernc.org/sqlite"
)

const (
	featureVocabulary  = "sequence"
	propertyVocabulary = "feature_property"

	// maxVariables stays under SQLite's default bound-parameter limit.
	maxVariables = 32000
)

const schema = `
CREATE TABLE IF NOT EXISTS organism (
	organism_id INTEGER PRIMARY KEY,
	genus TEXT NOT NULL,
	species TEXT NOT NULL,
	UNIQUE (genus, species)
);
CREATE TABLE IF NOT EXISTS analysis (
	analysis_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	program TEXT
);
CREATE TABLE IF NOT EXISTS db (
	db_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS dbxref (
	dbxref_id INTEGER PRIMARY KEY,
	db_id INTEGER NOT NULL REFERENCES db (db_id),
	accession TEXT NOT NULL,
	UNIQUE (db_id, accession)
);
CREATE TABLE IF NOT EXISTS cvterm (
	cvterm_id INTEGER PRIMARY KEY,
	cv TEXT NOT NULL,
	name TEXT NOT NULL,
	dbxref_id INTEGER REFERENCES dbxref (dbxref_id),
	UNIQUE (cv, name)
);
CREATE TABLE IF NOT EXISTS feature (
	feature_id INTEGER PRIMARY KEY,
	organism_id INTEGER NOT NULL REFERENCES organism (organism_id),
	name TEXT,
	uniquename TEXT NOT NULL,
	type_id INTEGER NOT NULL REFERENCES cvterm (cvterm_id),
	residues TEXT,
	seqlen INTEGER,
	md5checksum TEXT,
	UNIQUE (organism_id, uniquename, type_id)
);
CREATE INDEX IF NOT EXISTS idx_feature_uniquename ON feature (uniquename);
CREATE INDEX IF NOT EXISTS idx_feature_name ON feature (name);
CREATE TABLE IF NOT EXISTS featureloc (
	featureloc_id INTEGER PRIMARY KEY,
	feature_id INTEGER NOT NULL REFERENCES feature (feature_id),
	srcfeature_id INTEGER REFERENCES feature (feature_id),
	fmin INTEGER,
	fmax INTEGER,
	strand INTEGER,
	phase INTEGER,
	rank INTEGER NOT NULL DEFAULT 0,
	UNIQUE (feature_id, rank)
);
CREATE TABLE IF NOT EXISTS feature_relationship (
	feature_relationship_id INTEGER PRIMARY KEY,
	subject_id INTEGER NOT NULL REFERENCES feature (feature_id),
	object_id INTEGER NOT NULL REFERENCES feature (feature_id),
	type_id INTEGER NOT NULL REFERENCES cvterm (cvterm_id),
	rank INTEGER NOT NULL DEFAULT 0,
	UNIQUE (subject_id, object_id, type_id, rank)
);
CREATE INDEX IF NOT EXISTS idx_feature_relationship_object ON feature_relationship (object_id);
CREATE TABLE IF NOT EXISTS featureprop (
	featureprop_id INTEGER PRIMARY KEY,
	feature_id INTEGER NOT NULL REFERENCES feature (feature_id),
	type_id INTEGER NOT NULL REFERENCES cvterm (cvterm_id),
	value TEXT,
	rank INTEGER NOT NULL DEFAULT 0,
	UNIQUE (feature_id, type_id, rank)
);
CREATE TABLE IF NOT EXISTS feature_dbxref (
	feature_dbxref_id INTEGER PRIMARY KEY,
	feature_id INTEGER NOT NULL REFERENCES feature (feature_id),
	dbxref_id INTEGER NOT NULL REFERENCES dbxref (dbxref_id),
	UNIQUE (feature_id, dbxref_id)
);
CREATE TABLE IF NOT EXISTS synonym (
	synonym_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	type_id INTEGER NOT NULL REFERENCES cvterm (cvterm_id),
	UNIQUE (name, type_id)
);
CREATE TABLE IF NOT EXISTS feature_synonym (
	feature_synonym_id INTEGER PRIMARY KEY,
	feature_id INTEGER NOT NULL REFERENCES feature (feature_id),
	synonym_id INTEGER NOT NULL REFERENCES synonym (synonym_id),
	UNIQUE (feature_id, synonym_id)
);
CREATE TABLE IF NOT EXISTS feature_cvterm (
	feature_cvterm_id INTEGER PRIMARY KEY,
	feature_id INTEGER NOT NULL REFERENCES feature (feature_id),
	cvterm_id INTEGER NOT NULL REFERENCES cvterm (cvterm_id),
	UNIQUE (feature_id, cvterm_id)
);
CREATE TABLE IF NOT EXISTS analysisfeature (
	analysisfeature_id INTEGER PRIMARY KEY,
	feature_id INTEGER NOT NULL REFERENCES feature (feature_id),
	analysis_id INTEGER NOT NULL REFERENCES analysis (analysis_id),
	significance REAL,
	UNIQUE (feature_id, analysis_id)
);
`

// DB is a SQLite feature database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer: one connection carries the import transaction.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// SQL exposes the underlying handle for read-only inspection.
func (d *DB) SQL() *sql.DB { return d.db }

func (d *DB) Close() error { return d.db.Close() }

// Begin starts the transaction an import runs in.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// RunInTx runs fn in a transaction, committing on success and rolling back otherwise.
func (d *DB) RunInTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := d.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Tx implements FeatureStore inside one transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func vocabulary(isProperty bool) string {
	if isProperty {
		return propertyVocabulary
	}
	return featureVocabulary
}

func (t *Tx) FindType(ctx context.Context, name string, isProperty bool) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT cvterm_id FROM cvterm WHERE cv = ? AND lower(name) = lower(?) ORDER BY cvterm_id LIMIT 1`,
		vocabulary(isProperty), name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find type %s: %w", name, err)
	}
	return id, true, nil
}

func (t *Tx) CreateType(ctx context.Context, name string, isProperty bool) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO cvterm (cv, name) VALUES (?, ?)`, vocabulary(isProperty), name)
	if err != nil {
		return 0, fmt.Errorf("create type %s: %w", name, err)
	}
	return res.LastInsertId()
}

func (t *Tx) FindOrganism(ctx context.Context, genus, species string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT organism_id FROM organism WHERE genus = ? AND species = ?`, genus, species).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find organism %s %s: %w", genus, species, err)
	}
	return id, true, nil
}

func (t *Tx) CreateOrganism(ctx context.Context, genus, species string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO organism (genus, species) VALUES (?, ?)`, genus, species)
	if err != nil {
		return 0, fmt.Errorf("create organism %s %s: %w", genus, species, err)
	}
	return res.LastInsertId()
}

// EnsureAnalysis returns the id of the named analysis, creating it if needed.
func (t *Tx) EnsureAnalysis(ctx context.Context, name, program string) (int64, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO analysis (name, program) VALUES (?, ?)`, name, program); err != nil {
		return 0, fmt.Errorf("create analysis %s: %w", name, err)
	}
	var id int64
	if err := t.tx.QueryRowContext(ctx, `SELECT analysis_id FROM analysis WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("find analysis %s: %w", name, err)
	}
	return id, nil
}

func (t *Tx) FindLandmark(ctx context.Context, name string, organismID, typeID int64) (int64, bool, error) {
	for _, col := range []string{"uniquename", "name"} {
		query := `SELECT feature_id FROM feature WHERE ` + col + ` = ? AND organism_id = ?`
		args := []any{name, organismID}
		if typeID != 0 {
			query += ` AND type_id = ?`
			args = append(args, typeID)
		}
		ids, err := t.queryIDs(ctx, query, args...)
		if err != nil {
			return 0, false, fmt.Errorf("find landmark %s: %w", name, err)
		}
		switch len(ids) {
		case 0:
			continue
		case 1:
			return ids[0], true, nil
		default:
			return 0, false, fmt.Errorf("landmark %s: %d features share this %s: %w", name, len(ids), col, ErrAmbiguous)
		}
	}
	return 0, false, nil
}

func (t *Tx) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *Tx) CreateLandmark(ctx context.Context, name string, typeID, organismID, seqlen int64) (int64, error) {
	var length any
	if seqlen > 0 {
		length = seqlen
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO feature (organism_id, name, uniquename, type_id, seqlen) VALUES (?, ?, ?, ?, ?)`,
		organismID, name, name, typeID, length)
	if err != nil {
		return 0, fmt.Errorf("create landmark %s: %w", name, err)
	}
	return res.LastInsertId()
}

func (t *Tx) FindFeatures(ctx context.Context, uniquenames []string) ([]FeatureMatch, error) {
	var out []FeatureMatch
	for _, chunk := range chunks(len(uniquenames), 1) {
		args := make([]any, 0, chunk.n)
		for _, u := range uniquenames[chunk.lo:chunk.hi] {
			args = append(args, u)
		}
		rows, err := t.tx.QueryContext(ctx,
			`SELECT feature_id, uniquename, COALESCE(name, ''), type_id, organism_id FROM feature
			 WHERE uniquename IN (`+placeholders(chunk.n, 1)+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("find features: %w", err)
		}
		for rows.Next() {
			var m FeatureMatch
			if err := rows.Scan(&m.ID, &m.Uniquename, &m.Name, &m.TypeID, &m.OrganismID); err != nil {
				_ = rows.Close()
				return nil, err
			}
			out = append(out, m)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Tx) InsertFeatures(ctx context.Context, rows []FeatureRow) error {
	return t.insertRows(ctx, "INSERT INTO feature (organism_id, name, uniquename, type_id)", 4, len(rows),
		func(i int) []any {
			r := rows[i]
			return []any{r.OrganismID, r.Name, r.Uniquename, r.TypeID}
		})
}

func (t *Tx) UpdateFeatureNames(ctx context.Context, names map[int64]string) error {
	if len(names) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, chunk := range chunks(len(ids), 3) {
		var b strings.Builder
		args := make([]any, 0, chunk.n*3)
		b.WriteString("UPDATE feature SET name = CASE feature_id")
		for _, id := range ids[chunk.lo:chunk.hi] {
			b.WriteString(" WHEN ? THEN ?")
			args = append(args, id, names[id])
		}
		b.WriteString(" END WHERE feature_id IN (" + placeholders(chunk.n, 1) + ")")
		for _, id := range ids[chunk.lo:chunk.hi] {
			args = append(args, id)
		}
		if _, err := t.tx.ExecContext(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("update feature names: %w", err)
		}
	}
	return nil
}

// DeleteFeatureAncillaryData removes every row a re-import regenerates for
// the given features: locations, properties, ontology and cross-reference
// links, synonyms, relationships to their children and analysis links.
func (t *Tx) DeleteFeatureAncillaryData(ctx context.Context, ids []int64) error {
	statements := []string{
		"DELETE FROM featureloc WHERE feature_id IN (%s)",
		"DELETE FROM featureprop WHERE feature_id IN (%s)",
		"DELETE FROM feature_cvterm WHERE feature_id IN (%s)",
		"DELETE FROM feature_dbxref WHERE feature_id IN (%s)",
		"DELETE FROM feature_synonym WHERE feature_id IN (%s)",
		"DELETE FROM feature_relationship WHERE object_id IN (%s)",
		"DELETE FROM analysisfeature WHERE feature_id IN (%s)",
	}
	for _, chunk := range chunks(len(ids), 1) {
		args := make([]any, 0, chunk.n)
		for _, id := range ids[chunk.lo:chunk.hi] {
			args = append(args, id)
		}
		in := placeholders(chunk.n, 1)
		for _, s := range statements {
			if _, err := t.tx.ExecContext(ctx, fmt.Sprintf(s, in), args...); err != nil {
				return fmt.Errorf("purge feature data: %w", err)
			}
		}
	}
	return nil
}

func (t *Tx) InsertLocations(ctx context.Context, rows []LocationRow) error {
	return t.insertRows(ctx,
		"INSERT INTO featureloc (feature_id, srcfeature_id, fmin, fmax, strand, phase, rank)", 7, len(rows),
		func(i int) []any {
			r := rows[i]
			var phase any
			if r.Phase != nil {
				phase = *r.Phase
			}
			return []any{r.FeatureID, r.SrcFeatureID, r.Fmin, r.Fmax, r.Strand, phase, r.Rank}
		})
}

func (t *Tx) InsertRelationships(ctx context.Context, rows []RelationshipRow) error {
	return t.insertRows(ctx, "INSERT INTO feature_relationship (subject_id, object_id, type_id, rank)", 4, len(rows),
		func(i int) []any {
			r := rows[i]
			return []any{r.SubjectID, r.ObjectID, r.TypeID, r.Rank}
		})
}

func (t *Tx) InsertProperties(ctx context.Context, rows []PropertyRow) error {
	return t.insertRows(ctx, "INSERT INTO featureprop (feature_id, type_id, value, rank)", 4, len(rows),
		func(i int) []any {
			r := rows[i]
			return []any{r.FeatureID, r.TypeID, r.Value, r.Rank}
		})
}

func keyValues(keys []gff.DbxrefKey) (string, []any) {
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k.DB, k.Accession)
	}
	return placeholders(len(keys), 2), args
}

func (t *Tx) FindDbxrefs(ctx context.Context, keys []gff.DbxrefKey) ([]DbxrefMatch, error) {
	var out []DbxrefMatch
	for _, chunk := range chunks(len(keys), 2) {
		values, args := keyValues(keys[chunk.lo:chunk.hi])
		rows, err := t.tx.QueryContext(ctx, `
			WITH k (db, acc) AS (VALUES `+values+`)
			SELECT k.db, k.acc, COALESCE(d.db_id, 0), COALESCE(x.dbxref_id, 0), COALESCE(MIN(c.cvterm_id), 0)
			FROM k
			LEFT JOIN db d ON d.name = k.db
			LEFT JOIN dbxref x ON x.db_id = d.db_id AND x.accession = k.acc
			LEFT JOIN cvterm c ON c.dbxref_id = x.dbxref_id
			GROUP BY k.db, k.acc`, args...)
		if err != nil {
			return nil, fmt.Errorf("find dbxrefs: %w", err)
		}
		for rows.Next() {
			var m DbxrefMatch
			if err := rows.Scan(&m.Key.DB, &m.Key.Accession, &m.DBID, &m.DbxrefID, &m.CvtermID); err != nil {
				_ = rows.Close()
				return nil, err
			}
			out = append(out, m)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Tx) InsertDbxrefs(ctx context.Context, keys []gff.DbxrefKey) error {
	for _, chunk := range chunks(len(keys), 2) {
		part := keys[chunk.lo:chunk.hi]
		dbArgs := make([]any, 0, len(part))
		seen := make(map[string]bool)
		for _, k := range part {
			if !seen[k.DB] {
				seen[k.DB] = true
				dbArgs = append(dbArgs, k.DB)
			}
		}
		rows := strings.TrimSuffix(strings.Repeat("(?),", len(dbArgs)), ",")
		if _, err := t.tx.ExecContext(ctx, `INSERT OR IGNORE INTO db (name) VALUES `+rows, dbArgs...); err != nil {
			return fmt.Errorf("insert dbs: %w", err)
		}
		values, args := keyValues(part)
		if _, err := t.tx.ExecContext(ctx, `
			WITH k (db, acc) AS (VALUES `+values+`)
			INSERT OR IGNORE INTO dbxref (db_id, accession)
			SELECT d.db_id, k.acc FROM k JOIN db d ON d.name = k.db`, args...); err != nil {
			return fmt.Errorf("insert dbxrefs: %w", err)
		}
	}
	return nil
}

func (t *Tx) LinkFeatureDbxrefs(ctx context.Context, rows []FeatureDbxrefRow) error {
	return t.insertRows(ctx, "INSERT INTO feature_dbxref (feature_id, dbxref_id)", 2, len(rows),
		func(i int) []any { return []any{rows[i].FeatureID, rows[i].DbxrefID} })
}

func (t *Tx) FindSynonyms(ctx context.Context, names []string, typeID int64) ([]SynonymMatch, error) {
	var out []SynonymMatch
	for _, chunk := range chunks(len(names), 1) {
		args := []any{typeID}
		for _, n := range names[chunk.lo:chunk.hi] {
			args = append(args, n)
		}
		rows, err := t.tx.QueryContext(ctx,
			`SELECT synonym_id, name FROM synonym WHERE type_id = ? AND name IN (`+placeholders(chunk.n, 1)+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("find synonyms: %w", err)
		}
		for rows.Next() {
			var m SynonymMatch
			if err := rows.Scan(&m.ID, &m.Name); err != nil {
				_ = rows.Close()
				return nil, err
			}
			out = append(out, m)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Tx) InsertSynonyms(ctx context.Context, rows []SynonymRow) error {
	return t.insertRows(ctx, "INSERT INTO synonym (name, type_id)", 2, len(rows),
		func(i int) []any { return []any{rows[i].Name, rows[i].TypeID} })
}

func (t *Tx) LinkFeatureSynonyms(ctx context.Context, rows []FeatureSynonymRow) error {
	return t.insertRows(ctx, "INSERT INTO feature_synonym (feature_id, synonym_id)", 2, len(rows),
		func(i int) []any { return []any{rows[i].FeatureID, rows[i].SynonymID} })
}

func (t *Tx) LinkFeatureCvterms(ctx context.Context, rows []FeatureCvtermRow) error {
	return t.insertRows(ctx, "INSERT INTO feature_cvterm (feature_id, cvterm_id)", 2, len(rows),
		func(i int) []any { return []any{rows[i].FeatureID, rows[i].CvtermID} })
}

func (t *Tx) LinkAnalysis(ctx context.Context, rows []AnalysisRow) error {
	return t.insertRows(ctx, "INSERT INTO analysisfeature (feature_id, analysis_id, significance)", 3, len(rows),
		func(i int) []any {
			r := rows[i]
			var sig any
			if r.Significance != nil {
				sig = *r.Significance
			}
			return []any{r.FeatureID, r.AnalysisID, sig}
		})
}

func (t *Tx) UpdateFeatureSequence(ctx context.Context, id int64, residues []byte, md5 string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE feature SET residues = ?, seqlen = ?, md5checksum = ? WHERE feature_id = ?`,
		string(residues), len(residues), md5, id)
	if err != nil {
		return fmt.Errorf("update sequence of feature %d: %w", id, err)
	}
	return nil
}

// insertRows writes n rows of width columns as multi-row INSERT statements.
// Only batches wider than the bound-parameter limit are split.
func (t *Tx) insertRows(ctx context.Context, prefix string, width, n int, row func(i int) []any) error {
	for _, chunk := range chunks(n, width) {
		args := make([]any, 0, chunk.n*width)
		for i := chunk.lo; i < chunk.hi; i++ {
			args = append(args, row(i)...)
		}
		if _, err := t.tx.ExecContext(ctx, prefix+" VALUES "+placeholders(chunk.n, width), args...); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
	}
	return nil
}

type span struct{ lo, hi, n int }

func chunks(n, width int) []span {
	per := maxVariables / width
	var out []span
	for lo := 0; lo < n; lo += per {
		hi := min(lo+per, n)
		out = append(out, span{lo: lo, hi: hi, n: hi - lo})
	}
	return out
}

// placeholders returns n groups of width "?" markers, e.g. "(?,?),(?,?)".
// Width 1 yields a bare list suitable for IN clauses.
func placeholders(n, width int) string {
	var b strings.Builder
	group := "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"
	if width == 1 {
		group = "?"
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(group)
	}
	return b.String()
}

var _ FeatureStore = (*Tx)(nil)
