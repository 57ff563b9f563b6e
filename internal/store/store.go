// Package store defines the feature store the importer writes to, and a
// SQLite implementation of it shaped after the Chado sequence module.
package store

import (
	"context"
	"errors"

	"github.com/agentic-research/gffload/internal/gff"
)

// ErrAmbiguous is returned when a lookup by name matches more than one feature.
var ErrAmbiguous = errors.New("ambiguous match")

// FeatureMatch is a stored feature returned by FindFeatures.
type FeatureMatch struct {
	ID         int64
	Uniquename string
	Name       string
	TypeID     int64
	OrganismID int64
}

type FeatureRow struct {
	OrganismID int64
	Name       string
	Uniquename string
	TypeID     int64
}

// LocationRow places a feature on a source feature. Phase is nil when unset.
type LocationRow struct {
	FeatureID    int64
	SrcFeatureID int64
	Fmin         int64
	Fmax         int64
	Strand       int
	Phase        *int
	Rank         int
}

type RelationshipRow struct {
	SubjectID int64
	ObjectID  int64
	TypeID    int64
	Rank      int
}

type PropertyRow struct {
	FeatureID int64
	TypeID    int64
	Value     string
	Rank      int
}

// DbxrefMatch reports what the store knows about one db:accession key.
// Zero ids mean the db, dbxref or cvterm does not exist.
type DbxrefMatch struct {
	Key      gff.DbxrefKey
	DBID     int64
	DbxrefID int64
	CvtermID int64
}

type FeatureDbxrefRow struct {
	FeatureID int64
	DbxrefID  int64
}

type SynonymMatch struct {
	ID   int64
	Name string
}

type SynonymRow struct {
	Name   string
	TypeID int64
}

type FeatureSynonymRow struct {
	FeatureID int64
	SynonymID int64
}

type FeatureCvtermRow struct {
	FeatureID int64
	CvtermID  int64
}

// AnalysisRow links a feature to an analysis. Significance is nil without a score.
type AnalysisRow struct {
	FeatureID    int64
	AnalysisID   int64
	Significance *float64
}

// FeatureStore is everything the importer needs from the backing store.
// Every Insert/Link method performs a single multi-row write.
type FeatureStore interface {
	FindType(ctx context.Context, name string, isProperty bool) (int64, bool, error)
	CreateType(ctx context.Context, name string, isProperty bool) (int64, error)

	FindOrganism(ctx context.Context, genus, species string) (int64, bool, error)
	CreateOrganism(ctx context.Context, genus, species string) (int64, error)

	// FindLandmark matches by uniquename, then by name. typeID 0 matches any type.
	FindLandmark(ctx context.Context, name string, organismID, typeID int64) (int64, bool, error)
	CreateLandmark(ctx context.Context, name string, typeID, organismID, seqlen int64) (int64, error)

	FindFeatures(ctx context.Context, uniquenames []string) ([]FeatureMatch, error)
	InsertFeatures(ctx context.Context, rows []FeatureRow) error
	UpdateFeatureNames(ctx context.Context, names map[int64]string) error
	DeleteFeatureAncillaryData(ctx context.Context, ids []int64) error

	InsertLocations(ctx context.Context, rows []LocationRow) error
	InsertRelationships(ctx context.Context, rows []RelationshipRow) error
	InsertProperties(ctx context.Context, rows []PropertyRow) error

	FindDbxrefs(ctx context.Context, keys []gff.DbxrefKey) ([]DbxrefMatch, error)
	// InsertDbxrefs creates missing dbs and dbxrefs; existing ones are left alone.
	InsertDbxrefs(ctx context.Context, keys []gff.DbxrefKey) error
	LinkFeatureDbxrefs(ctx context.Context, rows []FeatureDbxrefRow) error

	FindSynonyms(ctx context.Context, names []string, typeID int64) ([]SynonymMatch, error)
	InsertSynonyms(ctx context.Context, rows []SynonymRow) error
	LinkFeatureSynonyms(ctx context.Context, rows []FeatureSynonymRow) error

	LinkFeatureCvterms(ctx context.Context, rows []FeatureCvtermRow) error
	LinkAnalysis(ctx context.Context, rows []AnalysisRow) error

	UpdateFeatureSequence(ctx context.Context, id int64, residues []byte, md5 string) error
}
