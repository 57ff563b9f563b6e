package gff

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Attributes is the ordered multimap decoded from column 9.
type Attributes = orderedmap.OrderedMap[string, []string]

// DbxrefKey identifies a cross-reference or ontology term as db:accession.
type DbxrefKey struct {
	DB        string `json:"db"`
	Accession string `json:"accession"`
}

func (k DbxrefKey) String() string { return k.DB + ":" + k.Accession }

// ParseDbxrefKey splits "db:accession" at the first colon.
func ParseDbxrefKey(s string) (DbxrefKey, error) {
	db, acc, ok := strings.Cut(s, ":")
	if !ok || db == "" || acc == "" {
		return DbxrefKey{}, fmt.Errorf("%q is not of the form db:accession", s)
	}
	return DbxrefKey{DB: db, Accession: acc}, nil
}

// Target describes the aligned sequence named by a Target attribute.
// Coordinates are normalized like the feature's own.
type Target struct {
	Name     string `json:"name"`
	Start    int64  `json:"start"`
	Stop     int64  `json:"stop"`
	Strand   int    `json:"strand"`
	Phase    string `json:"phase,omitempty"`
	Organism string `json:"organism,omitempty"` // Genus:species from target_organism
	Type     string `json:"type,omitempty"`
}

// Property is one non-reserved attribute value. Rank counts repeated values
// of the same key from 0.
type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Rank  int    `json:"rank"`
}

// Feature is one parsed GFF3 record.
type Feature struct {
	Line     int      `json:"line"`
	Landmark string   `json:"landmark"`
	Source   string   `json:"source"`
	Type     string   `json:"type"`
	Start    int64    `json:"start"` // 0-based fmin
	Stop     int64    `json:"stop"`  // fmax
	Score    *float64 `json:"score,omitempty"`
	Strand   int      `json:"strand"`
	Phase    string   `json:"phase,omitempty"`

	Attrs *Attributes `json:"attrs,omitempty"`

	Uniquename  string      `json:"uniquename"`
	Name        string      `json:"name"`
	Parents     []string    `json:"parents,omitempty"`
	Synonyms    []string    `json:"synonyms,omitempty"`
	Dbxrefs     []DbxrefKey `json:"dbxrefs,omitempty"`
	Terms       []DbxrefKey `json:"terms,omitempty"`
	Target      *Target     `json:"target,omitempty"`
	DerivesFrom string      `json:"derives_from,omitempty"`
	Properties  []Property  `json:"properties,omitempty"`

	Organism   string `json:"organism,omitempty"` // Genus:species from the organism attribute
	OrganismID int64  `json:"organism_id"`

	Skipped     bool `json:"skipped,omitempty"`
	Placeholder bool `json:"placeholder,omitempty"`
}

// Parent returns the first parent uniquename, or "".
func (f *Feature) Parent() string {
	if len(f.Parents) == 0 {
		return ""
	}
	return f.Parents[0]
}

// IsProtein reports whether the feature is a polypeptide.
func (f *Feature) IsProtein() bool { return IsProteinType(f.Type) }

// IsCDS reports whether the feature is a coding segment.
func (f *Feature) IsCDS() bool { return f.Type == "cds" }

// IsProteinType reports whether a lower-cased type names a polypeptide.
func IsProteinType(t string) bool { return t == "polypeptide" || t == "protein" }

// IsMatchType reports whether a type is an alignment aggregate (match, cDNA_match, ...).
func IsMatchType(t string) bool {
	return strings.HasSuffix(strings.ToLower(t), "match")
}

// SplitOrganism splits "Genus:species".
func SplitOrganism(s string) (genus, species string, err error) {
	genus, species, ok := strings.Cut(s, ":")
	if !ok || genus == "" || species == "" {
		return "", "", fmt.Errorf("organism %q is not of the form Genus:species", s)
	}
	return genus, species, nil
}
