package api

import (
	"errors"
	"fmt"
	"regexp"
)

// DefaultBatchSize is the number of rows buffered before one multi-row write.
const DefaultBatchSize = 1000

// ImportConfig enumerates every option recognized by the GFF3 importer.
// It can be decoded from HCL, YAML or JSON; command-line flags override file values.
type ImportConfig struct {
	// OrganismID is the store organism every feature belongs to unless an
	// organism attribute says otherwise.
	OrganismID int64 `hcl:"organism_id,optional" yaml:"organism_id" json:"organism_id"`
	// AnalysisID links each loaded feature to an analysis. Zero disables the link pass.
	AnalysisID int64 `hcl:"analysis_id,optional" yaml:"analysis_id" json:"analysis_id"`

	// SkipProtein disables polypeptide inference for CDS-bearing transcripts.
	SkipProtein bool `hcl:"skip_protein,optional" yaml:"skip_protein" json:"skip_protein"`
	// CreateOrganism creates organisms named by organism attributes when missing.
	CreateOrganism bool `hcl:"create_organism,optional" yaml:"create_organism" json:"create_organism"`
	// CreateTarget creates alignment targets that are neither in the file nor the store.
	CreateTarget bool `hcl:"create_target,optional" yaml:"create_target" json:"create_target"`

	// LandmarkType is the type given to landmarks the importer has to create.
	LandmarkType string `hcl:"landmark_type,optional" yaml:"landmark_type" json:"landmark_type"`
	// AltIDAttr names an attribute used as the identifier when ID and Name are absent.
	AltIDAttr string `hcl:"alt_id_attr,optional" yaml:"alt_id_attr" json:"alt_id_attr"`

	// ReMRNA and ReProtein derive inferred protein names from transcript uniquenames.
	ReMRNA    string `hcl:"re_mrna,optional" yaml:"re_mrna" json:"re_mrna"`
	ReProtein string `hcl:"re_protein,optional" yaml:"re_protein" json:"re_protein"`

	// TargetOrganismID and TargetType fill in alignment target metadata the file omits.
	TargetOrganismID int64  `hcl:"target_organism_id,optional" yaml:"target_organism_id" json:"target_organism_id"`
	TargetType       string `hcl:"target_type,optional" yaml:"target_type" json:"target_type"`

	// StartLine skips feature lines before this 1-based line number.
	StartLine int `hcl:"start_line,optional" yaml:"start_line" json:"start_line"`
	// BatchSize bounds each multi-row write. Zero means DefaultBatchSize.
	BatchSize int `hcl:"batch_size,optional" yaml:"batch_size" json:"batch_size"`
	// CacheDir holds the temporary feature cache. Empty means the OS temp dir.
	CacheDir string `hcl:"cache_dir,optional" yaml:"cache_dir" json:"cache_dir"`

	// SourceDbxref adds a GFF_source:<source> cross-reference to every feature.
	SourceDbxref bool `hcl:"source_dbxref,optional" yaml:"source_dbxref" json:"source_dbxref"`
}

// Validate checks option combinations that cannot be caught by the decoders.
func (c *ImportConfig) Validate() error {
	if c.OrganismID <= 0 {
		return errors.New("organism_id is required")
	}
	if (c.ReMRNA == "") != (c.ReProtein == "") {
		return errors.New("re_mrna and re_protein must be set together")
	}
	if c.ReMRNA != "" {
		if _, err := regexp.Compile(c.ReMRNA); err != nil {
			return fmt.Errorf("re_mrna: %w", err)
		}
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative: %d", c.BatchSize)
	}
	if c.StartLine < 0 {
		return fmt.Errorf("start_line must not be negative: %d", c.StartLine)
	}
	return nil
}

// EffectiveBatchSize returns BatchSize, or DefaultBatchSize when unset.
func (c *ImportConfig) EffectiveBatchSize() int {
	if c.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}
