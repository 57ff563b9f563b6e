package ingest

import (
	"fmt"
	"strings"

	"github.com/agentic-research/gffload/internal/gff"
)

// Summary reports what one import did.
type Summary struct {
	RunID string

	Processed        int // feature records parsed, including match aggregates
	Inserted         int // new feature rows, including placeholders and inferred proteins
	Updated          int // features matched to existing rows and reloaded
	Placeholders     int // alignment targets not defined in the file
	Proteins         int
	LandmarksCreated int
	OrganismsCreated int
	Sequences        int
	Warnings         int
	CacheBytes       int64

	Skipped []gff.RowSkip
}

// Map returns the summary as a generic document for JSON output.
func (s *Summary) Map() map[string]any {
	skipped := make([]any, 0, len(s.Skipped))
	for _, sk := range s.Skipped {
		skipped = append(skipped, map[string]any{
			"line":       sk.Line,
			"uniquename": sk.Uniquename,
			"reason":     sk.Reason,
		})
	}
	return map[string]any{
		"run_id":            s.RunID,
		"processed":         s.Processed,
		"inserted":          s.Inserted,
		"updated":           s.Updated,
		"placeholders":      s.Placeholders,
		"proteins":          s.Proteins,
		"landmarks_created": s.LandmarksCreated,
		"organisms_created": s.OrganismsCreated,
		"sequences":         s.Sequences,
		"warnings":          s.Warnings,
		"cache_bytes":       s.CacheBytes,
		"skipped":           skipped,
	}
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "processed %d features: %d inserted, %d updated, %d skipped\n",
		s.Processed, s.Inserted, s.Updated, len(s.Skipped))
	fmt.Fprintf(&b, "placeholders %d, inferred proteins %d, landmarks created %d, sequences %d, warnings %d",
		s.Placeholders, s.Proteins, s.LandmarksCreated, s.Sequences, s.Warnings)
	for _, sk := range s.Skipped {
		fmt.Fprintf(&b, "\n  skipped line %d %s: %s", sk.Line, sk.Uniquename, sk.Reason)
	}
	return b.String()
}
