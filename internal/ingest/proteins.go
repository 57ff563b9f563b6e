package ingest

import (
	"context"

	"github.com/agentic-research/gffload/internal/gff"
)

// inferProteins synthesizes a polypeptide for every parent with CDS children
// and no declared protein. The span is the union of the CDS, trimmed by the
// phase of the CDS at the translation start.
func (im *Importer) inferProteins(ctx context.Context, ic *importContext) error {
	if im.cfg.SkipProtein {
		return nil
	}
	im.progress.Start("proteins", len(ic.cdsOrder))
	for _, parent := range ic.cdsOrder {
		im.progress.Add(1)
		if ic.hasProtein[parent] {
			continue
		}
		pe, ok := ic.cache.Lookup(parent)
		if !ok || !live(pe) {
			continue
		}

		span := ic.cds[parent]
		start, stop := span.start, span.stop
		if span.strand < 0 {
			stop -= int64(span.stopPhase)
		} else {
			start += int64(span.startPhase)
		}

		uniquename, name := im.proteinNames(parent, pe.Name)
		if ic.cache.Has(uniquename) {
			im.warnf(ic, "line %d: not inferring protein for %s: %s already exists", span.line, parent, uniquename)
			continue
		}

		f := &gff.Feature{
			Line:       span.line,
			Landmark:   span.landmark,
			Source:     ".",
			Type:       proteinType,
			Start:      start,
			Stop:       stop,
			Strand:     span.strand,
			Uniquename: uniquename,
			Name:       name,
			Parents:    []string{parent},
			OrganismID: pe.OrganismID,
		}
		if _, err := ic.cache.Append(f); err != nil {
			return err
		}
		ic.addChild(rankKey{parent: parent, derives: true}, f)
		ic.summary.Proteins++
	}

	if ic.summary.Proteins > 0 {
		if _, _, err := im.typeID(ctx, ic, proteinType, false, true); err != nil {
			return err
		}
	}
	return nil
}

// proteinNames derives the inferred protein's uniquename and name from its
// parent, via re_mrna/re_protein when the pattern matches.
func (im *Importer) proteinNames(parent, parentName string) (string, string) {
	if im.reMRNA != nil && im.reMRNA.MatchString(parent) {
		u := im.reMRNA.ReplaceAllString(parent, im.cfg.ReProtein)
		return u, u
	}
	return parent + "-protein", parentName + "-protein"
}
