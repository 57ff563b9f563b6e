package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/agentic-research/gffload/internal/cache"
	"github.com/agentic-research/gffload/internal/gff"
	"github.com/agentic-research/gffload/internal/store"
)

func normalizeType(name string) string { return strings.ToLower(name) }

// match assigns store ids to entries by uniquename, type and organism.
// Placeholders without a type match on uniquename and organism alone.
// On the first lookup, matched features are recorded for the purge pass and
// queued for renaming when the stored name differs.
func (im *Importer) match(ctx context.Context, ic *importContext, entries []*cache.Entry, first bool) error {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Uniquename)
	}
	found, err := im.store.FindFeatures(ctx, names)
	if err != nil {
		return err
	}
	byName := make(map[string][]store.FeatureMatch, len(found))
	for _, m := range found {
		byName[m.Uniquename] = append(byName[m.Uniquename], m)
	}

	for _, e := range entries {
		var typeID int64
		if e.Type != "" {
			id, ok, err := im.typeID(ctx, ic, e.Type, false, false)
			if err != nil {
				return err
			}
			if !ok {
				continue // no stored feature can carry an unknown type
			}
			typeID = id
		}

		var hit *store.FeatureMatch
		for i, m := range byName[e.Uniquename] {
			if m.OrganismID != e.OrganismID || (typeID != 0 && m.TypeID != typeID) {
				continue
			}
			if hit != nil {
				return &gff.ReferenceError{Kind: gff.RefTarget, Name: e.Uniquename,
					Reason: "matches more than one stored feature; set target_type"}
			}
			hit = &byName[e.Uniquename][i]
		}
		if hit == nil {
			continue
		}
		e.ID = hit.ID
		if !first || e.Placeholder {
			continue
		}
		ic.matched.Add(e.Ordinal())
		if hit.Name != e.Name {
			e.NewName = e.Name
			ic.renames[hit.ID] = e.Name
		}
	}
	return nil
}

func (im *Importer) lookupExisting(ctx context.Context, ic *importContext) error {
	im.progress.Start("lookup", ic.cache.Len())
	l := newLoader(im, func(ctx context.Context, entries []*cache.Entry) error {
		return im.match(ctx, ic, entries, true)
	})
	err := ic.cache.Each(func(e *cache.Entry) error {
		if e.Skipped {
			return nil
		}
		return l.Push(ctx, e)
	})
	if err != nil {
		return err
	}
	return l.Flush(ctx)
}

// purge removes the ancillary rows of every matched feature so the passes
// below regenerate them from the file.
func (im *Importer) purge(ctx context.Context, ic *importContext) error {
	im.progress.Start("purge", int(ic.matched.GetCardinality()))
	l := newLoader(im, im.store.DeleteFeatureAncillaryData)
	it := ic.matched.Iterator()
	for it.HasNext() {
		e, ok := ic.cache.At(it.Next())
		if !ok {
			continue
		}
		if err := l.Push(ctx, e.ID); err != nil {
			return err
		}
	}
	return l.Flush(ctx)
}

func (im *Importer) insertFeatures(ctx context.Context, ic *importContext) error {
	im.progress.Start("insert", 0)
	l := newLoader(im, func(ctx context.Context, entries []*cache.Entry) error {
		rows := make([]store.FeatureRow, 0, len(entries))
		for _, e := range entries {
			typeID, _, err := im.typeID(ctx, ic, e.Type, false, true)
			if err != nil {
				return err
			}
			rows = append(rows, store.FeatureRow{
				OrganismID: e.OrganismID,
				Name:       e.Name,
				Uniquename: e.Uniquename,
				TypeID:     typeID,
			})
		}
		if err := im.store.InsertFeatures(ctx, rows); err != nil {
			return err
		}
		if err := im.match(ctx, ic, entries, false); err != nil {
			return err
		}
		for _, e := range entries {
			if e.ID == 0 {
				return fmt.Errorf("feature %s was inserted but cannot be found", e.Uniquename)
			}
			ic.inserted.Add(e.Ordinal())
		}
		return nil
	})

	err := ic.cache.Each(func(e *cache.Entry) error {
		if e.Skipped || e.ID != 0 {
			return nil
		}
		if e.Placeholder {
			if err := im.checkTarget(ic, e); err != nil {
				return err
			}
		}
		return l.Push(ctx, e)
	})
	if err != nil {
		return err
	}
	if err := l.Flush(ctx); err != nil {
		return err
	}

	for _, name := range ic.landmarkOrder {
		lm := ic.landmarks[name]
		if !lm.pending {
			continue
		}
		e, _ := ic.cache.Lookup(name)
		lm.id, lm.pending = e.ID, false
	}
	return nil
}

// checkTarget decides whether an unmatched placeholder may be created.
func (im *Importer) checkTarget(ic *importContext, e *cache.Entry) error {
	reason := ""
	switch {
	case !im.cfg.CreateTarget:
		reason = "not in the file or the store and create_target is off"
	case e.Type == "":
		reason = "not in the file or the store and its type is unknown; set target_type"
	default:
		return nil
	}
	line := 0
	if f, err := ic.cache.Read(e.Ref()); err == nil {
		line = f.Line
	}
	return &gff.ReferenceError{Line: line, Kind: gff.RefTarget, Name: e.Uniquename, Reason: reason}
}

func (im *Importer) updateNames(ctx context.Context, ic *importContext) error {
	ids := make([]int64, 0, len(ic.renames))
	for id := range ic.renames {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	im.progress.Start("names", len(ids))
	l := newLoader(im, func(ctx context.Context, batch []int64) error {
		names := make(map[int64]string, len(batch))
		for _, id := range batch {
			names[id] = ic.renames[id]
		}
		return im.store.UpdateFeatureNames(ctx, names)
	})
	for _, id := range ids {
		if err := l.Push(ctx, id); err != nil {
			return err
		}
	}
	return l.Flush(ctx)
}

func phasePtr(phase string) *int {
	if phase == "" {
		return nil
	}
	p, err := strconv.Atoi(phase)
	if err != nil {
		return nil
	}
	return &p
}

func (im *Importer) loadLocations(ctx context.Context, ic *importContext) error {
	im.progress.Start("locations", ic.cache.Len())
	l := newLoader(im, im.store.InsertLocations)
	err := ic.eachFeature(func(e *cache.Entry, f *gff.Feature) error {
		if f.Uniquename == f.Landmark {
			return nil
		}
		lm, ok := ic.landmarks[f.Landmark]
		if !ok || lm.id == 0 {
			return &gff.ReferenceError{Line: f.Line, Kind: gff.RefLandmark, Name: f.Landmark, Reason: "landmark has no id"}
		}
		return l.Push(ctx, store.LocationRow{
			FeatureID:    e.ID,
			SrcFeatureID: lm.id,
			Fmin:         f.Start,
			Fmax:         f.Stop,
			Strand:       f.Strand,
			Phase:        phasePtr(f.Phase),
		})
	})
	if err != nil {
		return err
	}
	return l.Flush(ctx)
}

// loadRelationships ranks each parent's children by start coordinate, ties
// kept in file order, and links them: part_of for ordinary children,
// derives_from for proteins.
func (im *Importer) loadRelationships(ctx context.Context, ic *importContext) error {
	partOf := ic.types[typeKey{name: relPartOf}]
	derivesFrom := ic.types[typeKey{name: relDerivesFrom}]

	im.progress.Start("relationships", 0)
	l := newLoader(im, im.store.InsertRelationships)
	for _, k := range ic.rankOrder {
		children := ic.ranks[k]
		parent, ok := ic.cache.Lookup(k.parent)
		if !ok || parent.Skipped || parent.ID == 0 {
			im.warnf(ic, "dropping %d relationships to skipped feature %s", len(children), k.parent)
			continue
		}
		relType := partOf
		if k.derives {
			relType = derivesFrom
		}

		sort.SliceStable(children, func(i, j int) bool { return children[i].start < children[j].start })
		for rank, c := range children {
			child, ok := ic.cache.Lookup(c.uniquename)
			if !ok || child.ID == 0 {
				continue
			}
			err := l.Push(ctx, store.RelationshipRow{
				SubjectID: child.ID,
				ObjectID:  parent.ID,
				TypeID:    relType,
				Rank:      rank,
			})
			if err != nil {
				return err
			}
		}
	}
	return l.Flush(ctx)
}

func (im *Importer) loadProperties(ctx context.Context, ic *importContext) error {
	if len(ic.propertyKeys) == 0 {
		return nil
	}
	im.progress.Start("properties", 0)
	l := newLoader(im, im.store.InsertProperties)
	err := ic.eachFeature(func(e *cache.Entry, f *gff.Feature) error {
		for _, p := range f.Properties {
			row := store.PropertyRow{
				FeatureID: e.ID,
				TypeID:    ic.types[typeKey{property: true, name: p.Key}],
				Value:     p.Value,
				Rank:      p.Rank,
			}
			if err := l.Push(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return l.Flush(ctx)
}

func (im *Importer) loadSynonyms(ctx context.Context, ic *importContext) error {
	if len(ic.synonymNames) == 0 {
		return nil
	}
	typeID := ic.types[typeKey{property: true, name: synonymType}]
	im.progress.Start("synonyms", len(ic.synonymNames))

	find := func(names []string) error {
		l := newLoader(im, func(ctx context.Context, batch []string) error {
			found, err := im.store.FindSynonyms(ctx, batch, typeID)
			for _, m := range found {
				ic.synonyms[m.Name] = m.ID
			}
			return err
		})
		for _, n := range names {
			if err := l.Push(ctx, n); err != nil {
				return err
			}
		}
		return l.Flush(ctx)
	}
	if err := find(ic.synonymNames); err != nil {
		return err
	}

	var missing []string
	ins := newLoader(im, im.store.InsertSynonyms)
	for _, n := range ic.synonymNames {
		if ic.synonyms[n] != 0 {
			continue
		}
		missing = append(missing, n)
		if err := ins.Push(ctx, store.SynonymRow{Name: n, TypeID: typeID}); err != nil {
			return err
		}
	}
	if err := ins.Flush(ctx); err != nil {
		return err
	}
	if err := find(missing); err != nil {
		return err
	}

	link := newLoader(im, im.store.LinkFeatureSynonyms)
	err := ic.eachMarked(ic.withSynonym, func(e *cache.Entry, f *gff.Feature) error {
		seen := make(map[int64]bool, len(f.Synonyms))
		for _, s := range f.Synonyms {
			id := ic.synonyms[s]
			if id == 0 || seen[id] {
				continue
			}
			seen[id] = true
			if err := link.Push(ctx, store.FeatureSynonymRow{FeatureID: e.ID, SynonymID: id}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return link.Flush(ctx)
}

// findDbxrefs refreshes the DbxrefTable entries for keys.
func (im *Importer) findDbxrefs(ctx context.Context, ic *importContext, keys []gff.DbxrefKey) error {
	l := newLoader(im, func(ctx context.Context, batch []gff.DbxrefKey) error {
		found, err := im.store.FindDbxrefs(ctx, batch)
		for _, m := range found {
			ic.dbxrefs[m.Key] = m
		}
		return err
	})
	for _, k := range keys {
		if err := l.Push(ctx, k); err != nil {
			return err
		}
	}
	return l.Flush(ctx)
}

func (im *Importer) loadDbxrefs(ctx context.Context, ic *importContext) error {
	if len(ic.dbxrefKeys) == 0 {
		return nil
	}
	im.progress.Start("dbxrefs", len(ic.dbxrefKeys))
	if err := im.findDbxrefs(ctx, ic, ic.dbxrefKeys); err != nil {
		return err
	}

	var missing []gff.DbxrefKey
	for _, k := range ic.dbxrefKeys {
		if ic.dbxrefs[k].DbxrefID == 0 {
			missing = append(missing, k)
		}
	}
	ins := newLoader(im, im.store.InsertDbxrefs)
	for _, k := range missing {
		if err := ins.Push(ctx, k); err != nil {
			return err
		}
	}
	if err := ins.Flush(ctx); err != nil {
		return err
	}
	if err := im.findDbxrefs(ctx, ic, missing); err != nil {
		return err
	}

	link := newLoader(im, im.store.LinkFeatureDbxrefs)
	err := ic.eachMarked(ic.withDbxref, func(e *cache.Entry, f *gff.Feature) error {
		seen := make(map[int64]bool, len(f.Dbxrefs))
		for _, k := range f.Dbxrefs {
			id := ic.dbxrefs[k].DbxrefID
			if id == 0 || seen[id] {
				continue
			}
			seen[id] = true
			if err := link.Push(ctx, store.FeatureDbxrefRow{FeatureID: e.ID, DbxrefID: id}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return link.Flush(ctx)
}

// loadTerms links Ontology_term values to existing cvterms. Terms are never
// created; unknown ones are reported once and skipped.
func (im *Importer) loadTerms(ctx context.Context, ic *importContext) error {
	if len(ic.termKeys) == 0 {
		return nil
	}
	im.progress.Start("ontology", len(ic.termKeys))
	if err := im.findDbxrefs(ctx, ic, ic.termKeys); err != nil {
		return err
	}
	for _, k := range ic.termKeys {
		if ic.dbxrefs[k].CvtermID == 0 {
			im.warnf(ic, "ontology term %s has no cvterm; not linked", k)
		}
	}

	link := newLoader(im, im.store.LinkFeatureCvterms)
	err := ic.eachMarked(ic.withTerm, func(e *cache.Entry, f *gff.Feature) error {
		seen := make(map[int64]bool, len(f.Terms))
		for _, k := range f.Terms {
			id := ic.dbxrefs[k].CvtermID
			if id == 0 || seen[id] {
				continue
			}
			seen[id] = true
			if err := link.Push(ctx, store.FeatureCvtermRow{FeatureID: e.ID, CvtermID: id}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return link.Flush(ctx)
}

func (im *Importer) loadDerivesFrom(ctx context.Context, ic *importContext) error {
	typeID := ic.types[typeKey{name: relDerivesFrom}]
	im.progress.Start("derives_from", int(ic.withDerives.GetCardinality()))
	l := newLoader(im, im.store.InsertRelationships)
	err := ic.eachMarked(ic.withDerives, func(e *cache.Entry, f *gff.Feature) error {
		if slices.Contains(f.Parents, f.DerivesFrom) {
			return nil // already linked by the relationship pass
		}
		obj, ok := ic.cache.Lookup(f.DerivesFrom)
		if !ok || obj.ID == 0 {
			im.warnf(ic, "line %d: %s derives from skipped feature %s", f.Line, f.Uniquename, f.DerivesFrom)
			return nil
		}
		return l.Push(ctx, store.RelationshipRow{SubjectID: e.ID, ObjectID: obj.ID, TypeID: typeID})
	})
	if err != nil {
		return err
	}
	return l.Flush(ctx)
}

// loadTargets adds the rank-1 location placing each alignment on its target.
func (im *Importer) loadTargets(ctx context.Context, ic *importContext) error {
	im.progress.Start("targets", int(ic.withTarget.GetCardinality()))
	l := newLoader(im, im.store.InsertLocations)
	err := ic.eachMarked(ic.withTarget, func(e *cache.Entry, f *gff.Feature) error {
		t := f.Target
		te, ok := ic.cache.Lookup(t.Name)
		if !ok || te.ID == 0 {
			im.warnf(ic, "line %d: target %s of %s was skipped", f.Line, t.Name, f.Uniquename)
			return nil
		}
		return l.Push(ctx, store.LocationRow{
			FeatureID:    e.ID,
			SrcFeatureID: te.ID,
			Fmin:         t.Start,
			Fmax:         t.Stop,
			Strand:       t.Strand,
			Phase:        phasePtr(t.Phase),
			Rank:         1,
		})
	})
	if err != nil {
		return err
	}
	return l.Flush(ctx)
}

func (im *Importer) linkAnalysis(ctx context.Context, ic *importContext) error {
	if im.cfg.AnalysisID == 0 {
		return nil
	}
	im.progress.Start("analysis", ic.cache.Len())
	l := newLoader(im, im.store.LinkAnalysis)
	err := ic.eachFeature(func(e *cache.Entry, f *gff.Feature) error {
		return l.Push(ctx, store.AnalysisRow{FeatureID: e.ID, AnalysisID: im.cfg.AnalysisID, Significance: f.Score})
	})
	if err != nil {
		return err
	}
	return l.Flush(ctx)
}

// loadSequences attaches inline FASTA residues to the feature or landmark
// of the same name.
func (im *Importer) loadSequences(ctx context.Context, ic *importContext) error {
	if len(ic.fasta) == 0 {
		return nil
	}
	im.progress.Start("sequences", len(ic.fasta))
	for _, rec := range ic.fasta {
		if err := ctx.Err(); err != nil {
			return err
		}
		im.progress.Add(1)

		var id int64
		if e, ok := ic.cache.Lookup(rec.id); ok && !e.Skipped {
			id = e.ID
		} else if lm, ok := ic.landmarks[rec.id]; ok {
			id = lm.id
		}
		if id == 0 {
			im.warnf(ic, "sequence %s matches no feature or landmark; skipped", rec.id)
			continue
		}

		residues, err := ic.cache.ReadBlob(rec.ref)
		if err != nil {
			return err
		}
		sum := md5.Sum(residues)
		if err := im.store.UpdateFeatureSequence(ctx, id, residues, hex.EncodeToString(sum[:])); err != nil {
			return err
		}
		ic.summary.Sequences++
	}
	return nil
}
