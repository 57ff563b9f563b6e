// Package ingest loads GFF3 annotation files into a feature store.
//
// An import streams the file once through the line parser into a disk-backed
// feature cache, then runs a fixed sequence of passes over the cache, each
// writing to the store in batches. Every pass completes before the next one
// starts.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"

	"github.com/agentic-research/gffload/api"
	"github.com/agentic-research/gffload/internal/batch"
	"github.com/agentic-research/gffload/internal/cache"
	"github.com/agentic-research/gffload/internal/gff"
	"github.com/agentic-research/gffload/internal/progress"
	"github.com/agentic-research/gffload/internal/store"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
)

// Importer runs GFF3 imports against a FeatureStore. The caller owns the
// store's transaction: a failed Import leaves partial writes for the caller
// to roll back.
type Importer struct {
	store    store.FeatureStore
	cfg      api.ImportConfig
	log      *log.Logger
	progress *progress.Reporter
	fs       billy.Filesystem
	reMRNA   *regexp.Regexp
}

type Option func(*Importer)

func WithLogger(l *log.Logger) Option {
	return func(im *Importer) { im.log = l }
}

func WithProgress(p *progress.Reporter) Option {
	return func(im *Importer) { im.progress = p }
}

// WithFilesystem sets the filesystem holding the feature cache.
// The default is the OS filesystem rooted at cfg.CacheDir.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(im *Importer) { im.fs = fs }
}

func New(st store.FeatureStore, cfg api.ImportConfig, opts ...Option) (*Importer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	im := &Importer{
		store: st,
		cfg:   cfg,
		log:   log.New(os.Stderr, "gffload: ", log.LstdFlags),
	}
	if cfg.ReMRNA != "" {
		im.reMRNA = regexp.MustCompile(cfg.ReMRNA)
	}
	for _, opt := range opts {
		opt(im)
	}
	if im.progress == nil {
		im.progress = progress.Discard()
	}
	if im.fs == nil {
		dir := cfg.CacheDir
		if dir == "" {
			dir = os.TempDir()
		}
		im.fs = osfs.New(dir)
	}
	return im, nil
}

// ImportFile imports the GFF3 file at path.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &gff.ResourceError{Op: "open " + path, Err: err}
	}
	defer func() { _ = f.Close() }()
	return im.Import(ctx, f)
}

type pass struct {
	name string
	run  func(context.Context, *importContext) error
}

// Import reads a GFF3 stream and loads it into the store.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Summary, error) {
	c, err := cache.Open(im.fs, "", 0)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.Close(); err != nil {
			im.log.Printf("remove feature cache: %v", err)
		}
	}()

	parser := gff.NewParser(gff.ParserOptions{
		AltIDAttr:    im.cfg.AltIDAttr,
		TargetType:   im.cfg.TargetType,
		SourceDbxref: im.cfg.SourceDbxref,
	}, c)
	ic := newImportContext(c, parser, uuid.NewString())

	passes := []pass{
		{"parse", func(ctx context.Context, ic *importContext) error { return im.parse(ctx, ic, r) }},
		{"references", im.validateReferences},
		{"types", im.resolveTypes},
		{"landmarks", im.resolveLandmarks},
		{"proteins", im.inferProteins},
		{"lookup", im.lookupExisting},
		{"purge", im.purge},
		{"insert", im.insertFeatures},
		{"names", im.updateNames},
		{"locations", im.loadLocations},
		{"relationships", im.loadRelationships},
		{"properties", im.loadProperties},
		{"synonyms", im.loadSynonyms},
		{"dbxrefs", im.loadDbxrefs},
		{"ontology", im.loadTerms},
		{"derives_from", im.loadDerivesFrom},
		{"targets", im.loadTargets},
		{"analysis", im.linkAnalysis},
		{"sequences", im.loadSequences},
	}
	for _, p := range passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := p.run(ctx, ic)
		im.progress.Finish()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
	}

	ic.summary.Inserted = int(ic.inserted.GetCardinality())
	ic.summary.Updated = int(ic.matched.GetCardinality())
	ic.summary.CacheBytes = c.Size()
	_ = c.Each(func(e *cache.Entry) error {
		if e.Placeholder {
			ic.summary.Placeholders++
		}
		return nil
	})
	im.progress.Note("feature cache: %s", progress.Bytes(c.Size()))
	return ic.summary, nil
}

func (im *Importer) warnf(ic *importContext, format string, args ...any) {
	ic.summary.Warnings++
	im.log.Printf("warning: "+format, args...)
}

// newLoader returns a batch loader that ticks the progress reporter.
func newLoader[T any](im *Importer, flush batch.FlushFunc[T]) *batch.Loader[T] {
	l := batch.New[T](im.cfg.EffectiveBatchSize(), flush)
	l.OnFlush = im.progress.Add
	return l
}

const parseTick = 1000

func (im *Importer) parse(ctx context.Context, ic *importContext, r io.Reader) error {
	im.progress.Start("parse", 0)
	sc := gff.NewScanner(r)
	lines := 0
	for sc.Scan() {
		if sc.Kind() == gff.KindSequenceRegion {
			// Directives are honored even before start_line.
			reg := sc.Region()
			ic.regions[reg.ID] = reg
			ic.addLandmark(reg.ID, sc.LineNumber())
			continue
		}
		if sc.LineNumber() < im.cfg.StartLine {
			continue
		}
		feats, err := ic.parser.ParseLine(sc.LineNumber(), sc.Text())
		if err != nil {
			return err
		}
		if err := im.accept(ctx, ic, feats); err != nil {
			return err
		}
		if lines++; lines%parseTick == 0 {
			im.progress.Add(parseTick)
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	im.progress.Add(lines % parseTick)

	if !sc.InFasta() {
		return nil
	}
	for {
		seq, err := sc.NextSequence()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		ref, err := ic.cache.AppendBlob(seq.Residues)
		if err != nil {
			return err
		}
		ic.fasta = append(ic.fasta, fastaRecord{id: seq.ID, ref: ref})
	}
}

// accept resolves organisms for the records one line produced, catalogues
// them and appends them to the cache. The record carrying a Target is last.
func (im *Importer) accept(ctx context.Context, ic *importContext, feats []*gff.Feature) error {
	owner := feats[len(feats)-1]
	for _, f := range feats {
		if f.Placeholder {
			continue
		}
		if err := im.assignOrganism(ctx, ic, f); err != nil {
			return err
		}
	}

	for _, f := range feats {
		if f.Placeholder {
			if owner.Skipped {
				continue
			}
			if err := im.assignTargetOrganism(ctx, ic, f, owner); err != nil {
				return err
			}
		} else {
			ic.summary.Processed++
			if !f.Skipped {
				ic.catalogue(f)
			}
		}
		if _, err := ic.cache.Append(f); err != nil {
			return err
		}
		if !f.Skipped && !f.Placeholder {
			e, _ := ic.cache.Lookup(f.Uniquename)
			ic.mark(f, e.Ordinal())
		}
	}
	return nil
}

// organism resolves Genus:species against the store, creating it when
// configured to. ok is false when the organism does not exist.
func (im *Importer) organism(ctx context.Context, ic *importContext, name string) (int64, bool, error) {
	if id, ok := ic.organisms[name]; ok {
		return id, id != 0, nil
	}
	genus, species, err := gff.SplitOrganism(name)
	if err != nil {
		return 0, false, err
	}
	id, ok, err := im.store.FindOrganism(ctx, genus, species)
	if err != nil {
		return 0, false, err
	}
	if !ok && im.cfg.CreateOrganism {
		if id, err = im.store.CreateOrganism(ctx, genus, species); err != nil {
			return 0, false, err
		}
		ok = true
		ic.summary.OrganismsCreated++
	}
	ic.organisms[name] = id
	return id, ok, nil
}

func (im *Importer) assignOrganism(ctx context.Context, ic *importContext, f *gff.Feature) error {
	if f.Organism == "" {
		f.OrganismID = im.cfg.OrganismID
		return nil
	}
	id, ok, err := im.organism(ctx, ic, f.Organism)
	if err != nil {
		return err
	}
	if !ok {
		f.Skipped = true
		skip := gff.RowSkip{
			Line:       f.Line,
			Uniquename: f.Uniquename,
			Reason:     fmt.Sprintf("organism %s not found and create_organism is off", f.Organism),
		}
		ic.summary.Skipped = append(ic.summary.Skipped, skip)
		im.log.Printf("line %d: skipping %s: %s", skip.Line, skip.Uniquename, skip.Reason)
		return nil
	}
	f.OrganismID = id
	return nil
}

func (im *Importer) assignTargetOrganism(ctx context.Context, ic *importContext, ph, owner *gff.Feature) error {
	switch {
	case ph.Organism != "":
		id, ok, err := im.organism(ctx, ic, ph.Organism)
		if err != nil {
			return err
		}
		if !ok {
			return &gff.ReferenceError{Line: ph.Line, Kind: gff.RefOrganism, Name: ph.Organism,
				Reason: "target organism not found and create_organism is off"}
		}
		ph.OrganismID = id
	case im.cfg.TargetOrganismID > 0:
		ph.OrganismID = im.cfg.TargetOrganismID
	default:
		ph.OrganismID = owner.OrganismID
	}
	return nil
}

// validateReferences fails on any Parent or Derives_from naming a feature
// that is not in the file, before anything is written.
func (im *Importer) validateReferences(_ context.Context, ic *importContext) error {
	im.progress.Start("references", len(ic.references))
	for _, ref := range ic.references {
		if !ic.cache.Has(ref.name) {
			return &gff.ReferenceError{Line: ref.line, Kind: ref.kind, Name: ref.name, Reason: "no feature with this ID in the file"}
		}
	}
	im.progress.Add(len(ic.references))
	return nil
}

// typeID returns the term id for a type name, creating the term when create
// is set. ok is false only when the term is absent and create is not set.
func (im *Importer) typeID(ctx context.Context, ic *importContext, name string, property, create bool) (int64, bool, error) {
	k := typeKey{property: property, name: name}
	if id, ok := ic.types[k]; ok {
		return id, true, nil
	}
	id, ok, err := im.store.FindType(ctx, name, property)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		if !create {
			return 0, false, nil
		}
		if id, err = im.store.CreateType(ctx, name, property); err != nil {
			return 0, false, err
		}
	}
	ic.types[k] = id
	return id, true, nil
}

func (im *Importer) resolveTypes(ctx context.Context, ic *importContext) error {
	var names []typeKey
	seen := make(map[typeKey]bool)
	add := func(k typeKey) {
		if !seen[k] {
			seen[k] = true
			names = append(names, k)
		}
	}
	add(typeKey{name: relPartOf})
	add(typeKey{name: relDerivesFrom})
	_ = ic.cache.Each(func(e *cache.Entry) error {
		if live(e) {
			add(typeKey{name: e.Type})
		}
		return nil
	})
	for _, key := range ic.propertyKeys {
		add(typeKey{property: true, name: key})
	}
	if len(ic.synonymNames) > 0 {
		add(typeKey{property: true, name: synonymType})
	}

	im.progress.Start("types", len(names))
	for _, k := range names {
		if _, _, err := im.typeID(ctx, ic, k.name, k.property, true); err != nil {
			return err
		}
		im.progress.Add(1)
	}
	return nil
}

func (im *Importer) resolveLandmarks(ctx context.Context, ic *importContext) error {
	var landmarkType int64
	if im.cfg.LandmarkType != "" {
		var err error
		if landmarkType, _, err = im.typeID(ctx, ic, normalizeType(im.cfg.LandmarkType), false, true); err != nil {
			return err
		}
	}

	im.progress.Start("landmarks", len(ic.landmarkOrder))
	for _, name := range ic.landmarkOrder {
		lm := ic.landmarks[name]
		im.progress.Add(1)

		id, ok, err := im.store.FindLandmark(ctx, name, im.cfg.OrganismID, landmarkType)
		if errors.Is(err, store.ErrAmbiguous) {
			return &gff.ReferenceError{Line: lm.line, Kind: gff.RefLandmark, Name: name, Reason: err.Error()}
		}
		if err != nil {
			return err
		}
		if ok {
			lm.id = id
			continue
		}
		if e, ok := ic.cache.Lookup(name); ok && live(e) {
			lm.pending = true
			continue
		}

		region, declared := ic.regions[name]
		switch {
		case declared:
			typeID := landmarkType
			if typeID == 0 {
				if typeID, _, err = im.typeID(ctx, ic, regionType, false, true); err != nil {
					return err
				}
			}
			lm.id, err = im.store.CreateLandmark(ctx, name, typeID, im.cfg.OrganismID, region.End-region.Start+1)
		case landmarkType != 0:
			lm.id, err = im.store.CreateLandmark(ctx, name, landmarkType, im.cfg.OrganismID, 0)
		default:
			return &gff.ReferenceError{Line: lm.line, Kind: gff.RefLandmark, Name: name,
				Reason: "not in the store, not declared by ##sequence-region and no landmark_type configured"}
		}
		if err != nil {
			return err
		}
		ic.summary.LandmarksCreated++
	}
	return nil
}
