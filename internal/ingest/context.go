package ingest

import (
	"strconv"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/gffload/internal/cache"
	"github.com/agentic-research/gffload/internal/gff"
	"github.com/agentic-research/gffload/internal/store"
)

const (
	relPartOf      = "part_of"
	relDerivesFrom = "derives_from"
	synonymType    = "exact"
	proteinType    = "polypeptide"
	regionType     = "region"
)

type landmark struct {
	name    string
	line    int
	id      int64
	pending bool // declared as a feature in this file; id known after insert
}

type typeKey struct {
	property bool
	name     string
}

// rankKey groups the children of one parent by relationship type. Proteins
// are ranked apart from part_of children, so an inferred protein never shifts
// the ranks of its parent's CDS.
type rankKey struct {
	parent  string
	derives bool
}

type rankedChild struct {
	start      int64
	uniquename string
}

// cdsSpan accumulates the CDS children of one parent for protein inference.
type cdsSpan struct {
	landmark   string
	line       int
	strand     int
	start      int64
	stop       int64
	startPhase int
	stopPhase  int
}

type reference struct {
	line int
	kind gff.ReferenceKind
	name string
}

type fastaRecord struct {
	id  string
	ref cache.Ref
}

// importContext holds every table built during one run. Nothing in it
// outlives Import.
type importContext struct {
	cache  *cache.Cache
	parser *gff.Parser

	regions       map[string]gff.SequenceRegion
	landmarks     map[string]*landmark
	landmarkOrder []string

	types        map[typeKey]int64
	propertyKeys []string
	seenProperty map[string]bool

	dbxrefs    map[gff.DbxrefKey]store.DbxrefMatch
	dbxrefKeys []gff.DbxrefKey
	termKeys   []gff.DbxrefKey

	synonyms     map[string]int64
	synonymNames []string

	organisms map[string]int64 // Genus:species -> id, 0 when absent from the store

	ranks     map[rankKey][]rankedChild
	rankOrder []rankKey

	cds        map[string]*cdsSpan
	cdsOrder   []string
	hasProtein map[string]bool

	references []reference
	renames    map[int64]string

	// Ordinal sets over cache entries.
	matched     *roaring.Bitmap
	inserted    *roaring.Bitmap
	withSynonym *roaring.Bitmap
	withDbxref  *roaring.Bitmap
	withTerm    *roaring.Bitmap
	withDerives *roaring.Bitmap
	withTarget  *roaring.Bitmap

	fasta   []fastaRecord
	summary *Summary
}

func newImportContext(c *cache.Cache, p *gff.Parser, runID string) *importContext {
	return &importContext{
		cache:        c,
		parser:       p,
		regions:      make(map[string]gff.SequenceRegion),
		landmarks:    make(map[string]*landmark),
		types:        make(map[typeKey]int64),
		seenProperty: make(map[string]bool),
		dbxrefs:      make(map[gff.DbxrefKey]store.DbxrefMatch),
		synonyms:     make(map[string]int64),
		organisms:    make(map[string]int64),
		ranks:        make(map[rankKey][]rankedChild),
		cds:          make(map[string]*cdsSpan),
		hasProtein:   make(map[string]bool),
		renames:      make(map[int64]string),
		matched:      roaring.New(),
		inserted:     roaring.New(),
		withSynonym:  roaring.New(),
		withDbxref:   roaring.New(),
		withTerm:     roaring.New(),
		withDerives:  roaring.New(),
		withTarget:   roaring.New(),
		summary:      &Summary{RunID: runID},
	}
}

func (ic *importContext) addLandmark(name string, line int) {
	if _, ok := ic.landmarks[name]; ok {
		return
	}
	ic.landmarks[name] = &landmark{name: name, line: line}
	ic.landmarkOrder = append(ic.landmarkOrder, name)
}

func (ic *importContext) addChild(k rankKey, f *gff.Feature) {
	if _, ok := ic.ranks[k]; !ok {
		ic.rankOrder = append(ic.rankOrder, k)
	}
	ic.ranks[k] = append(ic.ranks[k], rankedChild{start: f.Start, uniquename: f.Uniquename})
}

func (ic *importContext) addDbxref(k gff.DbxrefKey, term bool) {
	if _, ok := ic.dbxrefs[k]; ok {
		return
	}
	ic.dbxrefs[k] = store.DbxrefMatch{Key: k}
	if term {
		ic.termKeys = append(ic.termKeys, k)
	} else {
		ic.dbxrefKeys = append(ic.dbxrefKeys, k)
	}
}

// catalogue records everything later passes need to know about a parsed,
// non-skipped feature.
func (ic *importContext) catalogue(f *gff.Feature) {
	ic.addLandmark(f.Landmark, f.Line)

	for _, p := range f.Properties {
		if !ic.seenProperty[p.Key] {
			ic.seenProperty[p.Key] = true
			ic.propertyKeys = append(ic.propertyKeys, p.Key)
		}
	}
	for _, k := range f.Dbxrefs {
		ic.addDbxref(k, false)
	}
	for _, k := range f.Terms {
		ic.addDbxref(k, true)
	}
	for _, s := range f.Synonyms {
		if _, ok := ic.synonyms[s]; !ok {
			ic.synonyms[s] = 0
			ic.synonymNames = append(ic.synonymNames, s)
		}
	}

	protein := f.IsProtein()
	for _, p := range f.Parents {
		ic.addChild(rankKey{parent: p, derives: protein}, f)
		ic.references = append(ic.references, reference{line: f.Line, kind: gff.RefParent, name: p})
		if protein {
			ic.hasProtein[p] = true
		}
	}
	if f.DerivesFrom != "" {
		ic.references = append(ic.references, reference{line: f.Line, kind: gff.RefDerivesFrom, name: f.DerivesFrom})
		if protein {
			ic.hasProtein[f.DerivesFrom] = true
		}
	}

	if f.IsCDS() {
		phase, _ := strconv.Atoi(f.Phase)
		for _, p := range f.Parents {
			span, ok := ic.cds[p]
			if !ok {
				ic.cds[p] = &cdsSpan{
					landmark:   f.Landmark,
					line:       f.Line,
					strand:     f.Strand,
					start:      f.Start,
					stop:       f.Stop,
					startPhase: phase,
					stopPhase:  phase,
				}
				ic.cdsOrder = append(ic.cdsOrder, p)
				continue
			}
			if f.Start < span.start {
				span.start, span.startPhase = f.Start, phase
			}
			if f.Stop > span.stop {
				span.stop, span.stopPhase = f.Stop, phase
			}
		}
	}
}

// mark records which optional passes need to visit the entry at ordinal.
func (ic *importContext) mark(f *gff.Feature, ordinal uint32) {
	if len(f.Synonyms) > 0 {
		ic.withSynonym.Add(ordinal)
	}
	if len(f.Dbxrefs) > 0 {
		ic.withDbxref.Add(ordinal)
	}
	if len(f.Terms) > 0 {
		ic.withTerm.Add(ordinal)
	}
	if f.DerivesFrom != "" {
		ic.withDerives.Add(ordinal)
	}
	if f.Target != nil {
		ic.withTarget.Add(ordinal)
	}
}

// live reports whether an entry takes part in the load.
func live(e *cache.Entry) bool { return !e.Skipped && !e.Placeholder }

// eachFeature decodes every live, non-placeholder feature in file order.
func (ic *importContext) eachFeature(fn func(*cache.Entry, *gff.Feature) error) error {
	return ic.cache.Each(func(e *cache.Entry) error {
		if !live(e) {
			return nil
		}
		f, err := ic.cache.Read(e.Ref())
		if err != nil {
			return err
		}
		return fn(e, f)
	})
}

// eachMarked decodes the features whose ordinals are in set.
func (ic *importContext) eachMarked(set *roaring.Bitmap, fn func(*cache.Entry, *gff.Feature) error) error {
	it := set.Iterator()
	for it.HasNext() {
		e, ok := ic.cache.At(it.Next())
		if !ok || !live(e) {
			continue
		}
		f, err := ic.cache.Read(e.Ref())
		if err != nil {
			return err
		}
		if err := fn(e, f); err != nil {
			return err
		}
	}
	return nil
}
