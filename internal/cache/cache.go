// Package cache implements the disk-backed feature cache used during an import.
//
// Parsed features are appended to an arena file and addressed by opaque Refs;
// only a compact Entry per uniquename stays in memory. The arena is never
// rewritten: replacing a feature appends a fresh copy and marks the previous
// one orphaned.
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/gffload/internal/gff"
	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRecentSize is the number of decoded features kept in memory.
const DefaultRecentSize = 4096

// Ref is an opaque handle to a frame in the arena.
type Ref struct {
	off int64
	seq uint32
}

const noSeq = ^uint32(0)

// Entry is the in-memory index record for one uniquename.
type Entry struct {
	Uniquename  string
	Name        string
	Type        string
	OrganismID  int64
	Placeholder bool
	Skipped     bool

	// ID is the store id once the feature is matched or inserted.
	ID int64
	// NewName is set when the stored name differs from the parsed one.
	NewName string

	ref Ref
}

func (e *Entry) Ref() Ref { return e.ref }

// Ordinal is the entry's append sequence number, stable for the cache's lifetime.
func (e *Entry) Ordinal() uint32 { return e.ref.seq }

// Cache is an append-only feature store on a billy filesystem.
type Cache struct {
	fs   billy.Filesystem
	file billy.File
	path string
	size int64

	entries  []*Entry
	index    map[string]uint32
	orphaned *roaring.Bitmap
	recent   *lru.Cache[int64, *gff.Feature]
}

// Open creates a fresh arena under dir on fs. The arena is removed by Close.
func Open(fs billy.Filesystem, dir string, recentSize int) (*Cache, error) {
	if recentSize <= 0 {
		recentSize = DefaultRecentSize
	}
	recent, err := lru.New[int64, *gff.Feature](recentSize)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	f, err := fs.TempFile(dir, "gffload-"+runID.String()[:8]+"-")
	if err != nil {
		return nil, &gff.ResourceError{Op: "create feature cache", Err: err}
	}
	var id [8]byte
	copy(id[:], runID[:8])
	if err := writeArenaHeader(f, id); err != nil {
		_ = f.Close()
		_ = fs.Remove(f.Name())
		return nil, &gff.ResourceError{Op: "write feature cache header", Err: err}
	}

	return &Cache{
		fs:       fs,
		file:     f,
		path:     f.Name(),
		size:     ArenaHeaderSize,
		index:    make(map[string]uint32),
		orphaned: roaring.New(),
		recent:   recent,
	}, nil
}

func (c *Cache) write(kind byte, payload []byte) (int64, error) {
	buf := frame(kind, payload)
	off := c.size
	if _, err := c.file.Write(buf); err != nil {
		return 0, &gff.ResourceError{Op: "append to feature cache", Err: err}
	}
	c.size += int64(len(buf))
	return off, nil
}

// Append stores f and indexes it by uniquename. Appending a uniquename that is
// already indexed replaces it; the earlier copy is orphaned.
func (c *Cache) Append(f *gff.Feature) (Ref, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return Ref{}, fmt.Errorf("encode feature %s: %w", f.Uniquename, err)
	}
	off, err := c.write(kindFeature, data)
	if err != nil {
		return Ref{}, err
	}

	ref := Ref{off: off, seq: uint32(len(c.entries))}
	e := &Entry{
		Uniquename:  f.Uniquename,
		Name:        f.Name,
		Type:        f.Type,
		OrganismID:  f.OrganismID,
		Placeholder: f.Placeholder,
		Skipped:     f.Skipped,
		ref:         ref,
	}
	if prev, ok := c.index[f.Uniquename]; ok {
		c.orphaned.Add(prev)
	}
	c.index[f.Uniquename] = ref.seq
	c.entries = append(c.entries, e)
	return ref, nil
}

// Read decodes the feature at ref. Callers must not modify the result.
func (c *Cache) Read(ref Ref) (*gff.Feature, error) {
	if f, ok := c.recent.Get(ref.off); ok {
		return f, nil
	}
	payload, err := readFrame(c.file, ref.off, c.size, kindFeature)
	if err != nil {
		return nil, &gff.ResourceError{Op: "read feature cache", Err: err}
	}
	var f gff.Feature
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, &gff.ResourceError{Op: "decode feature cache", Err: err}
	}
	c.recent.Add(ref.off, &f)
	return &f, nil
}

// AppendBlob stores raw bytes, such as FASTA residues, outside the index.
func (c *Cache) AppendBlob(data []byte) (Ref, error) {
	off, err := c.write(kindBlob, data)
	if err != nil {
		return Ref{}, err
	}
	return Ref{off: off, seq: noSeq}, nil
}

// ReadBlob returns bytes stored by AppendBlob.
func (c *Cache) ReadBlob(ref Ref) ([]byte, error) {
	data, err := readFrame(c.file, ref.off, c.size, kindBlob)
	if err != nil {
		return nil, &gff.ResourceError{Op: "read sequence cache", Err: err}
	}
	return data, nil
}

// Lookup returns the live entry for a uniquename.
func (c *Cache) Lookup(uniquename string) (*Entry, bool) {
	seq, ok := c.index[uniquename]
	if !ok {
		return nil, false
	}
	return c.entries[seq], true
}

// At returns the live entry with the given ordinal.
func (c *Cache) At(ordinal uint32) (*Entry, bool) {
	if int(ordinal) >= len(c.entries) || c.orphaned.Contains(ordinal) {
		return nil, false
	}
	return c.entries[ordinal], true
}

// Has implements gff.Registry.
func (c *Cache) Has(uniquename string) bool {
	_, ok := c.index[uniquename]
	return ok
}

// IsPlaceholder implements gff.Registry.
func (c *Cache) IsPlaceholder(uniquename string) bool {
	e, ok := c.Lookup(uniquename)
	return ok && e.Placeholder
}

// Each calls fn for every live entry in append order.
func (c *Cache) Each(fn func(*Entry) error) error {
	for seq, e := range c.entries {
		if c.orphaned.Contains(uint32(seq)) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of live entries.
func (c *Cache) Len() int { return len(c.entries) - int(c.orphaned.GetCardinality()) }

// Orphaned returns the number of superseded entries.
func (c *Cache) Orphaned() int { return int(c.orphaned.GetCardinality()) }

// Size returns the arena size in bytes.
func (c *Cache) Size() int64 { return c.size }

// Close closes and removes the arena.
func (c *Cache) Close() error {
	c.recent.Purge()
	err := c.file.Close()
	if rmErr := c.fs.Remove(c.path); err == nil {
		err = rmErr
	}
	return err
}

var _ gff.Registry = (*Cache)(nil)
