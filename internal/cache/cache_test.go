package cache

import (
	"errors"
	"testing"

	"github.com/agentic-research/gffload/internal/gff"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFeature(uniquename string) *gff.Feature {
	attrs, _ := gff.ParseAttributes("ID=" + uniquename + ";Note=first,second")
	return &gff.Feature{
		Line:       3,
		Landmark:   "chr1",
		Source:     "src",
		Type:       "gene",
		Start:      9,
		Stop:       20,
		Strand:     -1,
		Attrs:      attrs,
		Uniquename: uniquename,
		Name:       uniquename,
		Properties: []gff.Property{{Key: "Note", Value: "first"}, {Key: "Note", Value: "second", Rank: 1}},
		OrganismID: 7,
	}
}

func TestCache_AppendRead(t *testing.T) {
	c, err := Open(memfs.New(), "/tmp", 2)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ref, err := c.Append(sampleFeature("g1"))
	require.NoError(t, err)
	_, err = c.Append(sampleFeature("g2"))
	require.NoError(t, err)
	_, err = c.Append(sampleFeature("g3"))
	require.NoError(t, err)

	// g1 has been evicted from the recent cache and is decoded from the arena.
	f, err := c.Read(ref)
	require.NoError(t, err)
	assert.Equal(t, "g1", f.Uniquename)
	assert.Equal(t, int64(9), f.Start)
	assert.Equal(t, -1, f.Strand)
	assert.Len(t, f.Properties, 2)

	note, ok := f.Attrs.Get("Note")
	require.True(t, ok)
	assert.Equal(t, []string{"first", "second"}, note)

	e, ok := c.Lookup("g2")
	require.True(t, ok)
	assert.Equal(t, int64(7), e.OrganismID)
	assert.Equal(t, uint32(1), e.Ordinal())
	assert.True(t, c.Has("g3"))
	assert.False(t, c.Has("g4"))
	assert.Equal(t, 3, c.Len())
}

func TestCache_ReplaceOrphansPrevious(t *testing.T) {
	c, err := Open(memfs.New(), "/", 0)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ph := &gff.Feature{Uniquename: "est1", Name: "est1", Type: "est", Placeholder: true}
	oldRef, err := c.Append(ph)
	require.NoError(t, err)
	assert.True(t, c.IsPlaceholder("est1"))

	full := sampleFeature("est1")
	newRef, err := c.Append(full)
	require.NoError(t, err)
	assert.False(t, c.IsPlaceholder("est1"))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Orphaned())

	// The orphaned copy is still readable, it is just no longer indexed.
	old, err := c.Read(oldRef)
	require.NoError(t, err)
	assert.True(t, old.Placeholder)

	e, ok := c.Lookup("est1")
	require.True(t, ok)
	assert.Equal(t, newRef, e.Ref())

	_, ok = c.At(0)
	assert.False(t, ok, "orphaned ordinals are not live")
	at, ok := c.At(1)
	require.True(t, ok)
	assert.Same(t, e, at)

	var seen []string
	require.NoError(t, c.Each(func(e *Entry) error {
		seen = append(seen, e.Uniquename)
		return nil
	}))
	assert.Equal(t, []string{"est1"}, seen)
}

func TestCache_InvalidRef(t *testing.T) {
	c, err := Open(memfs.New(), "/", 0)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, err = c.Read(Ref{})
	var re *gff.ResourceError
	require.True(t, errors.As(err, &re))

	blob, err := c.AppendBlob([]byte("ACGT"))
	require.NoError(t, err)
	_, err = c.Read(blob)
	assert.ErrorAs(t, err, &re, "a blob is not a feature frame")

	data, err := c.ReadBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, "ACGT", string(data))

	_, err = c.Read(Ref{off: c.Size() + 100})
	assert.ErrorAs(t, err, &re)
}

func TestCache_CloseRemovesArena(t *testing.T) {
	dir := t.TempDir()
	fs := osfs.New(dir)
	c, err := Open(fs, "", 0)
	require.NoError(t, err)
	_, err = c.Append(sampleFeature("g1"))
	require.NoError(t, err)

	f, err := fs.Open(c.path)
	require.NoError(t, err)
	h, err := ReadArenaHeader(f)
	require.NoError(t, err)
	assert.Equal(t, uint32(ArenaMagic), h.Magic)
	_ = f.Close()

	require.NoError(t, c.Close())
	_, err = fs.Stat(c.path)
	assert.Error(t, err)
}
