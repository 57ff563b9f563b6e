package gff

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGFF = `##gff-version 3
##sequence-region chr1 1 1000
# a comment

chr1	src	gene	1	100	.	+	.	ID=g1
chr1	src	mRNA	1	100	.	+	.	ID=m1;Parent=g1
##FASTA
>chr1 assembled
ACGT
acgt
>est1
GG TT
`

func TestScanner_LinesAndFasta(t *testing.T) {
	s := NewScanner(strings.NewReader(sampleGFF))

	require.True(t, s.Scan())
	assert.Equal(t, KindSequenceRegion, s.Kind())
	assert.Equal(t, SequenceRegion{ID: "chr1", Start: 1, End: 1000}, s.Region())
	assert.Equal(t, 2, s.LineNumber())

	require.True(t, s.Scan())
	assert.Equal(t, KindFeature, s.Kind())
	assert.Equal(t, 5, s.LineNumber())
	assert.True(t, strings.HasSuffix(s.Text(), "ID=g1"))

	require.True(t, s.Scan())
	assert.Equal(t, 6, s.LineNumber())

	require.False(t, s.Scan())
	require.NoError(t, s.Err())
	require.True(t, s.InFasta())

	seq, err := s.NextSequence()
	require.NoError(t, err)
	assert.Equal(t, "chr1", seq.ID)
	assert.Equal(t, "ACGTacgt", string(seq.Residues))

	seq, err = s.NextSequence()
	require.NoError(t, err)
	assert.Equal(t, "est1", seq.ID)
	assert.Equal(t, "GGTT", string(seq.Residues))

	_, err = s.NextSequence()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestScanner_NoFasta(t *testing.T) {
	s := NewScanner(strings.NewReader("chr1\tsrc\tgene\t1\t2\t.\t+\t.\tID=a\n"))
	require.True(t, s.Scan())
	require.False(t, s.Scan())
	assert.False(t, s.InFasta())
	_, err := s.NextSequence()
	assert.ErrorIs(t, err, io.EOF)
}

func TestScanner_BadSequenceRegion(t *testing.T) {
	s := NewScanner(strings.NewReader("##sequence-region chr1 1\n"))
	require.False(t, s.Scan())
	var fe *FormatError
	require.ErrorAs(t, s.Err(), &fe)
	assert.Equal(t, 1, fe.Line)
}
