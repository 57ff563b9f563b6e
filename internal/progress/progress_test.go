package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)
	clock := time.Unix(0, 0)
	r.now = func() time.Time { return clock }

	r.Start("locations", 2500)
	r.Add(1000)
	r.Add(1500)
	clock = clock.Add(1500 * time.Millisecond)
	r.Start("relationships", 0)
	r.Add(12)
	r.Finish()
	r.Finish()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "2,500/2,500 (100%) in 1.5s")
	assert.Contains(t, lines[1], "relationships")
	assert.Contains(t, lines[1], "12 in 0s")
}

func TestReporter_NilSafe(t *testing.T) {
	var r *Reporter
	r.Start("x", 1)
	r.Add(1)
	r.Finish()
	r.Note("ignored")
}

func TestBytes(t *testing.T) {
	assert.Equal(t, "1.5 kB", Bytes(1500))
	assert.Equal(t, "0 B", Bytes(-1))
}
