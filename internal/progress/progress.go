// Package progress reports per-pass and per-batch import progress.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Reporter prints one line per pass. On a terminal the line is redrawn on
// every batch; elsewhere only the finished line is written.
type Reporter struct {
	w   io.Writer
	tty bool
	now func() time.Time

	pass    string
	total   int
	done    int
	started time.Time
}

// New returns a Reporter writing to w. Terminal redraws are enabled when w is
// a terminal file.
func New(w io.Writer) *Reporter {
	r := &Reporter{w: w, now: time.Now}
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		r.tty = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return r
}

// Discard returns a Reporter that prints nothing.
func Discard() *Reporter { return New(io.Discard) }

// Start begins a pass over total items. total may be zero when unknown.
func (r *Reporter) Start(pass string, total int) {
	if r == nil {
		return
	}
	if r.pass != "" {
		r.Finish()
	}
	r.pass, r.total, r.done = pass, total, 0
	r.started = r.now()
	r.redraw()
}

// Add records n more items processed in the current pass.
func (r *Reporter) Add(n int) {
	if r == nil || r.pass == "" {
		return
	}
	r.done += n
	r.redraw()
}

// Finish closes the current pass.
func (r *Reporter) Finish() {
	if r == nil || r.pass == "" {
		return
	}
	line := r.line() + " in " + r.now().Sub(r.started).Round(time.Millisecond).String()
	if r.tty {
		_, _ = fmt.Fprintf(r.w, "\r\033[K%s\n", line)
	} else {
		_, _ = fmt.Fprintln(r.w, line)
	}
	r.pass = ""
}

// Note prints a standalone line such as a byte count.
func (r *Reporter) Note(format string, args ...any) {
	if r == nil {
		return
	}
	_, _ = fmt.Fprintf(r.w, format+"\n", args...)
}

func (r *Reporter) redraw() {
	if r.tty {
		_, _ = fmt.Fprintf(r.w, "\r\033[K%s", r.line())
	}
}

func (r *Reporter) line() string {
	if r.total > 0 {
		pct := float64(r.done) * 100 / float64(r.total)
		return fmt.Sprintf("%-14s %s/%s (%.0f%%)", r.pass,
			humanize.Comma(int64(r.done)), humanize.Comma(int64(r.total)), pct)
	}
	return fmt.Sprintf("%-14s %s", r.pass, humanize.Comma(int64(r.done)))
}

// Bytes formats a size for Note.
func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
