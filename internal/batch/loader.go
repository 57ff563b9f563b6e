// Package batch buffers rows and emits them as multi-row writes.
package batch

import (
	"context"
)

// FlushFunc performs one multi-row write. It must not retain rows.
type FlushFunc[T any] func(ctx context.Context, rows []T) error

// Loader accumulates rows and hands them to its FlushFunc once size rows are
// buffered, or on Flush. An empty buffer never reaches the FlushFunc.
type Loader[T any] struct {
	size  int
	rows  []T
	flush FlushFunc[T]

	// OnFlush, when set, is called after each successful write with the batch size.
	OnFlush func(n int)
}

func New[T any](size int, flush FlushFunc[T]) *Loader[T] {
	if size <= 0 {
		size = 1
	}
	return &Loader[T]{
		size:  size,
		rows:  make([]T, 0, size),
		flush: flush,
	}
}

// Push buffers row, writing the batch when it reaches the configured size.
func (l *Loader[T]) Push(ctx context.Context, row T) error {
	l.rows = append(l.rows, row)
	if len(l.rows) >= l.size {
		return l.Flush(ctx)
	}
	return nil
}

// Flush writes any buffered rows. Cancellation is honored between batches,
// never in the middle of a write.
func (l *Loader[T]) Flush(ctx context.Context) error {
	if len(l.rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := l.rows
	l.rows = make([]T, 0, l.size)
	if err := l.flush(ctx, rows); err != nil {
		return err
	}
	if l.OnFlush != nil {
		l.OnFlush(len(rows))
	}
	return nil
}
