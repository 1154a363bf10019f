package sse

import (
	"io"
	"sync/atomic"
	"time"
)

// IdleTimeoutReader wraps a stream and calls onIdle when no bytes have been
// read for the configured duration. onIdle typically cancels the context of
// the request that owns the stream, which unblocks the pending Read.
//
// A zero or negative duration disables the timer.
type IdleTimeoutReader struct {
	r     io.Reader
	d     time.Duration
	timer *time.Timer
	fired atomic.Bool
}

// NewIdleTimeoutReader starts the idle timer immediately.
func NewIdleTimeoutReader(r io.Reader, d time.Duration, onIdle func()) *IdleTimeoutReader {
	ir := &IdleTimeoutReader{r: r, d: d}
	if d > 0 {
		ir.timer = time.AfterFunc(d, func() {
			ir.fired.Store(true)
			onIdle()
		})
	}
	return ir
}

// Read reads from the underlying stream, resetting the idle timer whenever
// bytes arrive.
func (r *IdleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 && r.timer != nil && !r.fired.Load() {
		r.timer.Reset(r.d)
	}
	return n, err
}

// Fired reports whether the idle timeout elapsed.
func (r *IdleTimeoutReader) Fired() bool {
	return r.fired.Load()
}

// Stop disarms the timer. Safe to call more than once.
func (r *IdleTimeoutReader) Stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
}
