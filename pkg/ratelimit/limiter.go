// Package ratelimit provides per-key request admission for the relay.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the length of a fixed counting window.
	DefaultWindow = 60 * time.Second

	// DefaultMaxRequests is the number of requests admitted per key per window.
	DefaultMaxRequests = 20
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(key string) bool
}

// FixedWindow admits at most MaxRequests per key per window. The first request
// for a key opens its window; once the window has elapsed the next request
// opens a fresh one.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[string]*window
	length  time.Duration
	max     int
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *FixedWindow) {
		f.now = now
	}
}

// NewFixedWindow creates a limiter. Non-positive arguments select the defaults.
func NewFixedWindow(length time.Duration, maxRequests int, opts ...Option) *FixedWindow {
	if length <= 0 {
		length = DefaultWindow
	}
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}

	f := &FixedWindow{
		windows: make(map[string]*window),
		length:  length,
		max:     maxRequests,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Allow records a request for key and reports whether it is within the limit.
// The check and the increment happen under one lock, so concurrent requests
// for the same key never over-admit.
func (f *FixedWindow) Allow(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	w, ok := f.windows[key]
	if !ok || now.Sub(w.start) >= f.length {
		f.windows[key] = &window{start: now, count: 1}
		return true
	}

	if w.count >= f.max {
		return false
	}
	w.count++
	return true
}

// Cleanup removes windows that have expired.
func (f *FixedWindow) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for key, w := range f.windows {
		if now.Sub(w.start) >= f.length {
			delete(f.windows, key)
		}
	}
}

// Window returns the window length.
func (f *FixedWindow) Window() time.Duration {
	return f.length
}

// Len reports the number of tracked keys.
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

// RunCleanup evicts expired windows every interval until stop is closed.
func (f *FixedWindow) RunCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.Cleanup()
		case <-stop:
			return
		}
	}
}
