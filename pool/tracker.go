// File: pool/tracker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide accounting of pooled buffer memory.

package pool

import (
	"sync"
	"sync/atomic"
)

// MemoryTracker counts bytes held by live pooled buffers. Current moves both
// ways; peak only grows. The ceiling is advisory: Allocate never fails,
// Exceeded is consumed by higher layers to refuse work.
type MemoryTracker struct {
	current int64
	peak    int64
	limit   int64
}

// NewMemoryTracker creates a tracker with the given byte ceiling.
// limit <= 0 falls back to MaxTotalMemoryBytes.
func NewMemoryTracker(limit int64) *MemoryTracker {
	if limit <= 0 {
		limit = MaxTotalMemoryBytes
	}
	return &MemoryTracker{limit: limit}
}

// Allocate charges n bytes and raises the peak if the new total exceeds it.
// The peak update retries on contention.
func (t *MemoryTracker) Allocate(n int64) {
	cur := atomic.AddInt64(&t.current, n)
	for {
		peak := atomic.LoadInt64(&t.peak)
		if cur <= peak {
			return
		}
		if atomic.CompareAndSwapInt64(&t.peak, peak, cur) {
			return
		}
	}
}

// Deallocate releases n bytes.
func (t *MemoryTracker) Deallocate(n int64) {
	atomic.AddInt64(&t.current, -n)
}

// Current returns the bytes currently held by live buffers.
func (t *MemoryTracker) Current() int64 {
	return atomic.LoadInt64(&t.current)
}

// Peak returns the highest value Current has reached.
func (t *MemoryTracker) Peak() int64 {
	return atomic.LoadInt64(&t.peak)
}

// Limit returns the configured ceiling.
func (t *MemoryTracker) Limit() int64 {
	return atomic.LoadInt64(&t.limit)
}

// Exceeded reports whether current usage is above the ceiling.
func (t *MemoryTracker) Exceeded() bool {
	return t.Current() > t.Limit()
}

// Reset zeroes both counters.
func (t *MemoryTracker) Reset() {
	atomic.StoreInt64(&t.current, 0)
	atomic.StoreInt64(&t.peak, 0)
}

var (
	defaultOnce    sync.Once
	defaultTracker *MemoryTracker
)

// DefaultTracker returns the process-wide tracker so all pools charge the
// same ceiling instead of fragmenting accounting.
func DefaultTracker() *MemoryTracker {
	defaultOnce.Do(func() {
		defaultTracker = NewMemoryTracker(MaxTotalMemoryBytes)
	})
	return defaultTracker
}
