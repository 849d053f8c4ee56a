// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
//
// Bounded free-list of buffers of one capacity class.

package pool

import (
	"sync"
	"sync/atomic"
)

// BufferPool loans out buffers of a single capacity class. At most maxPool
// buffers exist at once across the free-list and loans; releasing into a
// full free-list destroys the buffer instead of growing past the bound.
type BufferPool struct {
	mu       sync.Mutex
	free     []*Buffer
	bufSize  int
	maxPool  int
	acquired int64
	tracker  *MemoryTracker
}

// NewBufferPool creates a pool of buffers of size bufSize, bounded by
// maxPool, and pre-populates PreallocCount buffers.
func NewBufferPool(bufSize, maxPool int, tracker *MemoryTracker) *BufferPool {
	if tracker == nil {
		tracker = DefaultTracker()
	}
	p := &BufferPool{
		bufSize: bufSize,
		maxPool: maxPool,
		tracker: tracker,
	}
	n := PreallocCount
	if n > maxPool {
		n = maxPool
	}
	for i := 0; i < n; i++ {
		p.free = append(p.free, NewBuffer(bufSize, tracker))
	}
	return p
}

// Acquire returns a reset buffer, allocating a fresh one while under the
// pool bound. Returns nil when every buffer is loaned out.
func (p *BufferPool) Acquire() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		b.Reset()
		atomic.AddInt64(&p.acquired, 1)
		return b
	}
	if atomic.LoadInt64(&p.acquired) < int64(p.maxPool) {
		atomic.AddInt64(&p.acquired, 1)
		return NewBuffer(p.bufSize, p.tracker)
	}
	return nil
}

// Release resets the buffer and pushes it onto the free-list, destroying it
// instead when the list is already full.
func (p *BufferPool) Release(b *Buffer) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	atomic.AddInt64(&p.acquired, -1)
	if len(p.free) < p.maxPool {
		b.Reset()
		p.free = append(p.free, b)
		return
	}
	b.Destroy()
}

// AcquiredCount returns the number of buffers currently loaned out.
func (p *BufferPool) AcquiredCount() int64 { return atomic.LoadInt64(&p.acquired) }

// FreeCount returns the free-list length.
func (p *BufferPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// BufferSize returns the pool's capacity class.
func (p *BufferPool) BufferSize() int { return p.bufSize }

// Close destroys every free buffer, returning their charges to the tracker.
// Outstanding loans keep their charge until released into a closed pool,
// which destroys them.
func (p *BufferPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.free {
		b.Destroy()
	}
	p.free = nil
	p.maxPool = 0
}
