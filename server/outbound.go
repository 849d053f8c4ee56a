// File: server/outbound.go
// Author: momentics <momentics@gmail.com>
//
// Per-connection FIFO of pooled buffers pending transmission. The head
// buffer is the one currently on the wire; its send cursor advances across
// partial writes until it completes and returns to the pool.

package server

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/pool"
)

// OutboundQueue holds messages waiting for socket writability. Payloads
// larger than one buffer are chunked across several; chunks of one Enqueue
// are admitted atomically so partial messages never reach the wire.
type OutboundQueue struct {
	mu     sync.Mutex
	fifo   *queue.Queue
	pool   *pool.BufferPool
	closed bool
}

// NewOutboundQueue creates a queue drawing from p.
func NewOutboundQueue(p *pool.BufferPool) *OutboundQueue {
	return &OutboundQueue{
		fifo: queue.New(),
		pool: p,
	}
}

// Enqueue copies data into pooled buffers and appends them in order. The
// returned first flag reports whether the queue was empty beforehand, which
// is the caller's signal to arm write interest. On pool exhaustion nothing
// is enqueued and api.ErrQueueFull is returned.
func (q *OutboundQueue) Enqueue(data []byte) (first bool, err error) {
	if len(data) == 0 {
		return false, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, api.ErrConnClosed
	}

	chunk := q.pool.BufferSize()
	need := (len(data) + chunk - 1) / chunk
	bufs := make([]*pool.Buffer, 0, need)
	for i := 0; i < need; i++ {
		b := q.pool.Acquire()
		if b == nil {
			for _, acquired := range bufs {
				q.pool.Release(acquired)
			}
			return false, api.ErrQueueFull
		}
		bufs = append(bufs, b)
	}
	for i, b := range bufs {
		lo := i * chunk
		hi := lo + chunk
		if hi > len(data) {
			hi = len(data)
		}
		b.Append(data[lo:hi])
	}
	first = q.fifo.Length() == 0
	for _, b := range bufs {
		q.fifo.Add(b)
	}
	return first, nil
}

// EnqueueBuffer appends an already-filled pooled buffer. Ownership moves to
// the queue; the buffer is released to this queue's pool after transmission.
func (q *OutboundQueue) EnqueueBuffer(b *pool.Buffer) (first bool, err error) {
	if b == nil || b.IsEmpty() {
		return false, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, api.ErrConnClosed
	}
	first = q.fifo.Length() == 0
	q.fifo.Add(b)
	return first, nil
}

// Front borrows the head buffer without removing it. Returns nil when empty.
func (q *OutboundQueue) Front() *pool.Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fifo.Length() == 0 {
		return nil
	}
	return q.fifo.Peek().(*pool.Buffer)
}

// Pop removes the head buffer and returns it to the pool.
func (q *OutboundQueue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fifo.Length() == 0 {
		return
	}
	b := q.fifo.Remove().(*pool.Buffer)
	q.pool.Release(b)
}

// Empty reports whether no message is pending.
func (q *OutboundQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fifo.Length() == 0
}

// Len returns the number of pending buffers.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fifo.Length()
}

// Clear returns every pending buffer to the pool.
func (q *OutboundQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearLocked()
}

func (q *OutboundQueue) clearLocked() {
	for q.fifo.Length() > 0 {
		q.pool.Release(q.fifo.Remove().(*pool.Buffer))
	}
}

// Shutdown clears the queue and refuses further enqueues. Terminal; used by
// the connection's close path so no buffer can slip in behind the clear.
func (q *OutboundQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.clearLocked()
}
