// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
//
// Fixed-capacity message buffer with an append cursor and a partial-send
// cursor. The backing array is allocated once and reused across messages;
// Reset never reallocates.

package pool

import "golang.org/x/sys/unix"

// Buffer owns a contiguous region of fixed capacity. Data occupies
// [0, size); the range [offset, size) is still pending transmission.
//
// Invariants: 0 <= offset <= size <= capacity.
type Buffer struct {
	data    []byte
	size    int
	off     int
	tracker *MemoryTracker
}

// NewBuffer allocates a buffer of the given capacity and charges it to the
// tracker (DefaultTracker when nil). The charge is returned by Destroy.
func NewBuffer(capacity int, tracker *MemoryTracker) *Buffer {
	if tracker == nil {
		tracker = DefaultTracker()
	}
	tracker.Allocate(int64(capacity))
	return &Buffer{
		data:    make([]byte, capacity),
		tracker: tracker,
	}
}

// Append copies p behind the current contents. It fails without mutating
// anything when p does not fit.
func (b *Buffer) Append(p []byte) bool {
	if b.size+len(p) > len(b.data) {
		return false
	}
	copy(b.data[b.size:], p)
	b.size += len(p)
	return true
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) bool {
	if b.size+1 > len(b.data) {
		return false
	}
	b.data[b.size] = c
	b.size++
	return true
}

// SendPartial writes the range [start, size) to the socket. On a short
// write of k bytes the send cursor moves to start+k. unix.EAGAIN is the
// normal exit of a flush loop; any other error is fatal for the caller's
// connection.
func (b *Buffer) SendPartial(fd int, start int) (int, error) {
	if start >= b.size {
		return 0, nil
	}
	n, err := unix.Write(fd, b.data[start:b.size])
	if n > 0 {
		b.off = start + n
	}
	return n, err
}

// IsComplete reports whether every filled byte has been sent.
func (b *Buffer) IsComplete() bool { return b.off >= b.size }

// IsEmpty reports whether the buffer holds no data.
func (b *Buffer) IsEmpty() bool { return b.size == 0 }

// Bytes returns the filled region. The slice aliases the backing array and
// is invalidated by Reset.
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// Size returns the filled length.
func (b *Buffer) Size() int { return b.size }

// Capacity returns the fixed capacity.
func (b *Buffer) Capacity() int { return len(b.data) }

// Remaining returns the free space behind the filled region.
func (b *Buffer) Remaining() int { return len(b.data) - b.size }

// Offset returns the send cursor.
func (b *Buffer) Offset() int { return b.off }

// Reset clears both cursors for reuse. The backing array is kept.
func (b *Buffer) Reset() {
	b.size = 0
	b.off = 0
}

// SplitAt moves the tail [pos, size) into a freshly allocated buffer of the
// same capacity and truncates this buffer to pos. Returns nil when pos is
// past the end.
func (b *Buffer) SplitAt(pos int) *Buffer {
	if pos >= b.size {
		return nil
	}
	tail := NewBuffer(len(b.data), b.tracker)
	if !tail.Append(b.data[pos:b.size]) {
		tail.Destroy()
		return nil
	}
	b.size = pos
	return tail
}

// Destroy returns the buffer's charge to the tracker. The buffer must not
// be used afterwards. Pools call this when discarding; owners of loose
// buffers (scratch slots, SplitAt tails) call it themselves.
func (b *Buffer) Destroy() {
	if b.data == nil {
		return
	}
	b.tracker.Deallocate(int64(len(b.data)))
	b.data = nil
	b.size = 0
	b.off = 0
}
