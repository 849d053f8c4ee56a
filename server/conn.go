// File: server/conn.go
// Author: momentics <momentics@gmail.com>
//
// Per-socket connection state: read accumulator, newline framing, outbound
// queue, and the drain/flush handlers driven by the reactor.

package server

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/pool"
)

// frameDelimiter terminates every message on the wire. It is never part of
// the payload handed to the handler.
const frameDelimiter = '\n'

// Handler processes one complete frame received on a connection. It may be
// invoked from any worker thread and must be thread-safe. The frame slice
// is only valid for the duration of the call.
type Handler func(msg []byte, c *Conn)

const (
	connOpen int32 = iota
	connClosed
)

// Conn is one accepted socket. HandleRead and HandleWrite are serialized by
// a step mutex; the send path has its own lock so handlers may send from
// inside a read step.
type Conn struct {
	fd   int
	peer string

	stepMu    sync.Mutex // serializes HandleRead / HandleWrite
	readBuf   []byte
	readChunk []byte

	sendMu  sync.Mutex // guards scratch
	scratch *pool.Buffer

	outbound     *OutboundQueue
	outboundPool *pool.BufferPool

	state        int32
	lastActivity int64 // unix nanos

	tracker     *pool.MemoryTracker
	handler     Handler // shared server handler, fixed at construction
	armWrite    func(*Conn)
	disarmWrite func(*Conn)
	metrics     *serverMetrics
	closeOnce   sync.Once
}

func newConn(fd int, peer string, tracker *pool.MemoryTracker, handler Handler, arm, disarm func(*Conn), m *serverMetrics) *Conn {
	if tracker == nil {
		tracker = pool.DefaultTracker()
	}
	bp := pool.NewBufferPool(pool.MediumMessageSize, pool.MediumPoolSize, tracker)
	c := &Conn{
		tracker:      tracker,
		fd:           fd,
		peer:         peer,
		readBuf:      make([]byte, 0, pool.ReadBufferReserve),
		readChunk:    make([]byte, pool.ReadBufferReserve),
		scratch:      pool.NewBuffer(pool.LargeMessageSize, tracker),
		outboundPool: bp,
		handler:      handler,
		armWrite:     arm,
		disarmWrite:  disarm,
		metrics:      m,
	}
	c.outbound = NewOutboundQueue(bp)
	c.touch()
	return c
}

// Fd returns the socket descriptor; it identifies the client to the server.
func (c *Conn) Fd() int { return c.fd }

// Peer returns the remote address as ip:port.
func (c *Conn) Peer() string { return c.peer }

// Connected reports whether the connection is still open.
func (c *Conn) Connected() bool { return atomic.LoadInt32(&c.state) == connOpen }

// LastActivity returns the time of the last read or write progress.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivity))
}

func (c *Conn) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}

// HandleRead drains the socket until EAGAIN, appending into the read
// accumulator, then extracts complete frames. EOF and real errors close the
// connection after delivering whatever frames completed; an undelimited
// remainder at the cap closes it, but never swallows frames that already
// completed.
func (c *Conn) HandleRead() {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	if !c.Connected() {
		return
	}

	terminal := false
	for {
		n, err := unix.Read(c.fd, c.readChunk)
		if n > 0 {
			c.readBuf = append(c.readBuf, c.readChunk[:n]...)
			c.touch()
			if c.metrics != nil {
				c.metrics.bytesIn.Add(float64(n))
			}
			if len(c.readBuf) >= pool.MaxAccumulatedBytes {
				// deliver frames that already completed; the cap applies
				// to the undelimited remainder
				c.extractFrames()
				if len(c.readBuf) >= pool.MaxAccumulatedBytes {
					logrus.WithFields(logrus.Fields{
						"fd":    c.fd,
						"peer":  c.peer,
						"bytes": len(c.readBuf),
					}).Warn("read accumulator over cap, disconnecting")
					c.Close()
					return
				}
			}
			continue
		}
		if n == 0 && err == nil {
			// orderly EOF
			terminal = true
			break
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		logrus.WithFields(logrus.Fields{"fd": c.fd, "peer": c.peer}).
			WithError(err).Error("read failed, disconnecting")
		terminal = true
		break
	}

	c.extractFrames()
	if terminal {
		c.Close()
	}
}

// extractFrames delivers every complete frame in the accumulator, in wire
// order, skipping empty ones, then compacts the accumulator in place.
func (c *Conn) extractFrames() {
	start := 0
	for {
		i := bytes.IndexByte(c.readBuf[start:], frameDelimiter)
		if i < 0 {
			break
		}
		end := start + i
		if end > start {
			c.invokeHandler(c.readBuf[start:end])
		}
		start = end + 1
	}
	if start > 0 {
		n := copy(c.readBuf, c.readBuf[start:])
		c.readBuf = c.readBuf[:n]
	}
}

// invokeHandler shields the connection from handler panics.
func (c *Conn) invokeHandler(frame []byte) {
	if c.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{"fd": c.fd, "peer": c.peer, "panic": r}).
				Error("message handler panicked")
		}
	}()
	if c.metrics != nil {
		c.metrics.framesIn.Inc()
	}
	c.handler(frame, c)
}

// HandleWrite flushes the outbound queue until the socket reports EAGAIN or
// the queue empties. Completed buffers return to the pool; the head
// buffer's cursor advances in place across partial writes.
func (c *Conn) HandleWrite() {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	if !c.Connected() {
		return
	}

	for {
		b := c.outbound.Front()
		if b == nil {
			if c.disarmWrite != nil {
				c.disarmWrite(c)
				// a sender may have enqueued between the emptiness check
				// and the disarm; re-arm so that message is not stranded
				if !c.outbound.Empty() && c.armWrite != nil {
					c.armWrite(c)
				}
			}
			return
		}
		n, err := b.SendPartial(c.fd, b.Offset())
		if n > 0 {
			c.touch()
			if c.metrics != nil {
				c.metrics.bytesOut.Add(float64(n))
			}
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			logrus.WithFields(logrus.Fields{"fd": c.fd, "peer": c.peer}).
				WithError(err).Error("write failed, disconnecting")
			c.Close()
			return
		}
		if b.IsComplete() {
			c.outbound.Pop()
		}
	}
}

// SendMessage frames msg with the delimiter and enqueues it.
func (c *Conn) SendMessage(msg string) error {
	return c.SendBytes([]byte(msg))
}

// SendBytes formats payload || delimiter through the scratch buffer and
// enqueues the result. The message is dropped, with the failure surfaced,
// when it does not fit the scratch buffer or the pool is exhausted.
func (c *Conn) SendBytes(payload []byte) error {
	if !c.Connected() {
		return api.ErrConnClosed
	}
	if c.tracker.Exceeded() {
		return api.ErrMemoryExceeded
	}
	c.sendMu.Lock()
	if !c.Connected() {
		c.sendMu.Unlock()
		return api.ErrConnClosed
	}
	c.scratch.Reset()
	if !c.scratch.Append(payload) || !c.scratch.AppendByte(frameDelimiter) {
		c.sendMu.Unlock()
		return api.ErrMessageTooLarge
	}
	first, err := c.outbound.Enqueue(c.scratch.Bytes())
	c.sendMu.Unlock()
	if err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.framesOut.Inc()
	}
	if first && c.armWrite != nil {
		c.armWrite(c)
	}
	return nil
}

// SendRaw enqueues payload verbatim. The caller is responsible for the
// delimiter. Broadcast and direct sends use this path.
func (c *Conn) SendRaw(payload []byte) error {
	if !c.Connected() {
		return api.ErrConnClosed
	}
	if c.tracker.Exceeded() {
		return api.ErrMemoryExceeded
	}
	first, err := c.outbound.Enqueue(payload)
	if err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.framesOut.Inc()
	}
	if first && c.armWrite != nil {
		c.armWrite(c)
	}
	return nil
}

// AcquireBuffer loans a buffer from the connection's outbound pool for use
// with SendBuffer. Returns nil when the pool is exhausted.
func (c *Conn) AcquireBuffer() *pool.Buffer {
	return c.outboundPool.Acquire()
}

// SendBuffer enqueues a buffer obtained from AcquireBuffer without adding a
// delimiter; the payload must already be framed. Ownership moves to the
// queue. On error the buffer is returned to the pool.
func (c *Conn) SendBuffer(b *pool.Buffer) error {
	if !c.Connected() {
		c.outboundPool.Release(b)
		return api.ErrConnClosed
	}
	first, err := c.outbound.EnqueueBuffer(b)
	if err != nil {
		c.outboundPool.Release(b)
		return err
	}
	if first && c.armWrite != nil {
		c.armWrite(c)
	}
	return nil
}

// OutboundLen returns the number of buffers pending transmission.
func (c *Conn) OutboundLen() int { return c.outbound.Len() }

// PoolCounters reports the outbound pool's free-list length and the number
// of buffers currently loaned out.
func (c *Conn) PoolCounters() (free int, acquired int64) {
	return c.outboundPool.FreeCount(), c.outboundPool.AcquiredCount()
}

// Close is idempotent: it clears the outbound queue back to the pool,
// destroys the scratch slot, closes the socket and marks the connection
// disconnected. All further operations are no-ops.
func (c *Conn) Close() {
	if !atomic.CompareAndSwapInt32(&c.state, connOpen, connClosed) {
		return
	}
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.scratch.Destroy()
		c.sendMu.Unlock()

		c.outbound.Shutdown()
		c.outboundPool.Close()
		unix.Close(c.fd)
		logrus.WithFields(logrus.Fields{"fd": c.fd, "peer": c.peer}).Debug("connection closed")
	})
}
