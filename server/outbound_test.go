// File: server/outbound_test.go
// Author: momentics <momentics@gmail.com>

package server

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/pool"
)

func newTestQueue(t *testing.T, bufSize, maxPool int) (*OutboundQueue, *pool.BufferPool) {
	t.Helper()
	bp := pool.NewBufferPool(bufSize, maxPool, pool.NewMemoryTracker(0))
	t.Cleanup(bp.Close)
	return NewOutboundQueue(bp), bp
}

func TestOutboundFIFO(t *testing.T) {
	q, _ := newTestQueue(t, 64, 10)

	first, err := q.Enqueue([]byte("one"))
	require.NoError(t, err)
	assert.True(t, first)

	first, err = q.Enqueue([]byte("two"))
	require.NoError(t, err)
	assert.False(t, first)

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, "one", string(q.Front().Bytes()))
	// Front borrows without removing
	assert.Equal(t, "one", string(q.Front().Bytes()))

	q.Pop()
	assert.Equal(t, "two", string(q.Front().Bytes()))
	q.Pop()
	assert.True(t, q.Empty())
	assert.Nil(t, q.Front())
	q.Pop() // pop on empty is a no-op
}

func TestOutboundChunksLargePayload(t *testing.T) {
	q, bp := newTestQueue(t, 16, 10)

	payload := bytes.Repeat([]byte("0123456789"), 5) // 50 bytes -> 4 buffers of 16
	first, err := q.Enqueue(payload)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, 4, q.Len())
	assert.EqualValues(t, 4, bp.AcquiredCount())

	var got []byte
	for !q.Empty() {
		got = append(got, q.Front().Bytes()...)
		q.Pop()
	}
	assert.Equal(t, payload, got)
	assert.EqualValues(t, 0, bp.AcquiredCount())
}

func TestOutboundEnqueueAtomicOnExhaustion(t *testing.T) {
	q, bp := newTestQueue(t, 16, 2)

	// needs 3 buffers but the pool only holds 2: nothing must be enqueued
	_, err := q.Enqueue(bytes.Repeat([]byte("x"), 40))
	assert.ErrorIs(t, err, api.ErrQueueFull)
	assert.True(t, q.Empty())
	assert.EqualValues(t, 0, bp.AcquiredCount())

	// the pool is still usable afterwards
	first, err := q.Enqueue([]byte("fits"))
	require.NoError(t, err)
	assert.True(t, first)
}

func TestOutboundEmptyPayload(t *testing.T) {
	q, _ := newTestQueue(t, 16, 2)
	first, err := q.Enqueue(nil)
	require.NoError(t, err)
	assert.False(t, first)
	assert.True(t, q.Empty())
}

func TestOutboundClear(t *testing.T) {
	q, bp := newTestQueue(t, 32, 8)
	for i := 0; i < 5; i++ {
		_, err := q.Enqueue([]byte("msg"))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, q.Len())

	q.Clear()
	assert.True(t, q.Empty())
	assert.EqualValues(t, 0, bp.AcquiredCount())
}

func TestOutboundEnqueueBuffer(t *testing.T) {
	q, bp := newTestQueue(t, 32, 8)

	b := bp.Acquire()
	require.NotNil(t, b)
	require.True(t, b.Append([]byte("raw\n")))

	first, err := q.EnqueueBuffer(b)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, "raw\n", string(q.Front().Bytes()))
	q.Pop()
	assert.EqualValues(t, 0, bp.AcquiredCount())
}
