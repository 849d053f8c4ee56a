// File: pool/buffer_test.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBufferAppendBounds(t *testing.T) {
	tr := NewMemoryTracker(0)
	b := NewBuffer(8, tr)
	defer b.Destroy()

	require.True(t, b.Append([]byte("hello")))
	assert.Equal(t, 5, b.Size())
	assert.Equal(t, 3, b.Remaining())

	// does not fit: nothing mutates
	assert.False(t, b.Append([]byte("worlds")))
	assert.Equal(t, 5, b.Size())

	require.True(t, b.Append([]byte("abc")))
	assert.Equal(t, 0, b.Remaining())
	assert.False(t, b.AppendByte('x'))
	assert.Equal(t, "helloabc", string(b.Bytes()))
}

func TestBufferReset(t *testing.T) {
	b := NewBuffer(16, NewMemoryTracker(0))
	defer b.Destroy()

	b.Append([]byte("data"))
	b.Reset()
	assert.True(t, b.IsEmpty())
	assert.Zero(t, b.Offset())
	assert.Equal(t, 16, b.Capacity())
}

func TestBufferTrackerCharge(t *testing.T) {
	tr := NewMemoryTracker(0)
	b := NewBuffer(1024, tr)
	assert.EqualValues(t, 1024, tr.Current())
	b.Destroy()
	assert.Zero(t, tr.Current())
	// Destroy is safe to repeat
	b.Destroy()
	assert.Zero(t, tr.Current())
}

func TestBufferSplitAt(t *testing.T) {
	tr := NewMemoryTracker(0)
	b := NewBuffer(32, tr)
	defer b.Destroy()
	b.Append([]byte("headtail"))

	tail := b.SplitAt(4)
	require.NotNil(t, tail)
	defer tail.Destroy()

	assert.Equal(t, "head", string(b.Bytes()))
	assert.Equal(t, "tail", string(tail.Bytes()))
	assert.Equal(t, b.Capacity(), tail.Capacity())
	assert.EqualValues(t, 64, tr.Current())

	assert.Nil(t, b.SplitAt(4))  // pos == size
	assert.Nil(t, b.SplitAt(99)) // past the end
}

func socketpair(t *testing.T) (local, remote int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestBufferSendPartialComplete(t *testing.T) {
	local, remote := socketpair(t)

	b := NewBuffer(4096, NewMemoryTracker(0))
	defer b.Destroy()
	payload := bytes.Repeat([]byte("x"), 4096)
	require.True(t, b.Append(payload))

	n, err := b.SendPartial(local, 0)
	require.NoError(t, err)
	require.Equal(t, 4096, n)
	assert.True(t, b.IsComplete())

	var got []byte
	chunk := make([]byte, 8192)
	for len(got) < len(payload) {
		rn, err := unix.Read(remote, chunk)
		require.NoError(t, err)
		got = append(got, chunk[:rn]...)
	}
	assert.Equal(t, payload, got)
}

func TestBufferSendPartialAgain(t *testing.T) {
	local, _ := socketpair(t)

	// fill the socket until it pushes back
	junk := bytes.Repeat([]byte("j"), 64<<10)
	for {
		if _, err := unix.Write(local, junk); err != nil {
			require.ErrorIs(t, err, unix.EAGAIN)
			break
		}
	}

	b := NewBuffer(1024, NewMemoryTracker(0))
	defer b.Destroy()
	b.Append(bytes.Repeat([]byte("y"), 1024))

	_, err := b.SendPartial(local, 0)
	require.ErrorIs(t, err, unix.EAGAIN)
	// the try-again signal must not move the cursor
	assert.Zero(t, b.Offset())
	assert.False(t, b.IsComplete())
}

func TestBufferSendPartialResume(t *testing.T) {
	local, remote := socketpair(t)
	require.NoError(t, unix.SetsockoptInt(local, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))

	tr := NewMemoryTracker(0)
	payload := bytes.Repeat([]byte("abcdefgh"), 2048) // 16 KiB
	var sent []*Buffer
	for off := 0; off < len(payload); off += 4096 {
		b := NewBuffer(4096, tr)
		defer b.Destroy()
		b.Append(payload[off : off+4096])
		sent = append(sent, b)
	}

	var received bytes.Buffer
	chunk := make([]byte, 8192)
	for _, b := range sent {
		for !b.IsComplete() {
			_, err := b.SendPartial(local, b.Offset())
			if err != nil {
				require.ErrorIs(t, err, unix.EAGAIN)
				// drain the peer so the socket opens up again
				rn, rerr := unix.Read(remote, chunk)
				if rerr == nil {
					received.Write(chunk[:rn])
				}
			}
		}
	}
	for {
		rn, err := unix.Read(remote, chunk)
		if err != nil {
			break
		}
		received.Write(chunk[:rn])
	}
	assert.Equal(t, payload, received.Bytes())
}
