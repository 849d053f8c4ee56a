// File: pool/tracker_test.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerAllocateDeallocate(t *testing.T) {
	tr := NewMemoryTracker(1000)

	tr.Allocate(400)
	assert.EqualValues(t, 400, tr.Current())
	assert.EqualValues(t, 400, tr.Peak())

	tr.Allocate(300)
	assert.EqualValues(t, 700, tr.Current())
	assert.EqualValues(t, 700, tr.Peak())

	tr.Deallocate(500)
	assert.EqualValues(t, 200, tr.Current())
	// peak never goes down
	assert.EqualValues(t, 700, tr.Peak())
}

func TestTrackerExceeded(t *testing.T) {
	tr := NewMemoryTracker(100)
	assert.False(t, tr.Exceeded())
	tr.Allocate(100)
	assert.False(t, tr.Exceeded())
	tr.Allocate(1)
	assert.True(t, tr.Exceeded())
	tr.Deallocate(1)
	assert.False(t, tr.Exceeded())
}

func TestTrackerReset(t *testing.T) {
	tr := NewMemoryTracker(0)
	tr.Allocate(1 << 20)
	tr.Reset()
	assert.Zero(t, tr.Current())
	assert.Zero(t, tr.Peak())
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewMemoryTracker(0)
	const (
		goroutines = 8
		rounds     = 1000
		chunk      = 64
	)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				tr.Allocate(chunk)
			}
			for i := 0; i < rounds; i++ {
				tr.Deallocate(chunk)
			}
		}()
	}
	wg.Wait()

	require.Zero(t, tr.Current())
	assert.GreaterOrEqual(t, tr.Peak(), int64(rounds*chunk))
	assert.LessOrEqual(t, tr.Peak(), int64(goroutines*rounds*chunk))
}

func TestDefaultTrackerSingleton(t *testing.T) {
	assert.Same(t, DefaultTracker(), DefaultTracker())
}
