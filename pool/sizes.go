// File: pool/sizes.go
// Author: momentics <momentics@gmail.com>
//
// Capacity classes and pool bounds.

package pool

const (
	// SmallMessageSize fits chat lines and short commands.
	SmallMessageSize = 256
	// MediumMessageSize fits typical state updates.
	MediumMessageSize = 1024
	// LargeMessageSize fits the largest single frame.
	LargeMessageSize = 4096

	// MaxMessageSize is the largest frame the server guarantees to deliver.
	MaxMessageSize = 4096
	// MaxAccumulatedBytes caps a connection's read accumulator. A peer that
	// streams this much without a delimiter is disconnected.
	MaxAccumulatedBytes = 10 * MaxMessageSize

	SmallPoolSize  = 100
	MediumPoolSize = 50
	LargePoolSize  = 20

	// ReadBufferReserve is the per-connection read chunk size.
	ReadBufferReserve = 8192

	// PreallocCount buffers are created up front per pool to amortize
	// first-use cost.
	PreallocCount = 10

	// MaxTotalMemoryBytes is the advisory ceiling for all pooled memory.
	MaxTotalMemoryBytes = 100 << 20
)
