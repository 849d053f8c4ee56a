// Package pool
// Author: momentics <momentics@gmail.com>
//
// Fixed-capacity pooled buffers for hioload-tcp.
// Buffers are allocated once, reused through bounded free-lists, and every
// allocation is charged to a memory tracker (process-wide by default) whose
// advisory ceiling higher layers check before taking on more work.
// See buffer.go, bufferpool.go, tracker.go for implementation details.
package pool
