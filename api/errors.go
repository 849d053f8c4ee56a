// File: api/errors.go
// Author: momentics <momentics@gmail.com>
//
// Common error values shared across the hioload-tcp library.

package api

import "errors"

var (
	// ErrPoolExhausted indicates every buffer of a pool's capacity class is loaned out.
	ErrPoolExhausted = errors.New("buffer pool exhausted")

	// ErrQueueFull indicates the outbound queue could not take another message.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrMessageTooLarge indicates a payload does not fit the formatting buffer.
	ErrMessageTooLarge = errors.New("message exceeds buffer capacity")

	// ErrMemoryExceeded indicates pooled memory is over the process ceiling.
	ErrMemoryExceeded = errors.New("memory ceiling exceeded")

	// ErrConnClosed indicates an operation on a connection already closed.
	ErrConnClosed = errors.New("connection is closed")

	// ErrServerRunning indicates Start was called on a running server.
	ErrServerRunning = errors.New("server already running")

	// ErrNotSupported indicates the platform lacks a required facility.
	ErrNotSupported = errors.New("operation not supported on this platform")
)
