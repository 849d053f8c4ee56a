// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/pool"
)

// Option customizes server initialization.
type Option func(*Server)

// WithExecutor installs an externally owned executor. The server will not
// close it on teardown.
func WithExecutor(e api.Executor) Option {
	return func(s *Server) {
		s.exec = e
	}
}

// WithMemoryTracker overrides the process-wide tracker, mainly for tests.
func WithMemoryTracker(t *pool.MemoryTracker) Option {
	return func(s *Server) {
		s.tracker = t
	}
}

// WithIdleTimeout overrides the inactivity timeout applied by the periodic
// sweep.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}
