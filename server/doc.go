// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package server implements the newline-framed TCP server: per-socket
// connection state, the outbound buffer queue, and the epoll-driven accept
// and dispatch loop.
package server
