// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness-notification facility behind the
// server's event loop: an edge-triggered epoll poller on Linux and a stub
// that reports ErrNotSupported elsewhere.
package reactor
