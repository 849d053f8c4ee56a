// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hioload-tcp: a fixed worker executor backed by
// per-worker single-producer queues with a global fallback channel. Tasks
// are bounded units of socket work; ordering per connection is enforced by
// the connection's own serialization, not by the executor.
package concurrency
