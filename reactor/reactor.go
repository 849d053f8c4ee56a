// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface.

package reactor

// Interest selects which readiness conditions to watch or report.
type Interest uint32

const (
	// EventRead fires when the descriptor has data to read.
	EventRead Interest = 1 << iota
	// EventWrite fires when the descriptor accepts writes again.
	EventWrite
	// EventHup fires on peer hangup or descriptor error.
	EventHup
)

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd    int
	Ready Interest
}

// EventReactor multiplexes readiness notifications for many descriptors.
// Registration is edge-triggered: a notification fires once per transition
// to ready and the consumer must drain until the socket reports EAGAIN.
type EventReactor interface {
	// Add registers fd with the given interest set.
	Add(fd int, interest Interest) error

	// Modify replaces fd's interest set. Safe to call from any thread.
	Modify(fd int, interest Interest) error

	// Remove deregisters fd.
	Remove(fd int) error

	// Wait blocks up to timeoutMs for events and writes them into events.
	// Returns the number written. Interruption by a signal is not an
	// error; it returns 0.
	Wait(events []Event, timeoutMs int) (int, error)

	// Wakeup makes a concurrent Wait return promptly.
	Wakeup() error

	// Close releases the facility.
	Close() error
}
