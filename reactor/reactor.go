// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness types implemented by the epoll reactor.

package reactor

// Interest is the set of readiness conditions a registration watches.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// ReadWrite watches both directions.
const ReadWrite = Readable | Writable

// Infinite makes Wait block until at least one event arrives.
const Infinite = -1

// DefaultBatchSize is the number of events one Wait can return.
const DefaultBatchSize = 128

// Event is one readiness notification. Tag is the value supplied at
// registration; callers compare it against their own bookkeeping to drop
// events for a descriptor number that was closed and reused.
type Event struct {
	Fd     int
	Tag    uint32
	Events Interest
	Hangup bool // peer closed (EPOLLHUP or EPOLLRDHUP)
	Err    bool // EPOLLERR
}

// Readable reports input readiness (including pending end of stream).
func (e Event) Readable() bool { return e.Events&Readable != 0 }

// Writable reports output readiness.
func (e Event) Writable() bool { return e.Events&Writable != 0 }

// EventReactor is the readiness notifier contract.
type EventReactor interface {
	// Register starts edge-triggered notification for fd. Registering an fd twice fails.
	Register(fd int, interest Interest, tag uint32) error
	// Modify changes interest or tag of an existing registration.
	Modify(fd int, interest Interest, tag uint32) error
	// Unregister stops notification. It reports whether fd was registered.
	Unregister(fd int) bool
	// Wait blocks up to timeoutMs (Infinite blocks) and returns ready events.
	// The returned slice is reused by the next call.
	Wait(timeoutMs int) ([]Event, error)
	Close() error
}
