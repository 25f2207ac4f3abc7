// File: api/fiber.go
// Author: momentics <momentics@gmail.com>
//
// Fiber is the stackful-coroutine contract every scheduler and hook in
// fiberrt is built against. The concrete implementation lives in package
// fiber; api only names the shape so scheduler/ioreactor/hook can depend
// on the interface instead of the goroutine plumbing underneath it.

package api

// FiberState mirrors the three states a coroutine can occupy. There is no
// RUNNING-but-not-current state: a fiber is either waiting to be resumed,
// currently executing on some thread, or has returned from its entry
// function and cannot be resumed again.
type FiberState int

const (
	// FiberReady means the fiber has never run, or yielded and is waiting
	// to be resumed again.
	FiberReady FiberState = iota
	// FiberRunning means the fiber is the one currently executing on its
	// owning thread.
	FiberRunning
	// FiberTerm means the entry callback returned; Reset is required
	// before the fiber can be resumed again.
	FiberTerm
)

func (s FiberState) String() string {
	switch s {
	case FiberReady:
		return "READY"
	case FiberRunning:
		return "RUNNING"
	case FiberTerm:
		return "TERM"
	default:
		return "UNKNOWN"
	}
}

// Fiber is a stackful coroutine: Resume transfers control to it, Yield
// transfers control back to whoever last resumed it. Both block the
// calling goroutine until the peer hands control back.
type Fiber interface {
	// ID returns the fiber's process-unique, monotonically assigned id.
	// Fiber 0 on every thread is that thread's root (main) fiber.
	ID() uint64

	// State returns the fiber's current lifecycle state.
	State() FiberState

	// Resume transfers control to this fiber. Must be called from the
	// thread that owns the fiber; resuming a fiber already RUNNING or
	// TERM is a programming error and panics.
	Resume()

	// Yield transfers control back to this fiber's resumer. Must be
	// called from inside the fiber's own entry callback.
	Yield()

	// Reset rearms a TERM fiber with a new entry callback so the same
	// fiber can be resumed again. Returns ErrFiberNotTerm if called on a
	// fiber that has not returned.
	Reset(cb func()) error
}
