// Package api
// Author: momentics
//
// Scheduler contract for the M:N fiber scheduler. Adapted from the
// teacher's delay-based Schedule(delayNanos, fn); the runtime's scheduler
// moves Task values (fiber-or-callback, FIFO, thread-affinity aware)
// rather than one-shot delayed callbacks, so the contract is generalized
// to match (spec §4.4).

package api

// Scheduler multiplexes fibers and callbacks across a pool of worker
// threads.
type Scheduler interface {
	Executor

	// ScheduleFiber enqueues fiber for resumption on any worker thread.
	ScheduleFiber(f Fiber) error

	// ScheduleOnThread enqueues fiber for resumption specifically on the
	// worker whose kernel tid is tid. Used by hook/ code that must resume
	// a fiber back on the same thread that suspended it.
	ScheduleOnThread(f Fiber, tid int32) error

	// Start spins up the worker pool. useCaller, when true, makes the
	// calling thread itself run as a worker via a dedicated scheduler
	// fiber instead of returning immediately (spec §4.4, "useCaller").
	Start(useCaller bool) error

	// Stop requests shutdown; workers drain the queue of already-enqueued
	// tasks before exiting. Blocks until every worker has exited.
	Stop()

	// Stopping reports whether Stop has been called and no queued or
	// running work is left.
	Stopping() bool

	// Now returns monotonic time in nanoseconds.
	Now() int64
}

// Executor abstracts plain callback dispatch onto the scheduler's worker
// pool, independent of the fiber machinery. ioreactor uses it to run
// callback-based (non-fiber) I/O waiters (spec §4.6, "callback events").
type Executor interface {
	// Submit schedules fn for execution on any worker thread.
	Submit(fn func()) error

	// NumWorkers returns the current worker count.
	NumWorkers() int

	// Resize adjusts worker count at runtime.
	Resize(newCount int)
}
