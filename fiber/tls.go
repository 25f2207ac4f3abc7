// File: fiber/tls.go
// Author: momentics <momentics@gmail.com>
//
// Go has no thread-local storage, but every fiber-bearing goroutine is
// pinned to its OS thread via runtime.LockOSThread (see package thread),
// so unix.Gettid() is a stable stand-in for "which thread am I on" and a
// tid-keyed map reproduces GetThis/SetThis/SetSchedulerFiber/GetFiberId
// from fiber.h without real TLS.

package fiber

import (
	"sync"

	"golang.org/x/sys/unix"
)

type threadState struct {
	current   *Fiber
	root      *Fiber
	scheduler *Fiber
}

var (
	tlsMu sync.Mutex
	tls   = map[int32]*threadState{}
)

func currentTid() int32 {
	return int32(unix.Gettid())
}

func stateFor(tid int32) *threadState {
	tlsMu.Lock()
	defer tlsMu.Unlock()
	ts, ok := tls[tid]
	if !ok {
		ts = &threadState{}
		tls[tid] = ts
	}
	return ts
}

// GetThis returns the fiber currently running on the calling OS thread,
// creating that thread's root fiber on first call.
func GetThis() *Fiber {
	tid := currentTid()
	ts := stateFor(tid)
	tlsMu.Lock()
	defer tlsMu.Unlock()
	if ts.current == nil {
		root := newRoot(tid)
		ts.current = root
		ts.root = root
	}
	return ts.current
}

// SetThis records f as the fiber currently running on the calling OS
// thread.
func SetThis(f *Fiber) {
	tid := currentTid()
	ts := stateFor(tid)
	tlsMu.Lock()
	ts.current = f
	tlsMu.Unlock()
}

// SetSchedulerFiber records f as the calling thread's scheduler fiber:
// the fiber that runs the scheduler's dispatch loop on this thread.
func SetSchedulerFiber(f *Fiber) {
	tid := currentTid()
	ts := stateFor(tid)
	tlsMu.Lock()
	ts.scheduler = f
	tlsMu.Unlock()
}

// GetSchedulerFiber returns the calling thread's scheduler fiber, or nil
// if SetSchedulerFiber was never called on this thread.
func GetSchedulerFiber() *Fiber {
	tid := currentTid()
	ts := stateFor(tid)
	tlsMu.Lock()
	defer tlsMu.Unlock()
	return ts.scheduler
}

// RootFiber returns the calling thread's root (id-0) fiber.
func RootFiber() *Fiber {
	tid := currentTid()
	ts := stateFor(tid)
	tlsMu.Lock()
	defer tlsMu.Unlock()
	if ts.root == nil {
		ts.root = newRoot(tid)
		if ts.current == nil {
			ts.current = ts.root
		}
	}
	return ts.root
}

// GetFiberId returns the id of the fiber currently running on the
// calling OS thread.
func GetFiberId() uint64 {
	return GetThis().ID()
}

// ClearThread drops all per-thread fiber state for tid. A fiber's
// goroutine calls it when its callback returns, so the map doesn't grow
// unbounded as fibers come and go.
func ClearThread(tid int32) {
	tlsMu.Lock()
	delete(tls, tid)
	tlsMu.Unlock()
}
