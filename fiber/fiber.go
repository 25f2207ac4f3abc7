// File: fiber/fiber.go
// Author: momentics <momentics@gmail.com>
//
// Fiber is a stackful coroutine. Go gives no ucontext_t/makecontext
// equivalent (that is exactly what mycoroutine/fiber.h uses) and no
// ecosystem package in the retrieval pack fills the gap, so a fiber here
// is a goroutine parked on an unbuffered channel: resuming it sends on
// resumeCh and blocks on yieldCh, yielding does the opposite. Only one of
// the two channels is ever receivable at a time, which gives the same
// "exactly one of {resumer, fiber} runs" guarantee ucontext's stack swap
// gives for free (spec §9, design note on stackful coroutine emulation).
package fiber

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/coreflux/fiberrt/api"
)

var nextID atomic.Uint64

// Fiber implements api.Fiber on top of a goroutine plus a pair of
// rendezvous channels.
type Fiber struct {
	id    uint64
	mu    sync.Mutex
	state api.FiberState

	cb            func()
	runInSchedule bool

	resumeCh chan struct{}
	yieldCh  chan struct{}

	started bool
	tid     int32 // kernel tid of the owning thread, for affinity checks
}

var _ api.Fiber = (*Fiber)(nil)

// New creates a child fiber that will run cb once resumed. runInScheduler
// mirrors the C++ constructor's run_in_scheduler flag: it is stored and
// reported by RunInScheduler, but Yield does not consult it; control
// always returns to whichever goroutine last called Resume.
func New(cb func(), runInScheduler bool) *Fiber {
	return &Fiber{
		id:            nextID.Add(1),
		state:         api.FiberReady,
		cb:            cb,
		runInSchedule: runInScheduler,
		resumeCh:      make(chan struct{}),
		yieldCh:       make(chan struct{}),
	}
}

// newRoot creates thread tid's main fiber: id 0, no stack of its own.
func newRoot(tid int32) *Fiber {
	return &Fiber{
		state:    api.FiberRunning,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
		tid:      tid,
		started:  true,
	}
}

// ID returns the fiber's process-unique id. The root fiber of every
// thread is id 0.
func (f *Fiber) ID() uint64 {
	return f.id
}

// State returns the fiber's current lifecycle state.
func (f *Fiber) State() api.FiberState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// RunInScheduler reports the runInScheduler flag the fiber was created
// with. The flag does not change where Yield returns control: that is
// always the goroutine that last resumed the fiber.
func (f *Fiber) RunInScheduler() bool {
	return f.runInSchedule
}

// Resume transfers control to f. The caller must be the fiber (or root
// fiber) that is about to block until f yields or returns.
func (f *Fiber) Resume() {
	f.mu.Lock()
	if f.state == api.FiberRunning || f.state == api.FiberTerm {
		f.mu.Unlock()
		panic(fmt.Sprintf("fiber %d: Resume called in state %s", f.id, f.state))
	}
	f.state = api.FiberRunning
	started := f.started
	f.started = true
	f.mu.Unlock()

	if !started {
		go f.trampoline()
	}
	f.resumeCh <- struct{}{}
	<-f.yieldCh
}

// Yield transfers control back to whoever last called Resume on f. Must
// be called from inside f's own entry callback's goroutine.
func (f *Fiber) Yield() {
	f.mu.Lock()
	if f.state != api.FiberTerm {
		f.state = api.FiberReady
	}
	f.mu.Unlock()
	f.yieldCh <- struct{}{}
	if f.State() != api.FiberTerm {
		<-f.resumeCh
	}
}

// trampoline is MainFunc from fiber.h: the uniform entry point every
// child fiber's goroutine runs, responsible for invoking cb and marking
// the fiber TERM once it returns. It locks itself to one OS thread for
// its whole lifetime so tid-keyed state (fiber/tls.go, hook's enabled
// map) stays consistent across a Yield/Resume round trip — without this,
// the Go runtime is free to resume an unparked goroutine on a different
// M than the one it last ran on.
//
// Resuming f makes it current on that thread (spec §4.1): since f never
// moves to another OS thread for the rest of its life, one SetThis right
// after the first resume is enough for every later GetThis call made
// from inside cb — including across further Yield/Resume round trips,
// which re-enter the very same locked goroutine — to resolve back to f
// instead of lazily minting that thread's root fiber.
func (f *Fiber) trampoline() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	<-f.resumeCh
	tid := currentTid()
	SetThis(f)
	defer ClearThread(tid)
	func() {
		defer func() {
			f.mu.Lock()
			f.state = api.FiberTerm
			f.mu.Unlock()
		}()
		f.cb()
	}()
	f.yieldCh <- struct{}{}
}

// Reset rearms a TERM fiber with a new callback (spec §4.1, "Reset").
// The Fiber value and its id are kept; the goroutine that ran the old
// callback has already exited, so the next Resume starts a new one.
func (f *Fiber) Reset(cb func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != api.FiberTerm {
		return api.ErrFiberNotTerm
	}
	f.cb = cb
	f.state = api.FiberReady
	f.started = false
	f.resumeCh = make(chan struct{})
	f.yieldCh = make(chan struct{})
	return nil
}
