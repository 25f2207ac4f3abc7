// File: thread/thread.go
// Author: momentics <momentics@gmail.com>
//
// Thread wraps an OS thread the way mycoroutine/thread.h wraps pthread:
// a dedicated, named, non-reused kernel thread that a fiber scheduler can
// pin work to. Go's goroutines are not OS threads, so Thread locks its
// goroutine to its OS thread for its entire lifetime with
// runtime.LockOSThread (spec §9, design note on per-thread singletons).

package thread

import (
	"context"
	"runtime"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/coreflux/fiberrt/control"
)

// Thread is a named, OS-thread-pinned worker.
type Thread struct {
	id   int32 // kernel tid, valid only after the thread has started
	name string
	cb   func()

	ready *semaphore.Weighted
	done  chan struct{}

	Logger *zap.SugaredLogger
}

// New creates and starts a new OS thread running cb under name. It
// returns once the thread has acquired its kernel tid, mirroring the
// C++ constructor's semaphore-gated startup handshake.
func New(cb func(), name string) *Thread {
	return NewWithLogger(cb, name, control.NewNopLogger())
}

// NewWithLogger is New with an explicit diagnostics logger, so a caller
// that already has one (scheduler.Scheduler) can hand it down before the
// thread's first log line instead of racing a post-construction assignment.
func NewWithLogger(cb func(), name string, logger *zap.SugaredLogger) *Thread {
	t := &Thread{
		name:   name,
		cb:     cb,
		ready:  semaphore.NewWeighted(1),
		done:   make(chan struct{}),
		Logger: logger,
	}
	t.ready.Acquire(context.Background(), 1) // held until run() releases it
	go t.run()
	t.ready.Acquire(context.Background(), 1) // blocks until started
	t.ready.Release(1)
	return t
}

func (t *Thread) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer func() {
		t.Logger.Debugw("thread exiting", "name", t.name, "tid", t.id)
		close(t.done)
	}()

	t.id = int32(unix.Gettid())
	SetThreadName(t.name)
	t.Logger.Debugw("thread started", "name", t.name, "tid", t.id)
	t.ready.Release(1)

	t.cb()
}

// ID returns the kernel tid of the thread. Zero until the thread starts.
func (t *Thread) ID() int32 {
	return t.id
}

// Name returns the thread's configured name.
func (t *Thread) Name() string {
	return t.name
}

// Join blocks until the thread's callback returns.
func (t *Thread) Join() {
	<-t.done
}

// setName applies the thread name via prctl(PR_SET_NAME), truncated to
// 15 bytes plus the NUL terminator the kernel enforces.
func setName(name string) {
	if len(name) > 15 {
		name = name[:15]
	}
	var buf [16]byte
	copy(buf[:], name)
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}
