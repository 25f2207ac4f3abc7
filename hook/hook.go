// File: hook/hook.go
// Author: momentics <momentics@gmail.com>
//
// Package hook reproduces fiber_lib/6hook/hook.cpp's syscall-interception
// layer: blocking calls are retried against a non-blocking fd, and on
// EAGAIN the calling fiber is suspended until the IOManager's reactor
// reports readiness (or a timeout fires). The C++ original installs
// itself via dlsym(RTLD_NEXT, ...) so unmodified binary-linked calls to
// read/write/etc. get rerouted transparently; Go has no dlsym/RTLD_NEXT
// equivalent; and no ecosystem library in the retrieval pack provides
// libc interposition for Go, so hook's functions are ordinary exported
// Go functions a fiber-aware caller opts into explicitly, not a global
// override (spec §9, design note on syscall interception).
package hook

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/coreflux/fiberrt/api"
	"github.com/coreflux/fiberrt/control"
	"github.com/coreflux/fiberrt/fdmgr"
	"github.com/coreflux/fiberrt/fiber"
	"github.com/coreflux/fiberrt/ioreactor"
	"github.com/coreflux/fiberrt/reactor"
)

// enabledKey is the per-thread hook_enable flag from hook.cpp's
// thread_local t_hook_enable. Go has no real TLS; see fiber/tls.go for
// the same tid-keyed workaround applied here.
var (
	enabledMu sync.Mutex
	enabled   = map[int32]bool{}
)

// IsEnabled reports whether hooking is active on the calling OS thread.
func IsEnabled() bool {
	tid := currentTid()
	enabledMu.Lock()
	defer enabledMu.Unlock()
	return enabled[tid]
}

// SetEnabled turns hooking on or off for the calling OS thread. The
// scheduler does not call it; code running on a fiber enables it itself
// (cmd/fiberrtd does so at the start of each submitted callback).
func SetEnabled(flag bool) {
	tid := currentTid()
	enabledMu.Lock()
	enabled[tid] = flag
	enabledMu.Unlock()
}

func currentTid() int32 {
	return int32(unix.Gettid())
}

// Runtime bundles the pieces do_io needs: the fd metadata registry and
// the IOManager whose reactor and timers it suspends fibers against.
// One Runtime is shared by every hooked call in a process.
type Runtime struct {
	Fds    *fdmgr.Manager
	IO     *ioreactor.IOManager
	Logger *zap.SugaredLogger
}

// New constructs a Runtime over the given fd registry and IOManager.
func New(fds *fdmgr.Manager, io *ioreactor.IOManager) *Runtime {
	return &Runtime{Fds: fds, IO: io, Logger: control.NewNopLogger()}
}

// timerInfo mirrors hook.cpp's timer_info: a shared cancellation flag
// the condition timer and the retry loop both read. The witness passed
// to AddConditionTimer holds it strongly and always reports it live.
type timerInfo struct {
	cancelled int // 0 = not cancelled, else the errno to report (ETIMEDOUT)
}

// doIO is the do_io template from hook.cpp: call fn, retry transparently
// on EINTR, and on EAGAIN arm ev on fd (optionally behind a timeout) and
// suspend the calling fiber until the reactor or the timeout wakes it,
// then retry. fn must perform exactly the syscall being hooked and
// return (n, err) the way the unix package does.
func (r *Runtime) doIO(fd int, ev reactor.EventMask, timeoutKind fdmgr.TimeoutKind, fn func() (int, error)) (int, error) {
	if !IsEnabled() {
		return fn()
	}

	ctx := r.Fds.Get(fd, false)
	if ctx == nil {
		return fn()
	}
	if ctx.IsClosed() {
		return -1, unix.EBADF
	}
	if !ctx.IsSocket() || ctx.UserNonblock() {
		return fn()
	}

	timeoutMs := ctx.Timeout(timeoutKind)

	for {
		n, err := fn()
		for err == unix.EINTR {
			n, err = fn()
		}
		if err != unix.EAGAIN {
			return n, err
		}

		info := &timerInfo{}
		var t api.Timer
		if timeoutMs != fdmgr.NoTimeout {
			t = r.IO.AddConditionTimer(timeoutMs, func() {
				if info.cancelled != 0 {
					return
				}
				info.cancelled = int(unix.ETIMEDOUT)
				r.IO.CancelEvent(fd, ev)
			}, func() (any, bool) { return info, true })
		}

		if addErr := r.IO.AddEvent(fd, ev, nil); addErr != nil {
			if t != nil {
				t.Cancel()
			}
			return -1, addErr
		}

		fiber.GetThis().Yield()

		if t != nil {
			t.Cancel()
		}
		if info.cancelled != 0 {
			r.Logger.Debugw("do_io timed out", "fd", fd, "timeoutMs", timeoutMs)
			return -1, unix.Errno(info.cancelled)
		}
		// retry the syscall
	}
}
