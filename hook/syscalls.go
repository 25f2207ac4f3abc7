// File: hook/syscalls.go
// Author: momentics <momentics@gmail.com>
//
// Fiber-aware replacements for the calls hook.cpp intercepts via
// HOOK_FUN: sleep/usleep/nanosleep suspend on a timer alone; the
// read/write family and accept/connect suspend through doIO so a fiber
// blocks only itself, never its worker thread.

package hook

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/coreflux/fiberrt/api"
	"github.com/coreflux/fiberrt/fdmgr"
	"github.com/coreflux/fiberrt/fiber"
	"github.com/coreflux/fiberrt/reactor"
)

// Sleep suspends the calling fiber for d, rescheduling it via the
// IOManager's timer instead of blocking the worker thread (hook.cpp's
// sleep/usleep/nanosleep collapse into one implementation here since Go
// exposes a single duration-based sleep primitive).
func (r *Runtime) Sleep(d time.Duration) {
	if !IsEnabled() {
		time.Sleep(d)
		return
	}
	f := fiber.GetThis()
	r.IO.AddTimer(d.Milliseconds(), func() {
		r.IO.ScheduleFiber(f)
	}, false)
	f.Yield()
}

// Socket creates a socket and registers it with the fd registry so later
// hooked calls recognize it (hook.cpp's socket()).
func (r *Runtime) Socket(domain, typ, protocol int) (int, error) {
	fd, err := unix.Socket(domain, typ, protocol)
	if err != nil {
		return fd, err
	}
	if IsEnabled() {
		r.Fds.Get(fd, true)
	}
	return fd, nil
}

// Close tears down fd's registered events and fd context before closing
// it at the OS level.
func (r *Runtime) Close(fd int) error {
	if IsEnabled() {
		r.IO.CancelAll(fd)
		if ctx := r.Fds.Get(fd, false); ctx != nil {
			ctx.MarkClosed()
		}
		r.Fds.Del(fd)
	}
	return unix.Close(fd)
}

// Read suspends the calling fiber on EAGAIN until fd becomes readable
// (or its recv timeout fires), then retries.
func (r *Runtime) Read(fd int, p []byte) (int, error) {
	return r.doIO(fd, reactor.Read, fdmgr.RecvTimeout, func() (int, error) {
		return unix.Read(fd, p)
	})
}

// Write suspends the calling fiber on EAGAIN until fd becomes writable
// (or its send timeout fires), then retries.
func (r *Runtime) Write(fd int, p []byte) (int, error) {
	return r.doIO(fd, reactor.Write, fdmgr.SendTimeout, func() (int, error) {
		return unix.Write(fd, p)
	})
}

// Recv is Read's socket-flavored counterpart, honoring flags.
func (r *Runtime) Recv(fd int, p []byte, flags int) (int, error) {
	return r.doIO(fd, reactor.Read, fdmgr.RecvTimeout, func() (int, error) {
		n, _, e := unix.Recvfrom(fd, p, flags)
		return n, e
	})
}

// RecvFrom additionally returns the sender's address.
func (r *Runtime) RecvFrom(fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	var from unix.Sockaddr
	n, err := r.doIO(fd, reactor.Read, fdmgr.RecvTimeout, func() (int, error) {
		n, sa, e := unix.Recvfrom(fd, p, flags)
		from = sa
		return n, e
	})
	return n, from, err
}

// Send is Write's socket-flavored counterpart.
func (r *Runtime) Send(fd int, p []byte, flags int) (int, error) {
	return r.doIO(fd, reactor.Write, fdmgr.SendTimeout, func() (int, error) {
		return len(p), unix.Sendto(fd, p, flags, nil)
	})
}

// SendTo sends p to addr, suspending on EAGAIN like Send.
func (r *Runtime) SendTo(fd int, p []byte, flags int, addr unix.Sockaddr) (int, error) {
	return r.doIO(fd, reactor.Write, fdmgr.SendTimeout, func() (int, error) {
		return len(p), unix.Sendto(fd, p, flags, addr)
	})
}

// Accept suspends the calling fiber on EAGAIN until a connection is
// ready, then registers the accepted fd with the fd registry.
func (r *Runtime) Accept(fd int) (int, unix.Sockaddr, error) {
	var (
		nfd int
		sa  unix.Sockaddr
	)
	_, err := r.doIO(fd, reactor.Read, fdmgr.RecvTimeout, func() (int, error) {
		n, s, e := unix.Accept(fd)
		nfd, sa = n, s
		if e != nil {
			return -1, e
		}
		return n, nil
	})
	if err != nil {
		return -1, nil, err
	}
	if IsEnabled() {
		r.Fds.Get(nfd, true)
	}
	return nfd, sa, nil
}

// Connect performs a non-blocking connect, suspending the calling fiber
// until the socket becomes writable (connection established or failed)
// or timeoutMs elapses (hook.cpp's connect_with_timeout). A timeoutMs of
// fdmgr.NoTimeout waits indefinitely.
func (r *Runtime) Connect(fd int, addr unix.Sockaddr, timeoutMs int64) error {
	if !IsEnabled() {
		return unix.Connect(fd, addr)
	}
	ctx := r.Fds.Get(fd, false)
	if ctx == nil || ctx.IsClosed() {
		return unix.EBADF
	}
	if !ctx.IsSocket() || ctx.UserNonblock() {
		return unix.Connect(fd, addr)
	}

	err := unix.Connect(fd, addr)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS {
		return err
	}

	info := &timerInfo{}
	var timer api.Timer
	if timeoutMs != fdmgr.NoTimeout {
		timer = r.IO.AddConditionTimer(timeoutMs, func() {
			if info.cancelled != 0 {
				return
			}
			info.cancelled = int(unix.ETIMEDOUT)
			r.IO.CancelEvent(fd, reactor.Write)
		}, func() (any, bool) { return info, true })
	}

	if addErr := r.IO.AddEvent(fd, reactor.Write, nil); addErr != nil {
		if timer != nil {
			timer.Cancel()
		}
		return addErr
	}
	fiber.GetThis().Yield()
	if timer != nil {
		timer.Cancel()
	}
	if info.cancelled != 0 {
		return unix.Errno(info.cancelled)
	}

	soErr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return gerr
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}
