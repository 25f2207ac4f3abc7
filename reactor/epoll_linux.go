//go:build linux
// +build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based Poller implementation. Always arms EPOLLET
// (edge-triggered): ioreactor.IOManager keeps exactly one waiter per
// direction and always re-arms explicitly after firing, so level-triggered
// semantics would only cost extra wakeups (spec §4.6, "Edge-trigger
// rationale").

package reactor

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type epollPoller struct {
	epfd int
}

// NewPoller constructs the epoll-backed Poller for Linux.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epollPoller{epfd: epfd}, nil
}

func toEpollEvents(mask EventMask) uint32 {
	var ev uint32 = unix.EPOLLET
	if mask&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if mask&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpollEvents(ev uint32) EventMask {
	var mask EventMask
	if ev&unix.EPOLLIN != 0 {
		mask |= Read
	}
	if ev&unix.EPOLLOUT != 0 {
		mask |= Write
	}
	return mask
}

func (p *epollPoller) ctl(op int, fd uintptr, mask EventMask, userData uintptr) error {
	event := &unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	*(*uintptr)(unsafe.Pointer(&event.Pad)) = userData
	if err := unix.EpollCtl(p.epfd, op, int(fd), event); err != nil {
		return errors.Wrapf(err, "epoll_ctl op=%d fd=%d", op, fd)
	}
	return nil
}

func (p *epollPoller) Add(fd uintptr, mask EventMask, userData uintptr) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, mask, userData)
}

func (p *epollPoller) Modify(fd uintptr, mask EventMask, userData uintptr) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, mask, userData)
}

func (p *epollPoller) Delete(fd uintptr) error {
	// EPOLL_CTL_DEL ignores the event argument on modern kernels, but older
	// kernels (< 2.6.9) required a non-nil pointer; pass a zeroed one.
	event := &unix.EpollEvent{}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(fd), event); err != nil {
		return errors.Wrapf(err, "epoll_ctl del fd=%d", fd)
	}
	return nil
}

func (p *epollPoller) Wait(events []Event, timeoutMs int) (int, error) {
	rawEvents := make([]unix.EpollEvent, len(events))
	n, err := unix.EpollWait(p.epfd, rawEvents, timeoutMs)
	if err != nil {
		return 0, errors.Wrap(err, "epoll_wait")
	}
	for i := 0; i < n; i++ {
		mask := fromEpollEvents(rawEvents[i].Events)
		if rawEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			mask |= Read | Write
		}
		events[i] = Event{
			Fd:       uintptr(rawEvents[i].Fd),
			Mask:     mask,
			UserData: *(*uintptr)(unsafe.Pointer(&rawEvents[i].Pad)),
		}
	}
	return n, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
