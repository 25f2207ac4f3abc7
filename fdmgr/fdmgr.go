// File: fdmgr/fdmgr.go
// Author: momentics <momentics@gmail.com>
//
// FdManager tracks one FdCtx per open file descriptor: whether it's a
// socket, its system/user nonblock flags, and its read/write timeouts.
// hook/ consults it before every intercepted syscall to decide whether
// to honor a timeout and suspend on EAGAIN. Ported from
// fiber_lib/6hook/fd_manager.{h,cpp} (sylar's FdManager/FdCtx).
package fdmgr

import (
	"sync"

	"golang.org/x/sys/unix"
)

// TimeoutKind selects which of a descriptor's two deadlines to set/get,
// mirroring the SO_RCVTIMEO/SO_SNDTIMEO distinction from setTimeout's
// `type` parameter.
type TimeoutKind int

const (
	RecvTimeout TimeoutKind = iota
	SendTimeout
)

// NoTimeout is the sentinel for "no deadline configured", standing in
// for the C++ side's (uint64_t)-1.
const NoTimeout int64 = -1

// Ctx is the per-fd runtime metadata hook/ consults.
type Ctx struct {
	mu sync.Mutex

	fd           int
	isInit       bool
	isSocket     bool
	sysNonblock  bool
	userNonblock bool
	closed       bool

	recvTimeout int64
	sendTimeout int64
}

func newCtx(fd int) *Ctx {
	c := &Ctx{fd: fd, recvTimeout: NoTimeout, sendTimeout: NoTimeout}
	c.init()
	return c
}

// init determines whether fd is a socket via fstat and, if so, forces it
// into non-blocking mode at the system level so hook/'s do_io retry loop
// is the only thing that can block a fiber (spec §4.7).
func (c *Ctx) init() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isInit {
		return true
	}

	var stat unix.Stat_t
	if err := unix.Fstat(c.fd, &stat); err != nil {
		c.isInit = false
		c.isSocket = false
		return false
	}
	c.isInit = true
	c.isSocket = stat.Mode&unix.S_IFMT == unix.S_IFSOCK

	if c.isSocket {
		flags, err := unix.FcntlInt(uintptr(c.fd), unix.F_GETFL, 0)
		if err == nil && flags&unix.O_NONBLOCK == 0 {
			unix.FcntlInt(uintptr(c.fd), unix.F_SETFL, flags|unix.O_NONBLOCK)
		}
		c.sysNonblock = true
	} else {
		c.sysNonblock = false
	}
	return c.isInit
}

func (c *Ctx) IsInit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isInit
}

func (c *Ctx) IsSocket() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSocket
}

func (c *Ctx) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Ctx) MarkClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Ctx) SetUserNonblock(v bool) {
	c.mu.Lock()
	c.userNonblock = v
	c.mu.Unlock()
}

func (c *Ctx) UserNonblock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userNonblock
}

func (c *Ctx) SetSysNonblock(v bool) {
	c.mu.Lock()
	c.sysNonblock = v
	c.mu.Unlock()
}

func (c *Ctx) SysNonblock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sysNonblock
}

// SetTimeout sets fd's recv or send deadline in milliseconds.
func (c *Ctx) SetTimeout(kind TimeoutKind, ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == RecvTimeout {
		c.recvTimeout = ms
	} else {
		c.sendTimeout = ms
	}
}

// Timeout returns fd's recv or send deadline in milliseconds, or
// NoTimeout if unset.
func (c *Ctx) Timeout(kind TimeoutKind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == RecvTimeout {
		return c.recvTimeout
	}
	return c.sendTimeout
}

// Manager is a dense, fd-indexed registry of Ctx, growing 1.5x like
// fd_manager.cpp's std::vector<shared_ptr<FdCtx>>. The original's resize(
// fd * 1.5) stalls forever for fd 0 or 1 (1.5 truncates back to the same
// size); this port clamps growth to at least fd+1 (spec §9, "Ambiguous
// source behavior: FdManager vector growth").
type Manager struct {
	mu    sync.RWMutex
	datas []*Ctx
}

// New constructs an FdManager with fd_manager.cpp's initial 64-slot
// preallocation.
func New() *Manager {
	return &Manager{datas: make([]*Ctx, 64)}
}

// Get returns fd's context, creating it (and growing the backing slice,
// if needed) when autoCreate is true. Returns nil for a negative fd or a
// not-yet-tracked fd when autoCreate is false.
func (m *Manager) Get(fd int, autoCreate bool) *Ctx {
	if fd < 0 {
		return nil
	}

	m.mu.RLock()
	if fd < len(m.datas) {
		c := m.datas[fd]
		if c != nil || !autoCreate {
			m.mu.RUnlock()
			return c
		}
	} else if !autoCreate {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if fd >= len(m.datas) {
		newSize := int(float64(len(m.datas)) * 1.5)
		if newSize <= fd {
			newSize = fd + 1
		}
		grown := make([]*Ctx, newSize)
		copy(grown, m.datas)
		m.datas = grown
	}
	if m.datas[fd] == nil {
		m.datas[fd] = newCtx(fd)
	}
	return m.datas[fd]
}

// Del drops fd's context, releasing it for garbage collection.
func (m *Manager) Del(fd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fd < 0 || fd >= len(m.datas) {
		return
	}
	m.datas[fd] = nil
}
