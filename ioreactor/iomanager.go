// File: ioreactor/iomanager.go
// Author: momentics <momentics@gmail.com>
//
// IOManager extends Scheduler with TimerManager and a reactor.Poller,
// giving fibers a way to suspend on socket readiness instead of just on
// being rescheduled. Ported from iomanager.{h,cpp}: addEvent/delEvent/
// cancelEvent/cancelAll register FdContext state per fd/direction,
// idle() blocks in Poller.Wait and fans readiness plus expired timers
// back out to the scheduler queue, and tickle()/onTimerInsertedAtFront
// wake a blocked idle() via an eventfd instead of epoll_create's old
// SIGIO dance.
package ioreactor

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/coreflux/fiberrt/api"
	"github.com/coreflux/fiberrt/fiber"
	"github.com/coreflux/fiberrt/internal/concurrency"
	"github.com/coreflux/fiberrt/reactor"
	"github.com/coreflux/fiberrt/scheduler"
	"github.com/coreflux/fiberrt/timer"
)

const maxEvents = 256
const maxWaitMs = 5000

// eventContext holds whichever one thing fires when its direction
// becomes ready: a fiber to resume, or a plain callback to run.
type eventContext struct {
	fiber api.Fiber
	cb    func()
}

func (ec *eventContext) reset() {
	ec.fiber = nil
	ec.cb = nil
}

// fdContext is one fd's registered-event bookkeeping: at most one
// waiter per direction, matching epoll's own one-shot-per-edge model.
type fdContext struct {
	mu     sync.Mutex
	fd     int
	events reactor.EventMask
	read   eventContext
	write  eventContext
}

func (c *fdContext) ctxFor(ev reactor.EventMask) *eventContext {
	switch ev {
	case reactor.Read:
		return &c.read
	case reactor.Write:
		return &c.write
	default:
		panic("ioreactor: NONE has no event context")
	}
}

// IOManager composes the fiber scheduler with timer and epoll facilities.
type IOManager struct {
	*scheduler.Scheduler
	*timer.Manager

	poller    reactor.Poller
	tickleFd  int
	pending   atomic.Int64
	exec      api.Executor

	mu      sync.RWMutex
	fdCtx   []*fdContext
}

var _ api.Scheduler = (*IOManager)(nil)
var _ api.TimerManager = (*IOManager)(nil)

// New constructs an IOManager with numWorkers additional OS threads.
func New(name string, numWorkers int, useCaller bool) (*IOManager, error) {
	poller, err := reactor.NewPoller()
	if err != nil {
		return nil, err
	}
	tickleFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		poller.Close()
		return nil, err
	}
	if err := poller.Add(uintptr(tickleFd), reactor.Read, uintptr(tickleFd)); err != nil {
		poller.Close()
		unix.Close(tickleFd)
		return nil, err
	}

	sc := scheduler.New(name, numWorkers, useCaller)
	tm := timer.New()

	io := &IOManager{
		Scheduler: sc,
		Manager:   tm,
		poller:    poller,
		tickleFd:  tickleFd,
		exec:      sc,
	}
	io.contextResize(32)

	sc.TickleFn = io.tickle
	sc.IdleFn = func(*scheduler.Scheduler) { io.idle() }
	tm.OnTimerInsertedAtFront = io.tickle

	return io, nil
}

// Stopping reports whether the manager can shut down: the base
// scheduler has nothing left to run, no timer is armed, and no fd event
// is still pending (spec §4.6, "stopping()").
func (io *IOManager) Stopping() bool {
	return !io.Manager.HasTimer() && io.pending.Load() == 0 && io.Scheduler.Stopping()
}

// contextResize grows the fd context table to size, zero-filling newly
// exposed slots with freshly allocated contexts (iomanager.cpp's
// contextResize).
func (io *IOManager) contextResize(size int) {
	if size <= len(io.fdCtx) {
		return
	}
	grown := make([]*fdContext, size)
	copy(grown, io.fdCtx)
	for i := range grown {
		if grown[i] == nil {
			grown[i] = &fdContext{fd: i}
		}
	}
	io.fdCtx = grown
}

func (io *IOManager) getFdContext(fd int, autoCreate bool) *fdContext {
	io.mu.RLock()
	if fd < len(io.fdCtx) {
		c := io.fdCtx[fd]
		io.mu.RUnlock()
		return c
	}
	io.mu.RUnlock()
	if !autoCreate {
		return nil
	}

	io.mu.Lock()
	defer io.mu.Unlock()
	if fd >= len(io.fdCtx) {
		newSize := int(float64(fd) * 1.5)
		if newSize <= fd {
			newSize = fd + 1
		}
		io.contextResize(newSize)
	}
	return io.fdCtx[fd]
}

// AddEvent arms ev on fd. When cb is nil the currently-running fiber
// becomes the waiter; otherwise cb runs (on a fresh fiber, via Submit)
// when ev fires. Returns ErrDuplicateEvent if ev is already armed.
func (io *IOManager) AddEvent(fd int, ev reactor.EventMask, cb func()) error {
	c := io.getFdContext(fd, true)

	c.mu.Lock()
	if c.events&ev != 0 {
		c.mu.Unlock()
		return api.ErrDuplicateEvent
	}

	newMask := c.events | ev
	var opErr error
	if c.events == 0 {
		opErr = io.poller.Add(uintptr(fd), newMask, uintptr(fd))
	} else {
		opErr = io.poller.Modify(uintptr(fd), newMask, uintptr(fd))
	}
	if opErr != nil {
		c.mu.Unlock()
		return opErr
	}

	io.pending.Add(1)
	c.events = newMask

	ectx := c.ctxFor(ev)
	if cb != nil {
		ectx.cb = cb
	} else {
		ectx.fiber = fiber.GetThis()
	}
	c.mu.Unlock()
	return nil
}

// DelEvent disarms ev on fd without invoking its waiter.
func (io *IOManager) DelEvent(fd int, ev reactor.EventMask) bool {
	c := io.getFdContext(fd, false)
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events&ev == 0 {
		return false
	}

	newMask := c.events &^ ev
	var err error
	if newMask == reactor.None {
		err = io.poller.Delete(uintptr(fd))
	} else {
		err = io.poller.Modify(uintptr(fd), newMask, uintptr(fd))
	}
	if err != nil {
		return false
	}

	io.pending.Add(-1)
	c.events = newMask
	c.ctxFor(ev).reset()
	return true
}

// CancelEvent disarms ev on fd and immediately fires its waiter, used to
// unblock a fiber that timed out waiting for ev (spec §4.7, "do_io").
func (io *IOManager) CancelEvent(fd int, ev reactor.EventMask) bool {
	c := io.getFdContext(fd, false)
	if c == nil {
		return false
	}

	c.mu.Lock()
	if c.events&ev == 0 {
		c.mu.Unlock()
		return false
	}

	newMask := c.events &^ ev
	var err error
	if newMask == reactor.None {
		err = io.poller.Delete(uintptr(fd))
	} else {
		err = io.poller.Modify(uintptr(fd), newMask, uintptr(fd))
	}
	if err != nil {
		c.mu.Unlock()
		return false
	}
	io.pending.Add(-1)
	io.triggerEvent(c, ev)
	c.mu.Unlock()
	return true
}

// CancelAll disarms and fires every direction registered on fd.
func (io *IOManager) CancelAll(fd int) bool {
	c := io.getFdContext(fd, false)
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == reactor.None {
		return false
	}

	if err := io.poller.Delete(uintptr(fd)); err != nil {
		return false
	}

	if c.events&reactor.Read != 0 {
		io.triggerEvent(c, reactor.Read)
		io.pending.Add(-1)
	}
	if c.events&reactor.Write != 0 {
		io.triggerEvent(c, reactor.Write)
		io.pending.Add(-1)
	}
	return true
}

// triggerEvent must be called with c.mu held: it clears ev from c's
// registered set and hands the waiter back to the scheduler.
func (io *IOManager) triggerEvent(c *fdContext, ev reactor.EventMask) {
	c.events &^= ev
	ectx := c.ctxFor(ev)
	if ectx.cb != nil {
		cb := ectx.cb
		io.exec.Submit(cb)
	} else if ectx.fiber != nil {
		io.Scheduler.ScheduleFiber(ectx.fiber)
	}
	ectx.reset()
}

// tickle wakes a worker blocked in idle() by writing to the eventfd, but
// only when some worker actually is idle (iomanager.cpp's
// hasIdleThreads() guard avoids needless writes on every enqueue).
func (io *IOManager) tickle() {
	if io.Scheduler.IdleCount() == 0 {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(io.tickleFd, buf[:]); err != nil && err != unix.EAGAIN {
		io.Logger.Warnw("tickle write failed", "error", err)
	}
}

// idle is the IOManager's replacement for Scheduler's default idle loop:
// block in epoll_wait bounded by the next timer deadline, then drain
// expired timers and ready fd events back onto the scheduler queue.
func (io *IOManager) idle() {
	events := make([]reactor.Event, maxEvents)
	batch := concurrency.NewRingBuffer[reactor.Event](256)

	for {
		if io.Stopping() {
			return
		}

		timeout := io.Manager.NextTimeout()
		if timeout < 0 || timeout > maxWaitMs {
			timeout = maxWaitMs
		}

		n, err := io.poller.Wait(events, int(timeout))
		for errors.Is(err, unix.EINTR) {
			n, err = io.poller.Wait(events, int(timeout))
		}
		if err != nil {
			io.Logger.Errorw("epoll_wait failed", "error", err)
		}

		for _, cb := range io.Manager.ListExpired() {
			io.exec.Submit(cb)
		}

		for i := 0; i < n; i++ {
			batch.Enqueue(events[i])
		}
		for {
			ev, ok := batch.Dequeue()
			if !ok {
				break
			}
			io.handleReady(ev)
		}

		fiber.GetThis().Yield()
	}
}

func (io *IOManager) handleReady(ev reactor.Event) {
	if int(ev.Fd) == io.tickleFd {
		var dummy [8]byte
		for {
			n, _ := unix.Read(io.tickleFd, dummy[:])
			if n <= 0 {
				break
			}
		}
		return
	}

	c := io.getFdContext(int(ev.Fd), false)
	if c == nil {
		return
	}

	c.mu.Lock()
	real := ev.Mask & c.events
	if real == reactor.None {
		c.mu.Unlock()
		return
	}
	left := c.events &^ real
	var err error
	if left == reactor.None {
		err = io.poller.Delete(ev.Fd)
	} else {
		err = io.poller.Modify(ev.Fd, left, ev.Fd)
	}
	if err != nil {
		c.mu.Unlock()
		return
	}
	if real&reactor.Read != 0 {
		io.triggerEvent(c, reactor.Read)
		io.pending.Add(-1)
	}
	if real&reactor.Write != 0 {
		io.triggerEvent(c, reactor.Write)
		io.pending.Add(-1)
	}
	c.mu.Unlock()
}

// Close releases the epoll fd and the tickle eventfd.
func (io *IOManager) Close() error {
	unix.Close(io.tickleFd)
	return io.poller.Close()
}
