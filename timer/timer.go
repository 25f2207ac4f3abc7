// File: timer/timer.go
// Author: momentics <momentics@gmail.com>
//
// TimerManager ports mycoroutine/timer.cpp's std::set<shared_ptr<Timer>>
// min-ordered timer set onto container/heap, matching the heap-based
// design the teacher's own internal/concurrency/scheduler.go stub had
// already committed to (it imported container/heap and golang.org/x/sys/cpu
// before being abandoned mid-write; this package finishes that intent
// properly instead of patching the broken stub).

package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/coreflux/fiberrt/api"
)

// timerEntry is one armed deadline. index is maintained by heap.Interface
// for O(log n) removal from the middle of the heap (Cancel, Refresh).
type timerEntry struct {
	next      time.Time
	ms        int64
	cb        func()
	recurring bool
	index     int
	manager   *Manager
}

var _ api.Timer = (*timerEntry)(nil)

// Cancel removes the timer from its manager's heap. Returns false if it
// already fired (non-recurring) or was already cancelled.
func (t *timerEntry) Cancel() bool {
	m := t.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.cb == nil {
		return false
	}
	t.cb = nil
	if t.index >= 0 {
		heap.Remove(&m.heap, t.index)
	}
	return true
}

// Refresh rearms the timer ms milliseconds from now with the same
// callback, reinserting it at its new position in the heap.
func (t *timerEntry) Refresh(ms int64) bool {
	m := t.manager
	m.mu.Lock()
	if t.cb == nil {
		m.mu.Unlock()
		return false
	}
	if t.index >= 0 {
		heap.Remove(&m.heap, t.index)
	}
	t.ms = ms
	t.next = time.Now().Add(time.Duration(ms) * time.Millisecond)
	heap.Push(&m.heap, t)
	atFront := t.index == 0 && !m.tickled
	if atFront {
		m.tickled = true
	}
	m.mu.Unlock()
	if atFront && m.OnTimerInsertedAtFront != nil {
		m.OnTimerInsertedAtFront()
	}
	return true
}

// timerHeap implements container/heap.Interface ordered by deadline,
// the Go stand-in for the C++ set<..., Comparator>.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].next.Before(h[j].next) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Manager is a TimerManager: a heap-ordered set of deadlines plus the
// "tickled" bookkeeping that lets the owning reactor avoid redundant
// wakeups when a timer is inserted at the front of the queue more than
// once between two getNextTimer() polls.
type Manager struct {
	mu      sync.Mutex
	heap    timerHeap
	tickled bool
	prev    time.Time

	// OnTimerInsertedAtFront is invoked, at most once per NextTimeout
	// call, when a newly-armed timer becomes the next one due. The
	// ioreactor package wires this to its eventfd tickle so a blocked
	// epoll_wait is woken to recompute its timeout (spec §4.2).
	OnTimerInsertedAtFront func()
}

var _ api.TimerManager = (*Manager)(nil)

// New constructs an empty TimerManager.
func New() *Manager {
	return &Manager{prev: time.Now()}
}

// AddTimer arms a new timer ms milliseconds from now.
func (m *Manager) AddTimer(ms int64, cb func(), recurring bool) api.Timer {
	t := &timerEntry{
		next:      time.Now().Add(time.Duration(ms) * time.Millisecond),
		ms:        ms,
		cb:        cb,
		recurring: recurring,
		manager:   m,
	}
	m.insert(t)
	return t
}

// AddConditionTimer arms a timer whose callback only runs if weak still
// resolves live at expiry, matching timer.cpp's OnTimer wrapper around a
// std::weak_ptr: a fiber that was already destroyed or reset should not
// have a stale wakeup fire against it.
func (m *Manager) AddConditionTimer(ms int64, cb func(), weak func() (any, bool)) api.Timer {
	wrapped := func() {
		if _, ok := weak(); ok {
			cb()
		}
	}
	return m.AddTimer(ms, wrapped, false)
}

func (m *Manager) insert(t *timerEntry) {
	m.mu.Lock()
	heap.Push(&m.heap, t)
	atFront := t.index == 0 && !m.tickled
	if atFront {
		m.tickled = true
	}
	m.mu.Unlock()
	if atFront && m.OnTimerInsertedAtFront != nil {
		m.OnTimerInsertedAtFront()
	}
}

// NextTimeout returns milliseconds until the earliest deadline, 0 if one
// has already passed, or -1 if the heap is empty. Clears the tickled
// flag, re-arming the at-front hook for the next insertion.
func (m *Manager) NextTimeout() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickled = false
	if len(m.heap) == 0 {
		return -1
	}
	now := time.Now()
	next := m.heap[0].next
	if !now.Before(next) {
		return 0
	}
	return next.Sub(now).Milliseconds()
}

// HasTimer reports whether any timer is armed.
func (m *Manager) HasTimer() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.heap) > 0
}

// ListExpired drains every timer whose deadline has passed (or, on a
// detected clock rollback of more than an hour, every armed timer
// unconditionally) and returns their callbacks in expiration order.
// Recurring timers are rearmed for another round before the callback
// slice is returned.
func (m *Manager) ListExpired() []func() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	rollover := m.detectClockRollover(now)

	var cbs []func()
	for len(m.heap) > 0 && (rollover || !m.heap[0].next.After(now)) {
		t := heap.Pop(&m.heap).(*timerEntry)
		if t.cb == nil {
			continue
		}
		cbs = append(cbs, t.cb)
		if t.recurring {
			t.next = now.Add(time.Duration(t.ms) * time.Millisecond)
			heap.Push(&m.heap, t)
		} else {
			t.cb = nil
		}
	}
	return cbs
}

// detectClockRollover reports whether the wall clock has jumped back by
// more than an hour since the last check, mirroring timer.cpp's NTP/manual
// adjustment guard: without it, a backward clock step could strand every
// timer until the step amount elapses again.
func (m *Manager) detectClockRollover(now time.Time) bool {
	rollover := now.Before(m.prev.Add(-1 * time.Hour))
	m.prev = now
	return rollover
}
