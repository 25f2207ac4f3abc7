// File: scheduler/scheduler.go
// Author: momentics <momentics@gmail.com>
//
// Scheduler is the M:N fiber scheduler from scheduler.cpp, ported task
// for task: a single mutex-guarded FIFO of Task{Fiber|Callback,
// ThreadHint}, one worker OS thread per configured slot (plus the
// caller's own thread when useCaller), and a per-worker idle fiber that
// runs when the queue has nothing runnable for that worker.
//
// The FIFO itself is github.com/eapache/queue.Queue, a ring-buffer queue
// that only supports front-remove/back-add (no arbitrary-index removal).
// Thread-affinity skipping is therefore done by scanning: a worker pops
// from the front repeatedly, stashing mismatched tasks into a holding
// slice, until it finds a task it may run or exhausts the queue's
// original length; stashed tasks are pushed back before the worker
// blocks. This reproduces scheduler.cpp's std::list::iterator scan
// (spec §4.4, "thread affinity") within queue's front/back-only API.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/coreflux/fiberrt/api"
	"github.com/coreflux/fiberrt/control"
	"github.com/coreflux/fiberrt/fiber"
	"github.com/coreflux/fiberrt/thread"
)

// Scheduler implements api.Scheduler.
type Scheduler struct {
	name       string
	numWorkers int
	useCaller  bool

	mu    sync.Mutex
	tasks *queue.Queue

	activeCount atomic.Int32
	idleCount   atomic.Int32
	stopping    atomic.Bool

	workers      []*thread.Thread
	rootThreadID int32

	schedulerFiber *fiber.Fiber // only set when useCaller

	// TickleFn wakes any thread that may be blocked inside idle() so it
	// re-checks the queue or the stopping flag. The base Scheduler has
	// no reactor to wake, so idle() simply polls on a short interval
	// (scheduler.cpp's "sleep(1); yield()" loop); ioreactor.IOManager
	// overrides this with an eventfd write (spec §4.6).
	TickleFn func()

	// IdleFn lets a subclass replace the default sleep-and-yield idle
	// loop, e.g. ioreactor.IOManager installs one that blocks in
	// epoll_wait instead.
	IdleFn func(s *Scheduler)

	// Logger receives worker lifecycle diagnostics; defaults to a
	// no-op logger so library use stays silent unless a caller opts in.
	Logger *zap.SugaredLogger

	startOnce sync.Once
}

var _ api.Scheduler = (*Scheduler)(nil)

// New constructs a Scheduler with numWorkers additional OS threads (not
// counting the caller's thread when useCaller is true).
func New(name string, numWorkers int, useCaller bool) *Scheduler {
	return &Scheduler{
		name:       name,
		numWorkers: numWorkers,
		useCaller:  useCaller,
		tasks:      queue.New(),
		Logger:     control.NewNopLogger(),
	}
}

// Now returns monotonic time in nanoseconds.
func (s *Scheduler) Now() int64 {
	return time.Now().UnixNano()
}

// IdleCount returns how many workers are currently parked in idle().
// ioreactor uses this to skip waking threads when none are sleeping.
func (s *Scheduler) IdleCount() int32 {
	return s.idleCount.Load()
}

// ActiveCount returns how many workers are currently running a task.
func (s *Scheduler) ActiveCount() int32 {
	return s.activeCount.Load()
}

// QueueLen returns the number of tasks currently waiting in the FIFO.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Length()
}

// ScheduleFiber enqueues f for resumption on any worker thread.
func (s *Scheduler) ScheduleFiber(f api.Fiber) error {
	return s.enqueue(api.Task{Fiber: f})
}

// ScheduleOnThread enqueues f for resumption specifically on tid.
func (s *Scheduler) ScheduleOnThread(f api.Fiber, tid int32) error {
	return s.enqueue(api.Task{Fiber: f, ThreadHint: tid})
}

// Submit enqueues fn to run on a fresh fiber on any worker thread.
func (s *Scheduler) Submit(fn func()) error {
	return s.enqueue(api.Task{Callback: fn})
}

func (s *Scheduler) enqueue(t api.Task) error {
	if s.stopping.Load() {
		return api.ErrSchedulerStopped
	}
	s.mu.Lock()
	wasEmpty := s.tasks.Length() == 0
	s.tasks.Add(t)
	s.mu.Unlock()
	// Tickle only when the queue was empty before this add (scheduler.cpp's
	// scheduleNoLock: need_tickle = m_tasks.empty()) — a worker already
	// running the FIFO will reach this task on its own.
	if wasEmpty && s.TickleFn != nil {
		s.TickleFn()
	}
	return nil
}

// NumWorkers returns the current number of worker OS threads, including
// the caller's thread if useCaller was set.
func (s *Scheduler) NumWorkers() int {
	n := len(s.workers)
	if s.useCaller {
		n++
	}
	return n
}

// Resize adjusts the worker pool by spawning additional OS threads.
// Shrinking is not supported: a running worker only exits via Stop, same
// as scheduler.cpp which never removes a thread mid-run.
func (s *Scheduler) Resize(newCount int) {
	s.mu.Lock()
	delta := newCount - s.numWorkers
	s.numWorkers = newCount
	started := len(s.workers) > 0 || s.useCaller
	s.mu.Unlock()
	if started && delta > 0 {
		s.spawnWorkers(delta)
	}
}

// Start spins up the worker pool. When useCaller is true the calling
// thread becomes a worker too, running through a dedicated scheduler
// fiber (scheduler.cpp's m_schedulerFiber) instead of returning — Start
// only returns once that fiber yields back out (i.e. once Stop runs).
func (s *Scheduler) Start(useCaller bool) error {
	var err error
	s.startOnce.Do(func() {
		s.Logger.Infow("starting scheduler", "name", s.name, "workers", s.numWorkers, "useCaller", useCaller)
		s.useCaller = useCaller
		if useCaller {
			fiber.GetThis() // ensure the caller's root fiber exists
			s.rootThreadID = thread.GetThreadID()
			sf := fiber.New(s.run, false)
			s.schedulerFiber = sf
			fiber.SetSchedulerFiber(sf)
		}
		s.spawnWorkers(s.numWorkers)
	})
	if useCaller && s.schedulerFiber != nil {
		s.schedulerFiber.Resume()
	}
	return err
}

func (s *Scheduler) spawnWorkers(n int) {
	for i := 0; i < n; i++ {
		idx := len(s.workers)
		t := thread.NewWithLogger(s.run, s.name+"_worker", s.Logger)
		s.Logger.Debugw("spawned worker thread", "scheduler", s.name, "index", idx)
		s.workers = append(s.workers, t)
	}
}

// Stop requests shutdown and blocks until every worker (and the caller's
// scheduler fiber, if any) has drained and exited.
func (s *Scheduler) Stop() {
	if s.stopping.Swap(true) {
		return
	}
	s.Logger.Infow("stopping scheduler", "name", s.name)
	for i := 0; i < s.numWorkers; i++ {
		if s.TickleFn != nil {
			s.TickleFn()
		}
	}
	if s.schedulerFiber != nil {
		if s.TickleFn != nil {
			s.TickleFn()
		}
		// Start(true) normally has the scheduler fiber running already;
		// only resume it here if it has not been started yet.
		if s.schedulerFiber.State() == api.FiberReady {
			s.schedulerFiber.Resume()
		}
	}
	for _, w := range s.workers {
		w.Join()
	}
	for s.schedulerFiber != nil && s.schedulerFiber.State() != api.FiberTerm {
		time.Sleep(time.Millisecond)
	}
}

// Stopping reports whether Stop has been called and the scheduler has
// drained: the task queue is empty and no worker is running a task.
func (s *Scheduler) Stopping() bool {
	s.mu.Lock()
	empty := s.tasks.Length() == 0
	s.mu.Unlock()
	return s.stopping.Load() && empty && s.activeCount.Load() == 0
}

// run is the worker main loop (scheduler.cpp's Scheduler::run): pop a
// runnable task, resume its fiber or spin one up for its callback, and
// fall back to the idle fiber when the queue has nothing for this
// thread.
func (s *Scheduler) run() {
	tid := thread.GetThreadID()
	fiber.SetThis(fiber.GetThis()) // ensure root fiber exists for this thread

	idleFiber := fiber.New(func() { s.idle() }, true)

	for {
		task, tickleOthers := s.pop(tid)
		if tickleOthers && s.TickleFn != nil {
			s.TickleFn()
		}

		switch {
		case task.Fiber != nil:
			s.activeCount.Add(1)
			if task.Fiber.State() != api.FiberTerm {
				task.Fiber.Resume()
			}
			s.activeCount.Add(-1)
		case task.Callback != nil:
			s.activeCount.Add(1)
			cbFiber := fiber.New(task.Callback, true)
			cbFiber.Resume()
			s.activeCount.Add(-1)
		default:
			if idleFiber.State() == api.FiberTerm {
				return
			}
			s.idleCount.Add(1)
			idleFiber.Resume()
			s.idleCount.Add(-1)
		}
	}
}

// pop scans the FIFO for the first task this thread may run, pushing
// thread-mismatched tasks (scanned ahead of it) back to the tail.
// tickleOthers reports whether a mismatched task was found or tasks
// remain in the queue, meaning some other thread should be woken to
// claim them.
func (s *Scheduler) pop(tid int32) (api.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.tasks.Length()
	var deferred []api.Task
	var found api.Task
	tickleOthers := false

	for i := 0; i < n; i++ {
		t := s.tasks.Peek().(api.Task)
		s.tasks.Remove()
		if t.ThreadHint != 0 && t.ThreadHint != tid {
			deferred = append(deferred, t)
			tickleOthers = true
			continue
		}
		found = t
		break
	}
	for _, t := range deferred {
		s.tasks.Add(t)
	}
	if s.tasks.Length() > 0 {
		tickleOthers = true
	}
	return found, tickleOthers
}

// idle runs when a worker finds nothing to do. The base implementation
// just polls; IOManager installs IdleFn to block in epoll_wait instead
// (spec §4.6).
func (s *Scheduler) idle() {
	if s.IdleFn != nil {
		s.IdleFn(s)
		return
	}
	for !s.Stopping() {
		time.Sleep(10 * time.Millisecond)
		fiber.GetThis().Yield()
	}
}
