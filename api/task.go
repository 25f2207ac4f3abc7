// File: api/task.go
// Author: momentics <momentics@gmail.com>
//
// Task is the unit the Scheduler's FIFO queue moves around: either a
// fiber to resume, or a bare callback the scheduler runs on a fresh
// fiber, optionally pinned to a specific kernel thread.

package api

// Task wraps exactly one of Fiber or Callback. ThreadHint, when non-zero,
// restricts execution to the worker whose kernel tid matches it; other
// workers that pop the task must put it back at the tail instead of
// running it (spec §4.4, "thread affinity").
type Task struct {
	Fiber      Fiber
	Callback   func()
	ThreadHint int32 // 0 means "any thread"
}

// Runnable reports whether the task carries executable work.
func (t Task) Runnable() bool {
	return t.Fiber != nil || t.Callback != nil
}
