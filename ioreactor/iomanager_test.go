package ioreactor_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/coreflux/fiberrt/api"
	"github.com/coreflux/fiberrt/fiber"
	"github.com/coreflux/fiberrt/ioreactor"
	"github.com/coreflux/fiberrt/reactor"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestAddEventRejectsDuplicate(t *testing.T) {
	io, err := ioreactor.New("test", 1, false)
	if err != nil {
		t.Fatal(err)
	}
	defer io.Close()

	r, _ := newPipe(t)

	if err := io.AddEvent(r, reactor.Read, func() {}); err != nil {
		t.Fatalf("first AddEvent: %v", err)
	}
	if err := io.AddEvent(r, reactor.Read, func() {}); err != api.ErrDuplicateEvent {
		t.Fatalf("second AddEvent on same fd/direction: err = %v, want ErrDuplicateEvent", err)
	}
}

func TestDelEventThenCancelEventNoOp(t *testing.T) {
	io, err := ioreactor.New("test", 1, false)
	if err != nil {
		t.Fatal(err)
	}
	defer io.Close()

	r, _ := newPipe(t)

	if err := io.AddEvent(r, reactor.Write, func() {}); err != nil {
		t.Fatal(err)
	}
	if ok := io.DelEvent(r, reactor.Write); !ok {
		t.Fatal("DelEvent on armed direction returned false")
	}
	if ok := io.DelEvent(r, reactor.Write); ok {
		t.Fatal("DelEvent on already-disarmed direction returned true")
	}
	if ok := io.CancelEvent(r, reactor.Write); ok {
		t.Fatal("CancelEvent on disarmed direction returned true")
	}
}

func TestCancelEventFiresCallbackWithoutReadiness(t *testing.T) {
	io, err := ioreactor.New("test", 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := io.Start(false); err != nil {
		t.Fatal(err)
	}
	defer func() { io.Stop(); io.Close() }()

	r, _ := newPipe(t)

	fired := make(chan struct{})
	if err := io.AddEvent(r, reactor.Read, func() { close(fired) }); err != nil {
		t.Fatal(err)
	}
	if ok := io.CancelEvent(r, reactor.Read); !ok {
		t.Fatal("CancelEvent returned false")
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("CancelEvent did not submit the waiter's callback")
	}
}

// TestFiberSuspendsOnAddEventThenResumes drives a callback through the
// real fiber-suspend path (AddEvent with cb == nil registers the
// running fiber itself as the waiter, then the callback yields) rather
// than the plain-callback fallback the other tests above use. This is
// the path hook.doIO relies on, and the one that deadlocked before
// GetThis() inside a running fiber resolved to that fiber instead of
// its thread's root fiber.
func TestFiberSuspendsOnAddEventThenResumes(t *testing.T) {
	io, err := ioreactor.New("test", 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := io.Start(false); err != nil {
		t.Fatal(err)
	}
	defer func() { io.Stop(); io.Close() }()

	r, w := newPipe(t)

	resumed := make(chan struct{})
	if err := io.Submit(func() {
		if err := io.AddEvent(r, reactor.Read, nil); err != nil {
			t.Error(err)
			return
		}
		fiber.GetThis().Yield()
		close(resumed)
	}); err != nil {
		t.Fatal(err)
	}

	unix.Write(w, []byte("x"))

	select {
	case <-resumed:
	case <-time.After(2 * time.Second):
		t.Fatal("fiber suspended on AddEvent was never resumed")
	}
}

func TestCancelAllClearsBothDirections(t *testing.T) {
	io, err := ioreactor.New("test", 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := io.Start(false); err != nil {
		t.Fatal(err)
	}
	defer func() { io.Stop(); io.Close() }()

	r, _ := newPipe(t)

	readFired := make(chan struct{})
	writeFired := make(chan struct{})
	if err := io.AddEvent(r, reactor.Read, func() { close(readFired) }); err != nil {
		t.Fatal(err)
	}
	if err := io.AddEvent(r, reactor.Write, func() { close(writeFired) }); err != nil {
		t.Fatal(err)
	}

	if ok := io.CancelAll(r); !ok {
		t.Fatal("CancelAll returned false")
	}
	select {
	case <-readFired:
	case <-time.After(2 * time.Second):
		t.Fatal("CancelAll did not fire the read waiter")
	}
	select {
	case <-writeFired:
	case <-time.After(2 * time.Second):
		t.Fatal("CancelAll did not fire the write waiter")
	}

	if ok := io.CancelAll(r); ok {
		t.Fatal("second CancelAll on an already-cleared fd returned true")
	}
}
