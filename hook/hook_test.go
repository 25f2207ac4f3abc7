package hook_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/coreflux/fiberrt/fdmgr"
	"github.com/coreflux/fiberrt/hook"
	"github.com/coreflux/fiberrt/ioreactor"
)

func newSocketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newRuntime(t *testing.T) (*hook.Runtime, *ioreactor.IOManager) {
	t.Helper()
	io, err := ioreactor.New("hook-test", 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := io.Start(false); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { io.Stop(); io.Close() })

	fds := fdmgr.New()
	return hook.New(fds, io), io
}

// TestReadSuspendsUntilPeerWrites exercises the EAGAIN -> suspend fiber ->
// reactor wakeup -> retry -> success path through doIO.
func TestReadSuspendsUntilPeerWrites(t *testing.T) {
	rt, io := newRuntime(t)
	a, b := newSocketpair(t)
	rt.Fds.Get(a, true)

	result := make(chan struct{ n int; err error }, 1)
	if err := io.Submit(func() {
		hook.SetEnabled(true)
		buf := make([]byte, 16)
		n, err := rt.Read(a, buf)
		result <- struct {
			n   int
			err error
		}{n, err}
	}); err != nil {
		t.Fatal(err)
	}

	// Give the fiber a moment to hit EAGAIN and suspend on the reactor
	// before the peer makes the fd readable.
	time.Sleep(20 * time.Millisecond)
	if _, err := unix.Write(b, []byte("hi")); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	select {
	case r := <-result:
		if r.err != nil {
			t.Fatalf("Read returned error: %v", r.err)
		}
		if r.n != 2 {
			t.Fatalf("Read n = %d, want 2", r.n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not complete after peer wrote")
	}
}

// TestReadTimesOutWithoutPeerActivity exercises doIO's condition-timer
// path: EAGAIN with a recv timeout configured and no reactor wakeup must
// surface ETIMEDOUT instead of blocking forever.
func TestReadTimesOutWithoutPeerActivity(t *testing.T) {
	rt, io := newRuntime(t)
	a, _ := newSocketpair(t)
	ctx := rt.Fds.Get(a, true)
	ctx.SetTimeout(fdmgr.RecvTimeout, 20)

	result := make(chan error, 1)
	if err := io.Submit(func() {
		hook.SetEnabled(true)
		buf := make([]byte, 16)
		_, err := rt.Read(a, buf)
		result <- err
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-result:
		if err != unix.ETIMEDOUT {
			t.Fatalf("Read error = %v, want ETIMEDOUT", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not time out")
	}
}

// TestSleepSuspendsFiberAndResumes exercises Sleep's timer-suspend path:
// the calling fiber yields and must be woken by the IOManager's timer
// firing ScheduleFiber, not left parked forever.
func TestSleepSuspendsFiberAndResumes(t *testing.T) {
	rt, io := newRuntime(t)

	woke := make(chan struct{})
	start := time.Now()
	if err := io.Submit(func() {
		hook.SetEnabled(true)
		rt.Sleep(20 * time.Millisecond)
		close(woke)
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-woke:
		if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
			t.Fatalf("Sleep returned after %v, want >= 20ms", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep never resumed its fiber")
	}
}

// TestHookDisabledPassesThrough confirms doIO is a pure passthrough when
// the calling OS thread has not opted into hooking (SetEnabled never
// called), matching the design note that hook's functions are
// opt-in, not a global interception.
func TestHookDisabledPassesThrough(t *testing.T) {
	rt, _ := newRuntime(t)
	a, b := newSocketpair(t)
	rt.Fds.Get(a, true)

	if _, err := unix.Write(b, []byte("x")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	buf := make([]byte, 1)
	n, err := rt.Read(a, buf)
	if err != nil {
		t.Fatalf("Read with hooking disabled: %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
}
