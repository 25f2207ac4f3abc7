package fdmgr_test

import (
	"os"
	"testing"

	"github.com/coreflux/fiberrt/fdmgr"
)

func TestGetAutoCreateAndLookup(t *testing.T) {
	m := fdmgr.New()

	if ctx := m.Get(3, false); ctx != nil {
		t.Fatal("Get(autoCreate=false) on untracked fd returned non-nil")
	}

	ctx := m.Get(3, true)
	if ctx == nil {
		t.Fatal("Get(autoCreate=true) returned nil")
	}
	if got := m.Get(3, false); got != ctx {
		t.Fatal("second Get did not return the same *Ctx")
	}
}

func TestGetGrowthNeverStallsForSmallFd(t *testing.T) {
	// Looks up every fd from 60 to 129, crossing the initial 64-slot
	// backing array and the resizes after it; each lookup must create a
	// context, so growth always reaches at least fd+1.
	m := fdmgr.New()
	for fd := 60; fd < 130; fd++ {
		if ctx := m.Get(fd, true); ctx == nil {
			t.Fatalf("Get(%d, true) returned nil", fd)
		}
	}
}

func TestTimeoutRoundTrip(t *testing.T) {
	m := fdmgr.New()
	ctx := m.Get(5, true)

	if got := ctx.Timeout(fdmgr.RecvTimeout); got != fdmgr.NoTimeout {
		t.Fatalf("default recv timeout = %d, want NoTimeout", got)
	}
	ctx.SetTimeout(fdmgr.RecvTimeout, 250)
	if got := ctx.Timeout(fdmgr.RecvTimeout); got != 250 {
		t.Fatalf("recv timeout after SetTimeout = %d, want 250", got)
	}
	if got := ctx.Timeout(fdmgr.SendTimeout); got != fdmgr.NoTimeout {
		t.Fatalf("send timeout should be unaffected, got %d", got)
	}
}

func TestDelThenGetAutoCreateRecreates(t *testing.T) {
	m := fdmgr.New()
	first := m.Get(9, true)
	first.SetTimeout(fdmgr.RecvTimeout, 99)

	m.Del(9)
	if got := m.Get(9, false); got != nil {
		t.Fatal("Get after Del with autoCreate=false returned non-nil")
	}

	second := m.Get(9, true)
	if second == first {
		t.Fatal("Get after Del returned the stale *Ctx")
	}
	if got := second.Timeout(fdmgr.RecvTimeout); got != fdmgr.NoTimeout {
		t.Fatalf("recreated ctx has stale timeout %d, want NoTimeout", got)
	}
}

func TestIsSocketDetection(t *testing.T) {
	// A regular file is not a socket; fdmgr must not force it nonblocking.
	f, err := os.CreateTemp(t.TempDir(), "fdmgr-test")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	m := fdmgr.New()
	ctx := m.Get(int(f.Fd()), true)
	if ctx.IsSocket() {
		t.Fatal("regular file reported as socket")
	}
}
