package control_test

import (
	"runtime"
	"testing"

	"github.com/coreflux/fiberrt/control"
)

func TestDebugProbesRegisterAndDump(t *testing.T) {
	dp := control.NewDebugProbes()
	dp.RegisterProbe("answer", func() any { return 42 })

	out := dp.DumpState()
	if out["answer"] != 42 {
		t.Fatalf("DumpState()[answer] = %v, want 42", out["answer"])
	}
}

func TestDebugProbesOverwriteByName(t *testing.T) {
	dp := control.NewDebugProbes()
	dp.RegisterProbe("x", func() any { return 1 })
	dp.RegisterProbe("x", func() any { return 2 })

	if got := dp.DumpState()["x"]; got != 2 {
		t.Fatalf("DumpState()[x] = %v, want 2 (second registration wins)", got)
	}
}

func TestRegisterPlatformProbesAddsCPUCount(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)

	out := dp.DumpState()
	if out["platform.cpus"] != runtime.NumCPU() {
		t.Fatalf("platform.cpus = %v, want %d", out["platform.cpus"], runtime.NumCPU())
	}
}
