package control_test

import (
	"testing"
	"time"

	"github.com/coreflux/fiberrt/api"
	"github.com/coreflux/fiberrt/control"
)

func TestRuntimeImplementsControlAndDebug(t *testing.T) {
	var _ api.Control = control.NewRuntime(control.NewConfigStore(), control.NewMetricsRegistry())
	var _ api.Debug = control.NewRuntime(control.NewConfigStore(), control.NewMetricsRegistry())
}

func TestRuntimeGetSetConfigRoundTrip(t *testing.T) {
	rt := control.NewRuntime(control.NewConfigStore(), control.NewMetricsRegistry())

	if err := rt.SetConfig(map[string]any{"workers": 8}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if got := rt.GetConfig()["workers"]; got != 8 {
		t.Fatalf("GetConfig()[workers] = %v, want 8", got)
	}
}

func TestRuntimeRegisterDebugProbeVisibleInDumpState(t *testing.T) {
	rt := control.NewRuntime(control.NewConfigStore(), control.NewMetricsRegistry())
	rt.RegisterDebugProbe("custom", func() any { return "ok" })

	out := rt.DumpState()
	if out["custom"] != "ok" {
		t.Fatalf("DumpState()[custom] = %v, want ok", out["custom"])
	}
	if _, ok := out["platform.cpus"]; !ok {
		t.Fatal("DumpState() missing platform.cpus registered by NewRuntime")
	}
}

func TestRuntimeOnReloadFiresOnSetConfig(t *testing.T) {
	rt := control.NewRuntime(control.NewConfigStore(), control.NewMetricsRegistry())
	fired := make(chan struct{}, 1)
	rt.OnReload(func() { fired <- struct{}{} })

	rt.SetConfig(map[string]any{"a": 1})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnReload listener did not fire after SetConfig")
	}
}
