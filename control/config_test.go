package control_test

import (
	"testing"
	"time"

	"github.com/coreflux/fiberrt/control"
)

func TestConfigStoreSetAndSnapshot(t *testing.T) {
	cs := control.NewConfigStore()
	cs.SetConfig(map[string]any{"workers": 4, "addr": ":9090"})

	snap := cs.GetSnapshot()
	if snap["workers"] != 4 {
		t.Fatalf("workers = %v, want 4", snap["workers"])
	}
	if snap["addr"] != ":9090" {
		t.Fatalf("addr = %v, want :9090", snap["addr"])
	}
}

func TestConfigStoreSnapshotIsCopy(t *testing.T) {
	cs := control.NewConfigStore()
	cs.SetConfig(map[string]any{"k": "v1"})
	snap := cs.GetSnapshot()
	snap["k"] = "mutated"

	if got := cs.GetSnapshot()["k"]; got != "v1" {
		t.Fatalf("GetSnapshot returned a live map, mutation leaked through: %v", got)
	}
}

func TestConfigStoreOnReloadFiresOnSetConfig(t *testing.T) {
	cs := control.NewConfigStore()
	fired := make(chan struct{}, 1)
	cs.OnReload(func() { fired <- struct{}{} })

	cs.SetConfig(map[string]any{"a": 1})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnReload listener did not fire after SetConfig")
	}
}

func TestConfigStoreMergeKeepsUntouchedKeys(t *testing.T) {
	cs := control.NewConfigStore()
	cs.SetConfig(map[string]any{"a": 1, "b": 2})
	cs.SetConfig(map[string]any{"b": 3})

	snap := cs.GetSnapshot()
	if snap["a"] != 1 {
		t.Fatalf("a = %v, want 1 (untouched by second SetConfig)", snap["a"])
	}
	if snap["b"] != 3 {
		t.Fatalf("b = %v, want 3 (overwritten by second SetConfig)", snap["b"])
	}
}
