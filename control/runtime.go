// control/runtime.go
// Author: momentics <momentics@gmail.com>
//
// Runtime composes ConfigStore, MetricsRegistry, and DebugProbes behind
// the single api.Control surface cmd/fiberrtd hands to operators, the
// way the teacher's facade package composes its own control pieces
// behind one object instead of exposing three.

package control

import "github.com/coreflux/fiberrt/api"

// Runtime is the default api.Control implementation.
type Runtime struct {
	cfg     *ConfigStore
	metrics *MetricsRegistry
	probes  *DebugProbes
}

var _ api.Control = (*Runtime)(nil)
var _ api.Debug = (*Runtime)(nil)

// NewRuntime wires a ConfigStore, MetricsRegistry, and DebugProbes
// together into one Control/Debug surface.
func NewRuntime(cfg *ConfigStore, metrics *MetricsRegistry) *Runtime {
	r := &Runtime{cfg: cfg, metrics: metrics, probes: NewDebugProbes()}
	RegisterPlatformProbes(r.probes)
	return r
}

// GetConfig returns the current configuration snapshot.
func (r *Runtime) GetConfig() map[string]any {
	return r.cfg.GetSnapshot()
}

// SetConfig merges newCfg into the store and fires reload listeners.
func (r *Runtime) SetConfig(cfg map[string]any) error {
	r.cfg.SetConfig(cfg)
	return nil
}

// Stats returns the freeform metrics snapshot (the Prometheus
// collectors themselves are scraped separately via metrics.Registry).
func (r *Runtime) Stats() map[string]any {
	return r.metrics.GetSnapshot()
}

// OnReload registers fn to run whenever the config changes.
func (r *Runtime) OnReload(fn func()) {
	r.cfg.OnReload(fn)
}

// RegisterDebugProbe exposes a named introspection hook (api.Control's
// wider surface over RegisterProbe, matching the teacher's naming).
func (r *Runtime) RegisterDebugProbe(name string, fn func() any) {
	r.probes.RegisterProbe(name, fn)
}

// DumpState returns the output of every registered debug probe.
func (r *Runtime) DumpState() map[string]any {
	return r.probes.DumpState()
}

// RegisterProbe satisfies api.Debug directly (DumpState's counterpart).
func (r *Runtime) RegisterProbe(name string, fn func() any) {
	r.probes.RegisterProbe(name, fn)
}
