// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and hot-reload
// propagation. LoadFromViper feeds it from flags/env/YAML for
// cmd/fiberrtd; the runtime packages themselves never require a file on
// disk, matching the teacher's separation between "library" and
// "demo binary" configuration.

package control

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// SetConfig merges new values and dispatches reload if needed.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	cs.dispatchReload()
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners.
func (cs *ConfigStore) dispatchReload() {
	for _, fn := range cs.listeners {
		go fn()
	}
}

// LoadFromViper reads v's current settings (already configured by the
// caller with flags/env bindings and an optional config file) into the
// store and registers a file-watch that re-applies them on change and
// notifies reload listeners and hooks. cmd/fiberrtd reads its worker
// count and listen address once at startup; a reload updates the store
// but does not change the running server.
func LoadFromViper(cs *ConfigStore, v *viper.Viper) {
	apply := func() {
		cs.SetConfig(v.AllSettings())
		TriggerHotReload()
	}
	apply()
	v.OnConfigChange(func(_ fsnotify.Event) { apply() })
	v.WatchConfig()
}
