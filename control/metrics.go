// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring. Replaces the
// bare map-based registry with real Prometheus counters/gauges so the
// scheduler, timer, and reactor can expose operational metrics an
// operator actually scrapes, instead of a DumpState-only snapshot.

package control

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry is the runtime's Prometheus collector set plus a small
// freeform map for values that don't fit a counter/gauge shape (kept for
// Control.Stats() and debug probes).
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any

	Registry *prometheus.Registry

	TasksScheduled prometheus.Counter
	TasksCompleted prometheus.Counter
	ActiveWorkers  prometheus.Gauge
	IdleWorkers    prometheus.Gauge
	ArmedEvents    prometheus.Gauge
	TimersFired    prometheus.Counter
	TickleWrites   prometheus.Counter
}

// NewMetricsRegistry creates a registry with fiberrt's core gauges and
// counters already registered under the fiberrt_ namespace.
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()
	mr := &MetricsRegistry{
		metrics:  make(map[string]any),
		Registry: reg,
		TasksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fiberrt_tasks_scheduled_total",
			Help: "Total number of tasks (fibers or callbacks) enqueued onto the scheduler.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fiberrt_tasks_completed_total",
			Help: "Total number of tasks that finished running.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fiberrt_active_workers",
			Help: "Worker OS threads currently running a task.",
		}),
		IdleWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fiberrt_idle_workers",
			Help: "Worker OS threads currently parked in idle().",
		}),
		ArmedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fiberrt_armed_fd_events",
			Help: "Number of fd/direction pairs currently armed in the reactor.",
		}),
		TimersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fiberrt_timers_fired_total",
			Help: "Total number of timer callbacks that have run.",
		}),
		TickleWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fiberrt_tickle_writes_total",
			Help: "Total number of eventfd wake writes issued to idle workers.",
		}),
	}
	reg.MustRegister(
		mr.TasksScheduled, mr.TasksCompleted,
		mr.ActiveWorkers, mr.IdleWorkers,
		mr.ArmedEvents, mr.TimersFired, mr.TickleWrites,
	)
	return mr
}

// Set sets or updates a freeform metric key, for values that don't fit
// the Prometheus collectors above.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.mu.Unlock()
}

// GetSnapshot returns the latest freeform metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}
