// File: runtime/introspect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Implements api.Control and api.Debug: configuration snapshots, a
// reload-notification list, aggregated metrics and a named debug-probe
// registry. None of this is part of the principal-facing API surface
// §6 describes — it is operator/diagnostic tooling layered on top.

package runtime

import (
	"time"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/monitor"
)

var (
	_ api.Control = (*Runtime)(nil)
	_ api.Debug   = (*Runtime)(nil)
)

// GetConfig returns a snapshot of the tunables Init was built with.
func (rt *Runtime) GetConfig() map[string]any {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return map[string]any{
		"service_capacity":  rt.cfg.ServiceCapacity,
		"queue_config":      rt.cfg.QueueConfig,
		"bus_config":        rt.cfg.BusConfig,
		"monitor_config":    rt.cfg.MonitorConfig,
		"watchdog_config":   rt.cfg.WatchdogConfig,
		"quota_reset_every": rt.cfg.QuotaResetEvery,
	}
}

// SetConfig only supports adjusting the quota-reset cadence; every other
// subsystem's tunables are fixed for the lifetime of a Runtime once Init has
// built them. A new cadence takes effect the next time Start launches the
// reset ticker; a ticker already running keeps its old interval until
// Stop. Unknown keys are ignored rather than rejected,
// matching a hot-reload surface that is expected to grow over time.
func (rt *Runtime) SetConfig(cfg map[string]any) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if v, ok := cfg["quota_reset_every"]; ok {
		d, ok := v.(int64)
		if !ok {
			return api.NewFault(api.CodeInvalidArgument, "quota_reset_every must be an int64 nanosecond count")
		}
		rt.cfg.QuotaResetEvery = time.Duration(d)
	}
	for _, fn := range rt.reloadFns {
		fn()
	}
	return nil
}

// Stats implements api.Control, returning aggregated global metrics: queue
// depths, lifetime counters and safe-mode status.
func (rt *Runtime) Stats() map[string]any {
	qs := rt.queue.Stats()
	return map[string]any{
		"queue":           qs,
		"safe_mode":       rt.watchdog.IsSafeMode(),
		"watchdog":        rt.watchdog.Stats(),
		"services_active": len(rt.registry.ListAll()),
	}
}

// ServiceMetrics returns the composed per-principal view: handler-monitor
// aggregates plus quota usage, the union SPEC_FULL.md's metrics section
// describes for a single principal.
func (rt *Runtime) ServiceMetrics(id api.ServiceID) (monitor.Stats, api.QuotaUsage) {
	return rt.monitor.Stats(id), rt.quota.Usage(id)
}

// OnReload registers fn to run whenever SetConfig applies a change.
func (rt *Runtime) OnReload(fn func()) {
	rt.mu.Lock()
	rt.reloadFns = append(rt.reloadFns, fn)
	rt.mu.Unlock()
}

// RegisterDebugProbe implements api.Control.
func (rt *Runtime) RegisterDebugProbe(name string, fn func() any) {
	rt.RegisterProbe(name, fn)
}

// RegisterProbe implements api.Debug.
func (rt *Runtime) RegisterProbe(name string, fn func() any) {
	rt.mu.Lock()
	rt.probes[name] = fn
	rt.mu.Unlock()
}

// DumpState implements api.Debug: a snapshot of every registered probe's
// current value, plus the dependency graph's edge list and the service
// registry's full listing.
func (rt *Runtime) DumpState() map[string]any {
	rt.mu.Lock()
	probes := make(map[string]func() any, len(rt.probes))
	for k, v := range rt.probes {
		probes[k] = v
	}
	rt.mu.Unlock()

	out := map[string]any{
		"services":   rt.registry.ListAll(),
		"dependency": rt.depgraph.Dump(),
	}
	for name, fn := range probes {
		out[name] = fn()
	}
	return out
}
