// File: watchdog/watchdog.go
// Package watchdog implements the service watchdog (component C8): a
// background task that periodically scans watched principals for stale
// heartbeats, applies a bounded restart policy, and latches a process-wide
// safe mode when a critical principal times out.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package watchdog

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/internal/concurrency"
	"github.com/krakenos/kernel/registry"
)

// RestartFunc performs the service-layer half of a restart: cleanup and
// re-init of the principal identified by id. The watchdog only marks state
// and invokes this callback; it never frees or re-creates principals
// itself.
type RestartFunc func(id api.ServiceID) error

// Config tunes scan cadence and the restart callback.
type Config struct {
	ScanInterval time.Duration
	Restart      RestartFunc
	Logger       *log.Logger
}

// DefaultConfig scans once per second.
func DefaultConfig() Config {
	return Config{ScanInterval: time.Second, Logger: log.Default()}
}

type record struct {
	mu              sync.Mutex
	cfg             api.WatchdogConfig
	enabled         bool
	lastHeartbeat   int64
	restartAttempts uint32
	latched         bool
}

// Stats aggregates watchdog activity across all watched principals.
type Stats struct {
	TotalTimeouts    uint64
	TotalRestarts    uint64
	FailedRestarts   uint64
	CriticalFailures uint64
	SafeModeActive   bool
}

// Watchdog monitors liveness of registered principals.
type Watchdog struct {
	cfg   Config
	reg   *registry.Registry
	sched *concurrency.Scheduler

	mu      sync.Mutex
	records map[api.ServiceID]*record

	totalTimeouts    atomic.Uint64
	totalRestarts    atomic.Uint64
	failedRestarts   atomic.Uint64
	criticalFailures atomic.Uint64
	safeMode         atomic.Bool

	stopCh  chan struct{}
	wg      sync.WaitGroup
	pending api.Cancelable
}

// New builds a Watchdog bound to reg (used to stamp ERROR state on
// timeout and restart).
func New(cfg Config, reg *registry.Registry) *Watchdog {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Watchdog{cfg: cfg, reg: reg, sched: concurrency.NewScheduler(), records: make(map[api.ServiceID]*record)}
}

// RegisterService begins monitoring id under wc, stamping its initial
// heartbeat to now.
func (w *Watchdog) RegisterService(id api.ServiceID, wc api.WatchdogConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records[id] = &record{cfg: wc, enabled: true, lastHeartbeat: w.reg.NowMS()}
}

// UnregisterService stops monitoring id.
func (w *Watchdog) UnregisterService(id api.ServiceID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.records, id)
}

// UpdateHeartbeat stamps id's last-heartbeat to now. Intended to be called
// alongside registry.Heartbeat so the watchdog sees the same liveness
// signal the principal's own loop emits.
func (w *Watchdog) UpdateHeartbeat(id api.ServiceID) {
	w.mu.Lock()
	r, ok := w.records[id]
	w.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.lastHeartbeat = w.reg.NowMS()
	r.mu.Unlock()
}

// Enable resumes watchdog checks for id after a prior Disable.
func (w *Watchdog) Enable(id api.ServiceID) {
	w.setEnabled(id, true)
}

// Disable suspends watchdog checks for id without removing its record.
func (w *Watchdog) Disable(id api.ServiceID) {
	w.setEnabled(id, false)
}

func (w *Watchdog) setEnabled(id api.ServiceID, enabled bool) {
	w.mu.Lock()
	r, ok := w.records[id]
	w.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
}

// ResetRestarts zeroes id's restart-attempt counter and unlatches it.
func (w *Watchdog) ResetRestarts(id api.ServiceID) {
	w.mu.Lock()
	r, ok := w.records[id]
	w.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.restartAttempts = 0
	r.latched = false
	r.mu.Unlock()
}

// Start launches the periodic scan task: a chain of one-shot Scheduler
// callbacks, each rescheduling the next on completion, rather than a raw
// time.Ticker. Stop cancels the pending link before it can fire again.
func (w *Watchdog) Start() {
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	w.scheduleNext()
	go func() {
		defer w.wg.Done()
		<-w.stopCh
		w.mu.Lock()
		pending := w.pending
		w.mu.Unlock()
		if pending != nil {
			pending.Cancel()
		}
	}()
}

func (w *Watchdog) scheduleNext() {
	c, _ := w.sched.Schedule(w.cfg.ScanInterval.Nanoseconds(), func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		w.Scan()
		w.scheduleNext()
	})
	w.mu.Lock()
	w.pending = c
	w.mu.Unlock()
}

// Stop halts the periodic scan task and waits for it to exit.
func (w *Watchdog) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
}

// Scan performs one watchdog sweep over every registered record. It is
// exported so tests (and a caller-driven external ticker, per the design
// note that the core mandates no internal timer thread) can invoke it
// directly.
func (w *Watchdog) Scan() {
	w.mu.Lock()
	ids := make([]api.ServiceID, 0, len(w.records))
	for id := range w.records {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	now := w.reg.NowMS()
	for _, id := range ids {
		w.scanOne(id, now)
	}
}

func (w *Watchdog) scanOne(id api.ServiceID, now int64) {
	w.mu.Lock()
	r, ok := w.records[id]
	w.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return
	}
	elapsed := now - r.lastHeartbeat
	timeoutMS := int64(r.cfg.TimeoutMS)
	latched := r.latched

	if elapsed > timeoutMS && !latched {
		r.latched = true
		critical := r.cfg.Critical
		autoRestart := r.cfg.AutoRestart
		maxRestarts := r.cfg.MaxRestarts
		attempts := r.restartAttempts
		r.mu.Unlock()

		w.totalTimeouts.Add(1)
		_ = w.reg.SetState(id, api.StateError)

		if critical {
			w.criticalFailures.Add(1)
			w.safeMode.Store(true)
			w.cfg.Logger.Printf("watchdog: critical service %d timed out, entering safe mode", id)
			return
		}

		if autoRestart && (maxRestarts == 0 || attempts < maxRestarts) {
			w.attemptRestart(id, r)
		} else {
			w.cfg.Logger.Printf("watchdog: service %d timed out, no restart budget remaining", id)
		}
		return
	}

	if elapsed <= timeoutMS && latched {
		r.latched = false
		r.restartAttempts = 0
	}
	r.mu.Unlock()
}

func (w *Watchdog) attemptRestart(id api.ServiceID, r *record) {
	var err error
	if w.cfg.Restart != nil {
		err = w.cfg.Restart(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		w.failedRestarts.Add(1)
		w.cfg.Logger.Printf("watchdog: restart of service %d failed: %v", id, err)
		return
	}
	w.totalRestarts.Add(1)
	r.restartAttempts++
	r.latched = false
	w.reg.ResetRestartCount(id)
}

// IsSafeMode reports whether any critical principal has ever timed out.
func (w *Watchdog) IsSafeMode() bool {
	return w.safeMode.Load()
}

// Stats returns a snapshot of process-wide watchdog counters.
func (w *Watchdog) Stats() Stats {
	return Stats{
		TotalTimeouts:    w.totalTimeouts.Load(),
		TotalRestarts:    w.totalRestarts.Load(),
		FailedRestarts:   w.failedRestarts.Load(),
		CriticalFailures: w.criticalFailures.Load(),
		SafeModeActive:   w.safeMode.Load(),
	}
}
