// File: monitor/monitor.go
// Package monitor implements the handler execution monitor (component C4):
// it times every handler invocation, flags slow or timed-out ones and
// keeps per-principal aggregates.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A handler cannot be preempted in this cooperative runtime — the monitor
// only observes. When a hard timeout is configured, the invocation is run
// on internal/concurrency.Executor so a storm of stuck handlers grows a
// bounded backlog instead of an unbounded goroutine count; the dispatcher
// gets HandlerTimeout back and moves on while the stuck call keeps running
// to completion in the pool.

package monitor

import (
	"log"
	"sync"
	"time"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/internal/concurrency"
)

// Config tunes slow/timeout thresholds and the bounded pool used for
// hard-timeout invocations.
type Config struct {
	SlowThreshold  time.Duration
	HardTimeout    time.Duration // zero disables hard timeout enforcement
	PoolWorkers    int
	PoolBacklog    int
	Logger         *log.Logger
}

// DefaultConfig matches a responsive, cooperative dispatcher: handlers
// slower than 5ms are flagged, a 1s hard timeout bounds worst case stalls.
func DefaultConfig() Config {
	return Config{
		SlowThreshold: 5 * time.Millisecond,
		HardTimeout:   time.Second,
		PoolWorkers:   4,
		PoolBacklog:   64,
		Logger:        log.Default(),
	}
}

type aggregate struct {
	mu            sync.Mutex
	count         uint64
	cumulativeNs  int64
	maxNs         int64
	timeoutCount  uint64
	slowCount     uint64
}

// Stats is a snapshot of one principal's handler-execution aggregates.
type Stats struct {
	Count        uint64
	CumulativeNs int64
	MaxNs        int64
	TimeoutCount uint64
	SlowCount    uint64
}

// Monitor wraps handler invocation with timing and timeout observation.
type Monitor struct {
	cfg Config
	exec *concurrency.Executor

	mu   sync.Mutex
	byID map[api.ServiceID]*aggregate
}

// New builds a Monitor. If cfg.HardTimeout is zero, handlers always run
// synchronously on the caller's goroutine (the dispatcher).
func New(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	m := &Monitor{cfg: cfg, byID: make(map[api.ServiceID]*aggregate)}
	if cfg.HardTimeout > 0 {
		m.exec = concurrency.NewExecutor(cfg.PoolWorkers, cfg.PoolBacklog)
	}
	return m
}

func (m *Monitor) aggFor(id api.ServiceID) *aggregate {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		a = &aggregate{}
		m.byID[id] = a
	}
	return a
}

// Execute invokes h.Handle(event, userData), attributing timing to
// subscriberID. It returns h's own error unless a configured hard timeout
// elapses first, in which case it returns a *api.Fault with
// api.CodeHandlerTimeout; the handler keeps running in the background pool
// and its eventual error, if any, is only logged.
func (m *Monitor) Execute(subscriberID api.ServiceID, h api.Handler, event *api.Event, userData any) error {
	agg := m.aggFor(subscriberID)

	if m.exec == nil {
		return m.runSync(agg, h, event, userData)
	}
	return m.runBounded(subscriberID, agg, h, event, userData)
}

func (m *Monitor) runSync(agg *aggregate, h api.Handler, event *api.Event, userData any) error {
	start := time.Now()
	err := h.Handle(event, userData)
	m.record(agg, time.Since(start), false)
	return err
}

func (m *Monitor) runBounded(subscriberID api.ServiceID, agg *aggregate, h api.Handler, event *api.Event, userData any) error {
	start := time.Now()
	done := make(chan error, 1)

	submitErr := m.exec.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				m.cfg.Logger.Printf("monitor: handler for service %d panicked: %v", subscriberID, r)
				done <- api.NewFault(api.CodeInvalidArgument, "handler panicked")
				return
			}
		}()
		done <- h.Handle(event, userData)
	})
	if submitErr != nil {
		// Pool backlog saturated: fall back to synchronous execution rather
		// than silently dropping the invocation.
		return m.runSync(agg, h, event, userData)
	}

	select {
	case err := <-done:
		m.record(agg, time.Since(start), false)
		return err
	case <-time.After(m.cfg.HardTimeout):
		m.record(agg, time.Since(start), true)
		m.cfg.Logger.Printf("monitor: handler for service %d exceeded hard timeout %s", subscriberID, m.cfg.HardTimeout)
		go func() {
			if err := <-done; err != nil {
				m.cfg.Logger.Printf("monitor: timed-out handler for service %d eventually returned: %v", subscriberID, err)
			}
		}()
		return api.NewFault(api.CodeHandlerTimeout, "handler exceeded hard timeout").
			WithContext("service_id", subscriberID)
	}
}

func (m *Monitor) record(agg *aggregate, elapsed time.Duration, timedOut bool) {
	ns := elapsed.Nanoseconds()
	agg.mu.Lock()
	agg.count++
	agg.cumulativeNs += ns
	if ns > agg.maxNs {
		agg.maxNs = ns
	}
	if timedOut {
		agg.timeoutCount++
	}
	if elapsed >= m.cfg.SlowThreshold {
		agg.slowCount++
	}
	agg.mu.Unlock()
}

// Stats returns a snapshot for subscriberID. A principal with no recorded
// invocations returns the zero value.
func (m *Monitor) Stats(subscriberID api.ServiceID) Stats {
	agg := m.aggFor(subscriberID)
	agg.mu.Lock()
	defer agg.mu.Unlock()
	return Stats{
		Count:        agg.count,
		CumulativeNs: agg.cumulativeNs,
		MaxNs:        agg.maxNs,
		TimeoutCount: agg.timeoutCount,
		SlowCount:    agg.slowCount,
	}
}

// Close releases the background pool, if one was created.
func (m *Monitor) Close() {
	if m.exec != nil {
		m.exec.Close()
	}
}
