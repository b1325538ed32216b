// File: queue/queue.go
// Package queue implements the four-class priority FIFO (component C2) that
// orders event delivery for the bus's dispatcher.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CRITICAL, HIGH and NORMAL are backed by github.com/eapache/queue, a
// growable ring buffer we wrap with an explicit capacity check before Add
// since the library itself never refuses a push. LOW is backed by
// internal/concurrency.RingBuffer, whose fixed capacity and
// Dequeue-then-Enqueue shape are a natural fit for "evict oldest, admit
// new" — the one policy where a silent drop is acceptable. CRITICAL and
// HIGH share one overflow counter (the "high-overflow counter"): a refused
// post at either priority is the same operator signal — the control plane
// is falling behind — so both classes' boundedFIFO point at the same
// *atomic.Uint64 rather than keeping independent tallies.

package queue

import (
	"sync"
	"sync/atomic"
	"time"

	eapacheq "github.com/eapache/queue"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/internal/concurrency"
)

// Config sets the bounded capacity of each priority class.
type Config struct {
	CriticalCapacity int
	HighCapacity     int
	NormalCapacity   int
	LowCapacity      int // rounded up to a power of two by New
}

// DefaultConfig returns capacities suited to a small embedded host.
func DefaultConfig() Config {
	return Config{
		CriticalCapacity: 64,
		HighCapacity:     128,
		NormalCapacity:   256,
		LowCapacity:      256,
	}
}

// ClassStats is a point-in-time snapshot of one priority class.
// LifetimeOverflow for Critical and High is the same shared counter value
// (see the high-overflow counter note in this package's doc comment).
type ClassStats struct {
	Depth            int
	LifetimeOverflow uint64
}

// Stats aggregates all four classes plus run totals.
type Stats struct {
	Critical      ClassStats
	High          ClassStats
	Normal        ClassStats
	Low           ClassStats
	LifetimeLowDrops uint64
	TotalQueued      uint64
	TotalProcessed   uint64
}

type boundedFIFO struct {
	mu       sync.Mutex
	q        *eapacheq.Queue
	capacity int
	overflow *atomic.Uint64
}

func newBoundedFIFO(capacity int) *boundedFIFO {
	return &boundedFIFO{q: eapacheq.New(), capacity: capacity, overflow: &atomic.Uint64{}}
}

// newBoundedFIFOSharedOverflow builds a boundedFIFO whose overflow counter
// is shared with another class (CRITICAL and HIGH, per the high-overflow
// counter policy).
func newBoundedFIFOSharedOverflow(capacity int, overflow *atomic.Uint64) *boundedFIFO {
	return &boundedFIFO{q: eapacheq.New(), capacity: capacity, overflow: overflow}
}

func (b *boundedFIFO) tryAdd(ev *api.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.q.Length() >= b.capacity {
		b.overflow.Add(1)
		return false
	}
	b.q.Add(ev)
	return true
}

func (b *boundedFIFO) tryRemove() (*api.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.q.Length() == 0 {
		return nil, false
	}
	v := b.q.Remove()
	return v.(*api.Event), true
}

func (b *boundedFIFO) depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}

// Queue holds the four priority FIFOs and serves strict descending-priority
// consumption via Receive.
type Queue struct {
	critical *boundedFIFO
	high     *boundedFIFO
	normal   *boundedFIFO
	low      *concurrency.RingBuffer[*api.Event]

	seq atomic.Uint64

	lowDrops       atomic.Uint64
	totalQueued    atomic.Uint64
	totalProcessed atomic.Uint64

	mu   sync.Mutex
	cond *sync.Cond
}

// New builds a Queue from cfg. LowCapacity must be a power of two (the
// underlying ring buffer requirement); callers that pass a non power of
// two get it rounded up.
func New(cfg Config) *Queue {
	low := cfg.LowCapacity
	size := uint64(1)
	for size < uint64(low) {
		size <<= 1
	}
	if size == 0 {
		size = 1
	}
	highOverflow := &atomic.Uint64{}
	q := &Queue{
		critical: newBoundedFIFOSharedOverflow(cfg.CriticalCapacity, highOverflow),
		high:     newBoundedFIFOSharedOverflow(cfg.HighCapacity, highOverflow),
		normal:   newBoundedFIFO(cfg.NormalCapacity),
		low:      concurrency.NewRingBuffer[*api.Event](size),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Post admits ev into the FIFO matching its Priority, assigning it the next
// monotonic sequence number. For CRITICAL/HIGH/NORMAL a full class refuses
// the post with api.CodeEventQueueFull. For LOW a full class evicts the
// oldest LOW event (returned as evicted) and admits ev; eviction failure
// (which cannot happen with a non-zero capacity ring) also refuses.
func (q *Queue) Post(ev *api.Event) (evicted *api.Event, err error) {
	ev.Sequence = q.seq.Add(1)

	var accepted bool
	switch ev.Priority {
	case api.PriorityCritical:
		accepted = q.critical.tryAdd(ev)
	case api.PriorityHigh:
		accepted = q.high.tryAdd(ev)
	case api.PriorityNormal:
		accepted = q.normal.tryAdd(ev)
	default: // PriorityLow and any unknown value are treated as LOW
		if !q.low.Enqueue(ev) {
			old, ok := q.low.Dequeue()
			if ok {
				evicted = old
				q.lowDrops.Add(1)
			}
			accepted = q.low.Enqueue(ev)
		} else {
			accepted = true
		}
	}

	if !accepted {
		return evicted, api.NewFault(api.CodeEventQueueFull, "priority queue full").
			WithContext("priority", ev.Priority.String())
	}

	q.totalQueued.Add(1)
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
	return evicted, nil
}

// Receive polls CRITICAL, then HIGH, then NORMAL, then LOW, returning the
// first available event. If all are empty it waits up to timeout (zero
// meaning return immediately, negative meaning wait indefinitely).
func (q *Queue) Receive(timeout time.Duration) (*api.Event, bool) {
	deadline := time.Time{}
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if ev, ok := q.pop(); ok {
			q.totalProcessed.Add(1)
			return ev, true
		}
		if timeout == 0 {
			return nil, false
		}
		if !q.waitUntil(deadline) {
			return nil, false
		}
	}
}

func (q *Queue) pop() (*api.Event, bool) {
	if ev, ok := q.critical.tryRemove(); ok {
		return ev, true
	}
	if ev, ok := q.high.tryRemove(); ok {
		return ev, true
	}
	if ev, ok := q.normal.tryRemove(); ok {
		return ev, true
	}
	if ev, ok := q.low.Dequeue(); ok {
		return ev, true
	}
	return nil, false
}

// waitUntil blocks on the condition variable until woken or deadline
// passes. Returns false once the deadline (if any) has passed.
func (q *Queue) waitUntil(deadline time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if deadline.IsZero() {
		q.cond.Wait()
		return true
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}

	woke := make(chan struct{})
	timer := time.AfterFunc(remaining, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
		close(woke)
	})
	defer timer.Stop()

	q.cond.Wait()
	select {
	case <-woke:
		return !time.Now().After(deadline)
	default:
		return true
	}
}

// Stats returns a snapshot across all four classes plus run totals.
func (q *Queue) Stats() Stats {
	return Stats{
		Critical:         ClassStats{Depth: q.critical.depth(), LifetimeOverflow: q.critical.overflow.Load()},
		High:             ClassStats{Depth: q.high.depth(), LifetimeOverflow: q.high.overflow.Load()},
		Normal:           ClassStats{Depth: q.normal.depth(), LifetimeOverflow: q.normal.overflow.Load()},
		Low:              ClassStats{Depth: q.low.Len(), LifetimeOverflow: 0},
		LifetimeLowDrops: q.lowDrops.Load(),
		TotalQueued:      q.totalQueued.Load(),
		TotalProcessed:   q.totalProcessed.Load(),
	}
}
