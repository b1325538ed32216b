// File: internal/concurrency/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler implements api.Scheduler over time.AfterFunc, giving the
// watchdog's periodic scan a cancelable one-shot primitive to
// self-reschedule from instead of owning a raw time.Ticker directly.

package concurrency

import (
	"errors"
	"sync"
	"time"

	"github.com/krakenos/kernel/api"
)

var _ api.Scheduler = (*Scheduler)(nil)

// ErrCanceled is returned by Cancelable.Err after Cancel, before the
// scheduled function would otherwise have run.
var ErrCanceled = errors.New("concurrency: scheduled callback canceled")

// Scheduler is a thin, time.AfterFunc-backed implementation of
// api.Scheduler with a monotonic Now() relative to construction time.
type Scheduler struct {
	start time.Time
}

// NewScheduler builds a Scheduler whose Now() is relative to this call.
func NewScheduler() *Scheduler {
	return &Scheduler{start: time.Now()}
}

// Now returns nanoseconds since the Scheduler was constructed.
func (s *Scheduler) Now() int64 {
	return time.Since(s.start).Nanoseconds()
}

// Schedule runs fn once after delayNanos, returning a Cancelable that can
// abort it before it fires.
func (s *Scheduler) Schedule(delayNanos int64, fn func()) (api.Cancelable, error) {
	c := &cancelableTimer{done: make(chan struct{})}
	c.timer = time.AfterFunc(time.Duration(delayNanos), func() {
		fn()
		c.finish(nil)
	})
	return c, nil
}

// Cancel aborts c if it has not already fired.
func (s *Scheduler) Cancel(c api.Cancelable) error {
	return c.Cancel()
}

type cancelableTimer struct {
	timer *time.Timer
	done  chan struct{}
	once  sync.Once

	mu  sync.Mutex
	err error
}

func (c *cancelableTimer) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *cancelableTimer) Cancel() error {
	c.timer.Stop()
	c.finish(ErrCanceled)
	return nil
}

func (c *cancelableTimer) Done() <-chan struct{} {
	return c.done
}

func (c *cancelableTimer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
