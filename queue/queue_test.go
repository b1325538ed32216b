package queue_test

import (
	"testing"
	"time"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/queue"
)

func newEvent(typ api.EventTypeID, pri api.Priority) *api.Event {
	return &api.Event{Type: typ, Priority: pri}
}

func TestReceiveOrdersByStrictPriority(t *testing.T) {
	q := queue.New(queue.DefaultConfig())

	if _, err := q.Post(newEvent(1, api.PriorityLow)); err != nil {
		t.Fatalf("post low: %v", err)
	}
	if _, err := q.Post(newEvent(2, api.PriorityNormal)); err != nil {
		t.Fatalf("post normal: %v", err)
	}
	if _, err := q.Post(newEvent(3, api.PriorityCritical)); err != nil {
		t.Fatalf("post critical: %v", err)
	}
	if _, err := q.Post(newEvent(4, api.PriorityHigh)); err != nil {
		t.Fatalf("post high: %v", err)
	}

	order := []api.EventTypeID{}
	for i := 0; i < 4; i++ {
		ev, ok := q.Receive(0)
		if !ok {
			t.Fatalf("receive %d: expected an event", i)
		}
		order = append(order, ev.Type)
	}
	want := []api.EventTypeID{3, 4, 2, 1}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSamePriorityPreservesFIFO(t *testing.T) {
	q := queue.New(queue.DefaultConfig())

	for i := api.EventTypeID(0); i < 5; i++ {
		if _, err := q.Post(newEvent(i, api.PriorityNormal)); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	for i := api.EventTypeID(0); i < 5; i++ {
		ev, ok := q.Receive(0)
		if !ok || ev.Type != i {
			t.Fatalf("receive %d: got type %v, ok=%v", i, ev, ok)
		}
	}
}

func TestCriticalQueueFullRefusesPost(t *testing.T) {
	q := queue.New(queue.Config{CriticalCapacity: 2, HighCapacity: 2, NormalCapacity: 2, LowCapacity: 2})

	for i := 0; i < 2; i++ {
		if _, err := q.Post(newEvent(0, api.PriorityCritical)); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	_, err := q.Post(newEvent(0, api.PriorityCritical))
	if api.CodeOf(err) != api.CodeEventQueueFull {
		t.Fatalf("code = %v, want EventQueueFull", api.CodeOf(err))
	}
}

func TestCriticalAndHighShareOverflowCounter(t *testing.T) {
	q := queue.New(queue.Config{CriticalCapacity: 1, HighCapacity: 1, NormalCapacity: 2, LowCapacity: 2})

	if _, err := q.Post(newEvent(0, api.PriorityCritical)); err != nil {
		t.Fatalf("fill critical: %v", err)
	}
	if _, err := q.Post(newEvent(0, api.PriorityHigh)); err != nil {
		t.Fatalf("fill high: %v", err)
	}

	if _, err := q.Post(newEvent(0, api.PriorityCritical)); api.CodeOf(err) != api.CodeEventQueueFull {
		t.Fatalf("critical overflow code = %v, want EventQueueFull", api.CodeOf(err))
	}
	if _, err := q.Post(newEvent(0, api.PriorityHigh)); api.CodeOf(err) != api.CodeEventQueueFull {
		t.Fatalf("high overflow code = %v, want EventQueueFull", api.CodeOf(err))
	}

	stats := q.Stats()
	if stats.Critical.LifetimeOverflow != 2 || stats.High.LifetimeOverflow != 2 {
		t.Fatalf("Critical/High overflow = %d/%d, want 2/2 (shared counter)",
			stats.Critical.LifetimeOverflow, stats.High.LifetimeOverflow)
	}
}

func TestLowQueueFullEvictsOldest(t *testing.T) {
	q := queue.New(queue.Config{CriticalCapacity: 2, HighCapacity: 2, NormalCapacity: 2, LowCapacity: 2})

	oldest := newEvent(100, api.PriorityLow)
	if _, err := q.Post(oldest); err != nil {
		t.Fatalf("post oldest: %v", err)
	}
	if _, err := q.Post(newEvent(101, api.PriorityLow)); err != nil {
		t.Fatalf("post second: %v", err)
	}

	evicted, err := q.Post(newEvent(102, api.PriorityLow))
	if err != nil {
		t.Fatalf("post third: %v", err)
	}
	if evicted == nil || evicted.Type != 100 {
		t.Fatalf("evicted = %v, want type 100", evicted)
	}

	stats := q.Stats()
	if stats.LifetimeLowDrops != 1 {
		t.Fatalf("LifetimeLowDrops = %d, want 1", stats.LifetimeLowDrops)
	}
}

func TestReceiveTimesOutOnEmptyQueue(t *testing.T) {
	q := queue.New(queue.DefaultConfig())
	start := time.Now()
	_, ok := q.Receive(20 * time.Millisecond)
	if ok {
		t.Fatal("expected no event")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("Receive returned before its timeout elapsed")
	}
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	q := queue.New(queue.DefaultConfig())
	var last uint64
	for i := 0; i < 10; i++ {
		ev := newEvent(0, api.PriorityNormal)
		if _, err := q.Post(ev); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		if ev.Sequence <= last {
			t.Fatalf("sequence %d did not increase past %d", ev.Sequence, last)
		}
		last = ev.Sequence
	}
}
