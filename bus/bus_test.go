package bus_test

import (
	"sync"
	"testing"
	"time"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/bus"
	"github.com/krakenos/kernel/monitor"
	"github.com/krakenos/kernel/pool"
	"github.com/krakenos/kernel/queue"
	"github.com/krakenos/kernel/quota"
	"github.com/krakenos/kernel/registry"
)

func newTestBus(t *testing.T) (*bus.Bus, *registry.Registry) {
	t.Helper()
	reg := registry.New(16)
	p := pool.New(pool.DefaultClasses())
	q := queue.New(queue.DefaultConfig())
	qt := quota.New()
	mon := monitor.New(monitor.Config{SlowThreshold: time.Second, PoolWorkers: 1, PoolBacklog: 1})
	b := bus.New(bus.Config{MaxEventTypes: 32, PollInterval: 10 * time.Millisecond}, reg, p, q, qt, mon)
	return b, reg
}

func TestBasicPostReceive(t *testing.T) {
	b, reg := newTestBus(t)
	b.Start()
	defer b.Stop()

	sensor, _ := reg.Register("sensor", nil)
	display, _ := reg.Register("display", nil)
	typ, err := b.RegisterType("temp")
	if err != nil {
		t.Fatalf("RegisterType: %v", err)
	}

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{}, 1)
	h := api.HandlerFunc(func(ev *api.Event, _ any) error {
		mu.Lock()
		got = append([]byte(nil), ev.Data...)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	if err := b.Subscribe(display, typ, h, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	payload := []byte{0, 0, 0x34, 0x41} // arbitrary 4 bytes, stand-in for a float
	if err := b.Post(sensor, typ, payload, api.PriorityNormal); err != nil {
		t.Fatalf("Post: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("got %v, want %v", got, payload)
		}
	}
}

func TestPriorityOvertaking(t *testing.T) {
	b, reg := newTestBus(t)
	// Dispatcher not started yet: we want both events queued while idle.
	display, _ := reg.Register("display", nil)
	tLow, _ := b.RegisterType("low_evt")
	tHigh, _ := b.RegisterType("high_evt")

	var mu sync.Mutex
	var order []api.EventTypeID
	doneCh := make(chan struct{}, 2)
	h := api.HandlerFunc(func(ev *api.Event, _ any) error {
		mu.Lock()
		order = append(order, ev.Type)
		mu.Unlock()
		doneCh <- struct{}{}
		return nil
	})

	if err := b.Subscribe(display, tLow, h, nil); err != nil {
		t.Fatalf("subscribe low: %v", err)
	}
	if err := b.Subscribe(display, tHigh, h, nil); err != nil {
		t.Fatalf("subscribe high: %v", err)
	}

	if err := b.Post(display, tLow, nil, api.PriorityLow); err != nil {
		t.Fatalf("post low: %v", err)
	}
	if err := b.Post(display, tHigh, nil, api.PriorityHigh); err != nil {
		t.Fatalf("post high: %v", err)
	}

	b.Start()
	defer b.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-doneCh:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for handlers")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != tHigh || order[1] != tLow {
		t.Fatalf("order = %v, want [high, low]", order)
	}
}

func TestUnregisterRemovesSubscriptions(t *testing.T) {
	b, reg := newTestBus(t)
	display, _ := reg.Register("display", nil)
	typ, _ := b.RegisterType("evt")

	h := api.HandlerFunc(func(*api.Event, any) error { return nil })
	if err := b.Subscribe(display, typ, h, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := reg.Unregister(display, b.UnsubscribeAll); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	err := b.Unsubscribe(display, typ)
	if api.CodeOf(err) != api.CodeSubscriptionNotFound {
		t.Fatalf("Unsubscribe after teardown = %v, want SubscriptionNotFound", err)
	}
}
