package runtime_test

import (
	"testing"
	"time"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/runtime"
)

type recordingHandler struct {
	calls [][]byte
}

func (h *recordingHandler) Handle(ev *api.Event, userData any) error {
	h.calls = append(h.calls, append([]byte(nil), ev.Data...))
	return nil
}

func newTestRuntime(t *testing.T) (*runtime.Runtime, api.SecureKey) {
	t.Helper()
	rt := runtime.New(runtime.DefaultConfig())
	key, err := rt.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = rt.Deinit(key) })
	return rt, key
}

func TestInitTwiceFails(t *testing.T) {
	rt, _ := newTestRuntime(t)
	if _, err := rt.Init(); api.CodeOf(err) != api.CodeAlreadyInitialized {
		t.Fatalf("second Init code = %v, want AlreadyInitialized", api.CodeOf(err))
	}
}

func TestStartStopRequiresValidKey(t *testing.T) {
	rt, key := newTestRuntime(t)
	if err := rt.Start(key + 1); api.CodeOf(err) != api.CodeInvalidSecureKey {
		t.Fatalf("code = %v, want InvalidSecureKey", api.CodeOf(err))
	}
	if err := rt.Start(key); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rt.Stop(key); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestBasicPostReceiveThroughRuntime(t *testing.T) {
	rt, key := newTestRuntime(t)
	if err := rt.Start(key); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sensor, err := rt.Register("sensor", nil)
	if err != nil {
		t.Fatalf("Register sensor: %v", err)
	}
	display, err := rt.Register("display", nil)
	if err != nil {
		t.Fatalf("Register display: %v", err)
	}

	temp, err := rt.RegisterEventType("temp")
	if err != nil {
		t.Fatalf("RegisterEventType: %v", err)
	}

	h := &recordingHandler{}
	if err := rt.Subscribe(display, temp, h, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	payload := []byte{0x00, 0x00, 0xB4, 0x41} // 22.5f LE
	if err := rt.Post(sensor, temp, payload, api.PriorityNormal); err != nil {
		t.Fatalf("Post: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(h.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(h.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(h.calls))
	}
	if string(h.calls[0]) != string(payload) {
		t.Fatalf("payload = %v, want %v", h.calls[0], payload)
	}
}

func TestRateLimitThrottleAndWindowReset(t *testing.T) {
	rt := runtime.New(runtime.Config{
		ServiceCapacity: 8,
		PoolClasses:     runtime.DefaultConfig().PoolClasses,
		QueueConfig:     runtime.DefaultConfig().QueueConfig,
		BusConfig:       runtime.DefaultConfig().BusConfig,
		MonitorConfig:   runtime.DefaultConfig().MonitorConfig,
		WatchdogConfig:  runtime.DefaultConfig().WatchdogConfig,
		QuotaResetEvery: 80 * time.Millisecond,
	})
	key, err := rt.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer rt.Deinit(key)
	if err := rt.Start(key); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p, err := rt.Register("producer", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	typ, err := rt.RegisterEventType("tick")
	if err != nil {
		t.Fatalf("RegisterEventType: %v", err)
	}
	rt.SetQuota(p, api.ServiceQuota{
		MaxEventsPerSec:   5,
		MaxSubscriptions:  32,
		MaxEventDataBytes: 4096,
		MaxResidentMemory: 64 * 1024,
	})

	for i := 0; i < 5; i++ {
		if err := rt.Post(p, typ, nil, api.PriorityNormal); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	if err := rt.Post(p, typ, nil, api.PriorityNormal); api.CodeOf(err) != api.CodeQuotaEventsExceeded {
		t.Fatalf("6th post code = %v, want QuotaEventsExceeded", api.CodeOf(err))
	}

	time.Sleep(120 * time.Millisecond)
	if err := rt.Post(p, typ, nil, api.PriorityNormal); err != nil {
		t.Fatalf("post after window reset: %v", err)
	}
}

func TestCircularDependencyRejectedInitOrderStillValid(t *testing.T) {
	rt, _ := newTestRuntime(t)

	if err := rt.DependsOn("A", "B"); err != nil {
		t.Fatalf("A->B: %v", err)
	}
	if err := rt.DependsOn("B", "C"); err != nil {
		t.Fatalf("B->C: %v", err)
	}
	if err := rt.DependsOn("C", "A"); api.CodeOf(err) != api.CodeCircularDependency {
		t.Fatalf("C->A code = %v, want CircularDependency", api.CodeOf(err))
	}

	order := rt.InitOrder()
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	if pos["C"] >= pos["B"] || pos["B"] >= pos["A"] {
		t.Fatalf("unexpected init order: %v", order)
	}
}

func TestLogWriteAndBytePoolRoundTrip(t *testing.T) {
	rt, key := newTestRuntime(t)
	if err := rt.Start(key); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tbl := rt.HostAPI()
	tbl.LogWrite("info", "hello from a loaded image")

	bp := rt.BytePool()
	buf := bp.Acquire(32)
	if len(buf) < 32 {
		t.Fatalf("Acquire(32) returned %d bytes", len(buf))
	}
	bp.Release(buf)
}

func TestShutdownWithoutSecureKey(t *testing.T) {
	rt := runtime.New(runtime.DefaultConfig())
	key, err := rt.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := rt.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := rt.Deinit(key); api.CodeOf(err) != api.CodeNotInitialized {
		t.Fatalf("Deinit after Shutdown code = %v, want NotInitialized", api.CodeOf(err))
	}
}

func TestHostAPIRegistersThroughTable(t *testing.T) {
	rt, key := newTestRuntime(t)
	if err := rt.Start(key); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tbl := rt.HostAPI()
	id, err := tbl.Register("dyn", nil)
	if err != nil {
		t.Fatalf("hostapi Register: %v", err)
	}
	if _, ok := rt.Info(id); !ok {
		t.Fatal("registered principal not visible through runtime.Info")
	}
}
