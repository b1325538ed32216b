package watchdog_test

import (
	"testing"
	"time"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/registry"
	"github.com/krakenos/kernel/watchdog"
)

func TestRestartBudgetExhaustion(t *testing.T) {
	reg := registry.New(1)
	id, _ := reg.Register("worker", nil)

	w := watchdog.New(watchdog.Config{ScanInterval: time.Hour}, reg)
	w.RegisterService(id, api.WatchdogConfig{
		TimeoutMS:   50,
		AutoRestart: true,
		MaxRestarts: 3,
		Critical:    false,
	})

	// Never heartbeat; drive the scan manually so the test is not timing
	// sensitive beyond the sleep itself.
	for i := 0; i < 4; i++ {
		time.Sleep(60 * time.Millisecond)
		w.Scan()
	}

	stats := w.Stats()
	if stats.TotalRestarts != 3 {
		t.Fatalf("TotalRestarts = %d, want 3", stats.TotalRestarts)
	}
	if stats.TotalTimeouts < 4 {
		t.Fatalf("TotalTimeouts = %d, want >= 4", stats.TotalTimeouts)
	}
	if stats.SafeModeActive {
		t.Fatal("non-critical exhaustion must not enter safe mode")
	}
}

func TestCriticalTimeoutEntersSafeMode(t *testing.T) {
	reg := registry.New(1)
	id, _ := reg.Register("core-service", nil)

	w := watchdog.New(watchdog.Config{ScanInterval: time.Hour}, reg)
	w.RegisterService(id, api.WatchdogConfig{TimeoutMS: 10, Critical: true})

	time.Sleep(20 * time.Millisecond)
	w.Scan()

	if !w.IsSafeMode() {
		t.Fatal("expected safe mode after critical timeout")
	}
	if w.Stats().CriticalFailures != 1 {
		t.Fatalf("CriticalFailures = %d, want 1", w.Stats().CriticalFailures)
	}
}

func TestHeartbeatWithinTimeoutNeverFlags(t *testing.T) {
	reg := registry.New(1)
	id, _ := reg.Register("steady", nil)

	w := watchdog.New(watchdog.Config{ScanInterval: time.Hour}, reg)
	w.RegisterService(id, api.WatchdogConfig{TimeoutMS: 100})

	for i := 0; i < 3; i++ {
		time.Sleep(50 * time.Millisecond) // T/2
		reg.Heartbeat(id)
		w.UpdateHeartbeat(id)
		w.Scan()
	}

	if w.Stats().TotalTimeouts != 0 {
		t.Fatalf("TotalTimeouts = %d, want 0", w.Stats().TotalTimeouts)
	}
}
