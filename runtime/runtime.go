// Package runtime composes the memory pool, priority queue, quota
// enforcer, handler monitor, dependency graph, service registry, event
// bus and watchdog into the single facade dynamically loaded apps and
// static services talk to: components C1-C11 behind one lifecycle.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package runtime

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/bus"
	"github.com/krakenos/kernel/depgraph"
	"github.com/krakenos/kernel/hostapi"
	"github.com/krakenos/kernel/monitor"
	"github.com/krakenos/kernel/pool"
	"github.com/krakenos/kernel/queue"
	"github.com/krakenos/kernel/quota"
	"github.com/krakenos/kernel/registry"
	"github.com/krakenos/kernel/watchdog"
)

// Config tunes every subsystem Init builds. Zero-value fields fall back
// to each subsystem's own DefaultConfig.
type Config struct {
	ServiceCapacity int
	PoolClasses     []pool.ClassConfig
	QueueConfig     queue.Config
	BusConfig       bus.Config
	MonitorConfig   monitor.Config
	WatchdogConfig  watchdog.Config
	QuotaResetEvery time.Duration
	Logger          *log.Logger
}

// DefaultConfig sizes a small embedded host: 64 principals, the pool and
// queue defaults, a 1 s quota window reset.
func DefaultConfig() Config {
	return Config{
		ServiceCapacity: 64,
		PoolClasses:     pool.DefaultClasses(),
		QueueConfig:     queue.DefaultConfig(),
		BusConfig:       bus.DefaultConfig(),
		MonitorConfig:   monitor.DefaultConfig(),
		WatchdogConfig:  watchdog.DefaultConfig(),
		QuotaResetEvery: time.Second,
		Logger:          log.Default(),
	}
}

// Runtime is the facade orchestrating components C1-C11. Exactly one
// Runtime should exist per process under test; nothing here is a package
// global, so independent tests can instantiate independent runtimes (per
// the design note against ambient global state).
type Runtime struct {
	cfg Config

	pool     *pool.Pool
	bytePool api.BytePool
	queue    *queue.Queue
	quota    *quota.Enforcer
	monitor  *monitor.Monitor
	depgraph *depgraph.Graph
	registry *registry.Registry
	bus      *bus.Bus
	watchdog *watchdog.Watchdog

	mu          sync.Mutex
	initialized bool
	running     bool
	secureKey   api.SecureKey

	quotaStopCh chan struct{}
	quotaWG     sync.WaitGroup

	reloadFns []func()
	probes    map[string]func() any
}

// New constructs an uninitialized Runtime bound to cfg. Call Init next.
func New(cfg Config) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.ServiceCapacity == 0 {
		cfg.ServiceCapacity = DefaultConfig().ServiceCapacity
	}
	if cfg.PoolClasses == nil {
		cfg.PoolClasses = pool.DefaultClasses()
	}
	if cfg.QueueConfig == (queue.Config{}) {
		cfg.QueueConfig = queue.DefaultConfig()
	}
	if cfg.BusConfig == (bus.Config{}) {
		cfg.BusConfig = bus.DefaultConfig()
	}
	if cfg.MonitorConfig == (monitor.Config{}) {
		cfg.MonitorConfig = monitor.DefaultConfig()
	}
	return &Runtime{cfg: cfg, probes: make(map[string]func() any)}
}

// Init performs subsystem init in the documented order — memory pool,
// priority queue, quota, dependency graph — then constructs registry
// before watchdog, a deliberate deviation from the watchdog-before-registry
// wording: Watchdog.New takes a *registry.Registry to scan, so the
// registry must already exist by the time it is built. Init then wires the
// event bus over the lot and returns a fresh secure key. Calling Init
// twice without an intervening Deinit returns CodeAlreadyInitialized.
func (rt *Runtime) Init() (api.SecureKey, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.initialized {
		return 0, api.NewFault(api.CodeAlreadyInitialized, "runtime already initialized")
	}

	rt.pool = pool.New(rt.cfg.PoolClasses)
	rt.bytePool = rt.pool.AsBytePool()
	rt.queue = queue.New(rt.cfg.QueueConfig)
	rt.quota = quota.New()
	rt.depgraph = depgraph.New()
	rt.registry = registry.New(rt.cfg.ServiceCapacity)
	rt.watchdog = watchdog.New(rt.cfg.WatchdogConfig, rt.registry)
	rt.monitor = monitor.New(rt.cfg.MonitorConfig)
	rt.bus = bus.New(rt.cfg.BusConfig, rt.registry, rt.pool, rt.queue, rt.quota, rt.monitor)

	rt.secureKey = api.SecureKey(rand.Uint32())
	rt.initialized = true
	return rt.secureKey, nil
}

func (rt *Runtime) checkKey(token api.SecureKey) error {
	if !rt.initialized {
		return api.NewFault(api.CodeNotInitialized, "runtime not initialized")
	}
	if token != rt.secureKey {
		return api.NewFault(api.CodeInvalidSecureKey, "invalid secure key")
	}
	return nil
}

// Start launches the watchdog and dispatcher tasks, plus the internal
// quota-window reset ticker.
func (rt *Runtime) Start(token api.SecureKey) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkKey(token); err != nil {
		return err
	}
	if rt.running {
		return nil
	}
	rt.bus.Start()
	rt.watchdog.Start()

	rt.quotaStopCh = make(chan struct{})
	rt.quotaWG.Add(1)
	interval := rt.cfg.QuotaResetEvery
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		defer rt.quotaWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rt.quotaStopCh:
				return
			case <-ticker.C:
				rt.quota.ResetWindow()
			}
		}
	}()

	rt.running = true
	return nil
}

// Stop gracefully halts the dispatcher, watchdog and quota-reset tasks.
// The dispatcher finishes any in-flight event but drains no further ones.
func (rt *Runtime) Stop(token api.SecureKey) error {
	rt.mu.Lock()
	if err := rt.checkKey(token); err != nil {
		rt.mu.Unlock()
		return err
	}
	if !rt.running {
		rt.mu.Unlock()
		return nil
	}
	rt.running = false
	stopCh := rt.quotaStopCh
	rt.mu.Unlock()

	rt.bus.Stop()
	rt.watchdog.Stop()
	if stopCh != nil {
		close(stopCh)
		rt.quotaWG.Wait()
	}
	return nil
}

// Deinit tears down every subsystem. A running runtime is stopped first.
func (rt *Runtime) Deinit(token api.SecureKey) error {
	if err := rt.Stop(token); err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkKey(token); err != nil {
		return err
	}
	rt.monitor.Close()
	rt.initialized = false
	rt.secureKey = 0
	return nil
}

var _ api.GracefulShutdown = (*Runtime)(nil)

// Shutdown implements api.GracefulShutdown using the last-issued secure
// key captured at Init time, for callers that only have a Runtime handle.
func (rt *Runtime) Shutdown() error {
	rt.mu.Lock()
	key := rt.secureKey
	rt.mu.Unlock()
	return rt.Deinit(key)
}

// --- Principal-facing API, exposed to static services and (through
// hostapi.Table) to dynamically loaded apps. ---

// Register implements hostapi.Impl.
func (rt *Runtime) Register(name string, context any) (api.ServiceID, error) {
	return rt.registry.Register(name, context)
}

// Unregister implements hostapi.Impl, tearing down every subscription
// owned by id before freeing its slot, then dropping its quota record.
func (rt *Runtime) Unregister(id api.ServiceID) error {
	if err := rt.registry.Unregister(id, rt.bus.UnsubscribeAll); err != nil {
		return err
	}
	rt.quota.Remove(id)
	return nil
}

// SetState implements hostapi.Impl.
func (rt *Runtime) SetState(id api.ServiceID, state api.ServiceState) error {
	return rt.registry.SetState(id, state)
}

// Heartbeat implements hostapi.Impl, stamping both the registry's and the
// watchdog's liveness clocks.
func (rt *Runtime) Heartbeat(id api.ServiceID) error {
	if err := rt.registry.Heartbeat(id); err != nil {
		return err
	}
	rt.watchdog.UpdateHeartbeat(id)
	return nil
}

// RegisterEventType implements hostapi.Impl.
func (rt *Runtime) RegisterEventType(name string) (api.EventTypeID, error) {
	return rt.bus.RegisterType(name)
}

// Subscribe implements hostapi.Impl.
func (rt *Runtime) Subscribe(id api.ServiceID, typ api.EventTypeID, h api.Handler, userData any) error {
	return rt.bus.Subscribe(id, typ, h, userData)
}

// Unsubscribe implements hostapi.Impl.
func (rt *Runtime) Unsubscribe(id api.ServiceID, typ api.EventTypeID) error {
	return rt.bus.Unsubscribe(id, typ)
}

// Post implements hostapi.Impl.
func (rt *Runtime) Post(id api.ServiceID, typ api.EventTypeID, payload []byte, priority api.Priority) error {
	return rt.bus.Post(id, typ, payload, priority)
}

// Malloc implements hostapi.Impl.
func (rt *Runtime) Malloc(n int) *pool.Block {
	return rt.pool.Alloc(n)
}

// Free implements hostapi.Impl.
func (rt *Runtime) Free(b *pool.Block) {
	rt.pool.Free(b)
}

// LogWrite implements hostapi.Impl. The formatted line is assembled in a
// pool-sourced scratch buffer rather than through fmt's own allocation, on
// the theory that a loaded app's LogWrite calls are exactly the kind of
// high-frequency, short-lived allocation the memory pool exists to absorb.
func (rt *Runtime) LogWrite(level, msg string) {
	buf := rt.bytePool.Acquire(len(level) + len(msg) + 4)
	buf = append(buf[:0], '[')
	buf = append(buf, level...)
	buf = append(buf, ']', ' ')
	buf = append(buf, msg...)
	rt.cfg.Logger.Printf("%s", buf)
	rt.bytePool.Release(buf)
}

// BytePool returns the runtime's byte-slice pooling contract, for any
// caller that wants Acquire/Release semantics without reaching for
// *pool.Block directly.
func (rt *Runtime) BytePool() api.BytePool {
	return rt.bytePool
}

// TaskDelay implements hostapi.Impl.
func (rt *Runtime) TaskDelay(d time.Duration) {
	time.Sleep(d)
}

var startTime = time.Now()

// GetTickCount implements hostapi.Impl, returning milliseconds since the
// process started observing this runtime's clock source.
func (rt *Runtime) GetTickCount() uint64 {
	return uint64(time.Since(startTime).Milliseconds())
}

// HostAPI builds the versioned function table (C11) for a dynamically
// loaded image to call back into this runtime.
func (rt *Runtime) HostAPI() *hostapi.Table {
	return hostapi.New(rt)
}

// --- Lifecycle & dependency helpers ---

// SetQuota installs explicit resource limits for id.
func (rt *Runtime) SetQuota(id api.ServiceID, limits api.ServiceQuota) {
	rt.quota.SetQuota(id, limits)
}

// WatchService begins watchdog monitoring for id under wc.
func (rt *Runtime) WatchService(id api.ServiceID, wc api.WatchdogConfig) {
	rt.watchdog.RegisterService(id, wc)
	if wc.Critical {
		_ = rt.registry.SetCritical(id, true)
	}
}

// DependsOn records that service depends on dependsOn; rejects cycles.
func (rt *Runtime) DependsOn(service, dependsOn string) error {
	return rt.depgraph.Add(service, dependsOn)
}

// InitOrder returns a dependency-respecting linear order over every
// service named in the dependency graph.
func (rt *Runtime) InitOrder() []string {
	return rt.depgraph.TopoOrder()
}

// IsSafeMode reports whether the watchdog has latched process-wide safe
// mode after a critical-service timeout.
func (rt *Runtime) IsSafeMode() bool {
	return rt.watchdog.IsSafeMode()
}

// ListServices returns a snapshot of every registered principal.
func (rt *Runtime) ListServices() []api.ServiceInfo {
	return rt.registry.ListAll()
}

// Info looks up a single principal's public snapshot.
func (rt *Runtime) Info(id api.ServiceID) (api.ServiceInfo, bool) {
	return rt.registry.Info(id)
}

// Lookup resolves a registered name to its id.
func (rt *Runtime) Lookup(name string) (api.ServiceID, bool) {
	return rt.registry.Lookup(name)
}
