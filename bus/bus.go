// File: bus/bus.go
// Package bus implements the typed event bus (component C7): name-interned
// event types, a subscription table, and post/dispatch built on top of the
// memory pool, priority queue, quota enforcer and handler monitor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The subscription tracker (component C9) is not a separate type here: per
// the design note that two views of one relation should not be modeled as
// mutually pointing objects, Bus keeps the subscription table (keyed by
// type) as canonical and derives byPrincipal (keyed by principal) purely
// for fast teardown on unregister.

package bus

import (
	"log"
	"sync"
	"time"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/monitor"
	"github.com/krakenos/kernel/pool"
	"github.com/krakenos/kernel/queue"
	"github.com/krakenos/kernel/quota"
	"github.com/krakenos/kernel/registry"
)

// Config tunes the bus's own limits; pool, queue, quota and monitor are
// configured and owned independently.
type Config struct {
	MaxEventTypes int
	PollInterval  time.Duration // how often the dispatcher loop rechecks for Stop
	Logger        *log.Logger
}

// DefaultConfig returns reasonable limits for a small embedded host.
func DefaultConfig() Config {
	return Config{
		MaxEventTypes: 256,
		PollInterval:  200 * time.Millisecond,
		Logger:        log.Default(),
	}
}

type subscription struct {
	principal api.ServiceID
	handler   api.Handler
	userData  any
}

// Bus is the event bus (component C7).
type Bus struct {
	cfg Config

	registry *registry.Registry
	pool     *pool.Pool
	queue    *queue.Queue
	quota    *quota.Enforcer
	monitor  *monitor.Monitor

	mu          sync.Mutex
	typeByName  map[string]api.EventTypeID
	typeNames   []string
	subs        map[api.EventTypeID]map[api.ServiceID]*subscription
	byPrincipal map[api.ServiceID]map[api.EventTypeID]bool
	blocks      map[*api.Event]*pool.Block
	envelopes   *pool.ObjectAdapter[*api.Event]

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New composes a Bus from its four dependency subsystems.
func New(cfg Config, reg *registry.Registry, p *pool.Pool, q *queue.Queue, qt *quota.Enforcer, mon *monitor.Monitor) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	return &Bus{
		cfg:         cfg,
		registry:    reg,
		pool:        p,
		queue:       q,
		quota:       qt,
		monitor:     mon,
		typeByName:  make(map[string]api.EventTypeID),
		subs:        make(map[api.EventTypeID]map[api.ServiceID]*subscription),
		byPrincipal: make(map[api.ServiceID]map[api.EventTypeID]bool),
		blocks:      make(map[*api.Event]*pool.Block),
		envelopes:   pool.NewObjectAdapter(func() *api.Event { return &api.Event{} }),
	}
}

// RegisterType returns the id for name, interning it if not already
// present. Idempotent: re-registering the same name returns the same id.
func (b *Bus) RegisterType(name string) (api.EventTypeID, error) {
	if name == "" || len(name) > api.MaxNameLen {
		return api.InvalidEventTypeID, api.NewFault(api.CodeInvalidArgument, "invalid event type name").
			WithContext("name", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.typeByName[name]; ok {
		return id, nil
	}
	if len(b.typeNames) >= b.cfg.MaxEventTypes {
		return api.InvalidEventTypeID, api.NewFault(api.CodeEventTypeRegistryFull, "event type registry full")
	}
	id := api.EventTypeID(len(b.typeNames))
	b.typeNames = append(b.typeNames, name)
	b.typeByName[name] = id
	return id, nil
}

// TypeName resolves id back to the name it was registered with.
func (b *Bus) TypeName(id api.EventTypeID) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(id) < 0 || int(id) >= len(b.typeNames) {
		return "", false
	}
	return b.typeNames[id], true
}

func (b *Bus) typeExists(id api.EventTypeID) bool {
	return int(id) >= 0 && int(id) < len(b.typeNames)
}

// Subscribe binds principal to type with handler/userData. Re-subscribing
// the same (principal, type) pair is idempotent and returns nil.
func (b *Bus) Subscribe(principal api.ServiceID, typ api.EventTypeID, h api.Handler, userData any) error {
	if err := b.quota.CheckSubscription(principal); err != nil {
		return err
	}
	if _, ok := b.registry.Info(principal); !ok {
		return api.NewFault(api.CodeServiceNotFound, "service not found").WithContext("id", principal)
	}

	b.mu.Lock()
	if !b.typeExists(typ) {
		b.mu.Unlock()
		return api.NewFault(api.CodeEventTypeNotFound, "event type not found").WithContext("type", typ)
	}
	byType, ok := b.subs[typ]
	if !ok {
		byType = make(map[api.ServiceID]*subscription)
		b.subs[typ] = byType
	}
	if _, already := byType[principal]; already {
		b.mu.Unlock()
		return nil
	}
	byType[principal] = &subscription{principal: principal, handler: h, userData: userData}
	if b.byPrincipal[principal] == nil {
		b.byPrincipal[principal] = make(map[api.EventTypeID]bool)
	}
	b.byPrincipal[principal][typ] = true
	b.mu.Unlock()

	b.quota.RecordSubscription(principal, true)
	return nil
}

// Unsubscribe removes the (principal, type) subscription if present.
func (b *Bus) Unsubscribe(principal api.ServiceID, typ api.EventTypeID) error {
	b.mu.Lock()
	byType, ok := b.subs[typ]
	if !ok {
		b.mu.Unlock()
		return api.NewFault(api.CodeSubscriptionNotFound, "subscription not found")
	}
	if _, ok := byType[principal]; !ok {
		b.mu.Unlock()
		return api.NewFault(api.CodeSubscriptionNotFound, "subscription not found")
	}
	delete(byType, principal)
	if set := b.byPrincipal[principal]; set != nil {
		delete(set, typ)
	}
	b.mu.Unlock()

	b.quota.RecordSubscription(principal, false)
	return nil
}

// UnsubscribeAll tears down every subscription owned by principal. It is
// the tracker-driven teardown path the registry invokes during
// Unregister, guaranteeing no dangling subscription can outlive its
// principal.
func (b *Bus) UnsubscribeAll(principal api.ServiceID) {
	b.mu.Lock()
	types := make([]api.EventTypeID, 0, len(b.byPrincipal[principal]))
	for t := range b.byPrincipal[principal] {
		types = append(types, t)
	}
	for _, t := range types {
		delete(b.subs[t], principal)
	}
	delete(b.byPrincipal, principal)
	b.mu.Unlock()

	for range types {
		b.quota.RecordSubscription(principal, false)
	}
}

// Post validates quota and identity, copies payload into a pool-sourced (or
// heap-fallback) block, and enqueues the resulting event.
func (b *Bus) Post(sender api.ServiceID, typ api.EventTypeID, payload []byte, priority api.Priority) error {
	if err := b.quota.CheckEventPost(sender); err != nil {
		return err
	}
	if err := b.quota.CheckDataSize(sender, len(payload)); err != nil {
		return err
	}
	if _, ok := b.registry.Info(sender); !ok {
		return api.NewFault(api.CodeServiceNotFound, "service not found").WithContext("id", sender)
	}
	b.mu.Lock()
	typeOK := b.typeExists(typ)
	b.mu.Unlock()
	if !typeOK {
		return api.NewFault(api.CodeEventTypeNotFound, "event type not found").WithContext("type", typ)
	}

	var block *pool.Block
	var data []byte
	if len(payload) > 0 {
		block = b.pool.Alloc(len(payload))
		copy(block.Bytes(), payload)
		data = block.Bytes()
	}

	ev := b.envelopes.Get()
	*ev = api.Event{
		Type:        typ,
		Priority:    priority,
		Sender:      sender,
		Data:        data,
		TimestampMS: b.registry.NowMS(),
	}

	if block != nil {
		b.mu.Lock()
		b.blocks[ev] = block
		b.mu.Unlock()
	}

	evicted, err := b.queue.Post(ev)
	if evicted != nil {
		b.freeEvent(evicted)
	}
	if err != nil {
		b.freeEvent(ev)
		return err
	}

	b.quota.RecordEventPost(sender)
	return nil
}

func (b *Bus) freeEvent(ev *api.Event) {
	b.mu.Lock()
	blk, ok := b.blocks[ev]
	if ok {
		delete(b.blocks, ev)
	}
	b.mu.Unlock()
	if ok {
		b.pool.Free(blk)
	}
	b.envelopes.Put(ev)
}

// Start launches the single dedicated dispatcher goroutine.
func (b *Bus) Start() {
	b.stopCh = make(chan struct{})
	b.wg.Add(1)
	go b.dispatchLoop()
}

// Stop signals the dispatcher to finish its current event and return. It
// waits for the dispatcher goroutine to exit.
func (b *Bus) Stop() {
	if b.stopCh == nil {
		return
	}
	close(b.stopCh)
	b.wg.Wait()
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		ev, ok := b.queue.Receive(b.cfg.PollInterval)
		if !ok {
			continue
		}
		b.dispatchOne(ev)
	}
}

func (b *Bus) dispatchOne(ev *api.Event) {
	b.mu.Lock()
	byType := b.subs[ev.Type]
	snapshot := make([]*subscription, 0, len(byType))
	for _, s := range byType {
		snapshot = append(snapshot, s)
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		if err := b.monitor.Execute(s.principal, s.handler, ev, s.userData); err != nil {
			b.cfg.Logger.Printf("bus: handler for service %d on event type %d: %v", s.principal, ev.Type, err)
		}
	}

	b.freeEvent(ev)
}

// Stats returns the composed queue statistics, useful for health probes.
func (b *Bus) Stats() queue.Stats {
	return b.queue.Stats()
}
