// File: registry/registry.go
// Package registry implements the service registry and lifecycle manager
// (component C6): a fixed-capacity slot array of named principals with a
// state machine and heartbeat timestamp.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package registry

import (
	"sync"
	"time"

	"github.com/krakenos/kernel/api"
)

type slot struct {
	occupied      bool
	name          string
	context       any
	state         api.ServiceState
	lastHeartbeat int64
	critical      bool
	restartCount  uint32
}

// Registry holds up to Capacity principals, assigning each a stable slot
// index (api.ServiceID) reused once the principal unregisters.
type Registry struct {
	mu       sync.Mutex
	slots    []slot
	byName   map[string]api.ServiceID
	start    time.Time
}

// New allocates a Registry with room for capacity principals.
func New(capacity int) *Registry {
	return &Registry{
		slots:  make([]slot, capacity),
		byName: make(map[string]api.ServiceID),
		start:  time.Now(),
	}
}

func (r *Registry) nowMS() int64 {
	return time.Since(r.start).Milliseconds()
}

// Register validates name (nonempty, within api.MaxNameLen, not already
// present), assigns the first free slot, and returns its id.
func (r *Registry) Register(name string, context any) (api.ServiceID, error) {
	if name == "" || len(name) > api.MaxNameLen {
		return api.InvalidServiceID, api.NewFault(api.CodeInvalidArgument, "invalid service name").
			WithContext("name", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return api.InvalidServiceID, api.NewFault(api.CodeServiceAlreadyRegistered, "service name already registered").
			WithContext("name", name)
	}

	for i := range r.slots {
		if r.slots[i].occupied {
			continue
		}
		r.slots[i] = slot{
			occupied:      true,
			name:          name,
			context:       context,
			state:         api.StateRegistered,
			lastHeartbeat: r.nowMS(),
		}
		id := api.ServiceID(i)
		r.byName[name] = id
		return id, nil
	}
	return api.InvalidServiceID, api.NewFault(api.CodeServiceRegistryFull, "service registry full")
}

// Unregister clears id's slot, freeing it for reuse. unsubscribeAll is
// invoked before the slot is cleared so callers (the bus) can tear down
// any subscriptions still pointing at id.
func (r *Registry) Unregister(id api.ServiceID, unsubscribeAll func(api.ServiceID)) error {
	r.mu.Lock()
	if int(id) >= len(r.slots) || !r.slots[id].occupied {
		r.mu.Unlock()
		return api.NewFault(api.CodeServiceNotFound, "service not found").WithContext("id", id)
	}
	name := r.slots[id].name
	r.mu.Unlock()

	if unsubscribeAll != nil {
		unsubscribeAll(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
	r.slots[id] = slot{}
	return nil
}

// SetState moves id to state. Transitions are advisory except out of
// StateUnregistered (only Register can leave that state), which this
// function cannot produce: id must already be occupied, and StateUnregistered
// itself is refused as a target with api.CodeInvalidArgument.
func (r *Registry) SetState(id api.ServiceID, state api.ServiceState) error {
	if state == api.StateUnregistered {
		return api.NewFault(api.CodeInvalidArgument, "only Unregister can leave a slot UNREGISTERED").WithContext("id", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) >= len(r.slots) || !r.slots[id].occupied {
		return api.NewFault(api.CodeServiceNotFound, "service not found").WithContext("id", id)
	}
	r.slots[id].state = state
	return nil
}

// Heartbeat stamps id's last-heartbeat to now. O(1).
func (r *Registry) Heartbeat(id api.ServiceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) >= len(r.slots) || !r.slots[id].occupied {
		return api.NewFault(api.CodeServiceNotFound, "service not found").WithContext("id", id)
	}
	r.slots[id].lastHeartbeat = r.nowMS()
	return nil
}

// SetCritical marks id as a critical principal for watchdog purposes.
func (r *Registry) SetCritical(id api.ServiceID, critical bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) >= len(r.slots) || !r.slots[id].occupied {
		return api.NewFault(api.CodeServiceNotFound, "service not found").WithContext("id", id)
	}
	r.slots[id].critical = critical
	return nil
}

// IncRestartCount increments id's restart-attempt counter, for watchdog
// bookkeeping, and returns the new value.
func (r *Registry) IncRestartCount(id api.ServiceID) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) >= len(r.slots) || !r.slots[id].occupied {
		return 0
	}
	r.slots[id].restartCount++
	return r.slots[id].restartCount
}

// ResetRestartCount zeroes id's restart-attempt counter.
func (r *Registry) ResetRestartCount(id api.ServiceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) < len(r.slots) && r.slots[id].occupied {
		r.slots[id].restartCount = 0
	}
}

// Info returns a public snapshot of id, or false if the slot is not
// occupied.
func (r *Registry) Info(id api.ServiceID) (api.ServiceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) >= len(r.slots) || !r.slots[id].occupied {
		return api.ServiceInfo{}, false
	}
	s := r.slots[id]
	return api.ServiceInfo{
		Name:          s.name,
		ID:            id,
		State:         s.state,
		LastHeartbeat: s.lastHeartbeat,
		Critical:      s.critical,
		RestartCount:  s.restartCount,
	}, true
}

// Lookup resolves a registered name to its id.
func (r *Registry) Lookup(name string) (api.ServiceID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

// Context returns the opaque context pointer stored at registration.
func (r *Registry) Context(id api.ServiceID) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) >= len(r.slots) || !r.slots[id].occupied {
		return nil, false
	}
	return r.slots[id].context, true
}

// ListAll returns a snapshot of every occupied slot, ordered by id.
func (r *Registry) ListAll() []api.ServiceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]api.ServiceInfo, 0, len(r.slots))
	for i := range r.slots {
		if !r.slots[i].occupied {
			continue
		}
		s := r.slots[i]
		out = append(out, api.ServiceInfo{
			Name:          s.name,
			ID:            api.ServiceID(i),
			State:         s.state,
			LastHeartbeat: s.lastHeartbeat,
			Critical:      s.critical,
			RestartCount:  s.restartCount,
		})
	}
	return out
}

// NowMS exposes the registry's own monotonic clock (time since New was
// called) so other components can stamp timestamps on the same scale as
// LastHeartbeat.
func (r *Registry) NowMS() int64 {
	return r.nowMS()
}
