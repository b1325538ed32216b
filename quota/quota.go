// File: quota/quota.go
// Package quota implements the per-principal resource enforcer (component
// C3): event-rate, subscription-count, payload-size and advisory resident
// memory limits.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A principal with no record implicitly uses api.DefaultServiceQuota and is
// otherwise a no-op until SetQuota is called or a check/record pair lazily
// creates one.

package quota

import (
	"sync"

	"github.com/krakenos/kernel/api"
)

type record struct {
	mu     sync.Mutex
	limits api.ServiceQuota
	usage  api.QuotaUsage
}

// Enforcer tracks one record per principal, keyed by api.ServiceID.
type Enforcer struct {
	mu      sync.Mutex
	records map[api.ServiceID]*record
}

// New creates an empty Enforcer.
func New() *Enforcer {
	return &Enforcer{records: make(map[api.ServiceID]*record)}
}

func (e *Enforcer) recordFor(id api.ServiceID) *record {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.records[id]
	if !ok {
		r = &record{limits: api.DefaultServiceQuota()}
		e.records[id] = r
	}
	return r
}

// SetQuota installs explicit limits for id, replacing any defaults. Usage
// counters are left untouched if a record already exists.
func (e *Enforcer) SetQuota(id api.ServiceID, limits api.ServiceQuota) {
	r := e.recordFor(id)
	r.mu.Lock()
	r.limits = limits
	r.mu.Unlock()
}

// Usage returns a snapshot of the live counters for id.
func (e *Enforcer) Usage(id api.ServiceID) api.QuotaUsage {
	r := e.recordFor(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

// Remove drops the record for id, typically called on unregister.
func (e *Enforcer) Remove(id api.ServiceID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.records, id)
}

// CheckEventPost verifies id has not exceeded its event-rate limit for the
// current window, without recording admission.
func (e *Enforcer) CheckEventPost(id api.ServiceID) error {
	r := e.recordFor(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usage.EventsThisWindow >= r.limits.MaxEventsPerSec {
		r.usage.ViolationCount++
		return api.NewFault(api.CodeQuotaEventsExceeded, "event rate limit exceeded").
			WithContext("service_id", id)
	}
	return nil
}

// RecordEventPost admits one event against id's rate window and lifetime
// counter. Call only after CheckEventPost succeeded.
func (e *Enforcer) RecordEventPost(id api.ServiceID) {
	r := e.recordFor(id)
	r.mu.Lock()
	r.usage.EventsThisWindow++
	r.usage.TotalEventsPosted++
	r.mu.Unlock()
}

// CheckDataSize verifies payloadBytes does not exceed id's per-event
// payload size limit.
func (e *Enforcer) CheckDataSize(id api.ServiceID, payloadBytes int) error {
	r := e.recordFor(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if uint32(payloadBytes) > r.limits.MaxEventDataBytes {
		r.usage.ViolationCount++
		return api.NewFault(api.CodeQuotaDataSizeExceeded, "event payload too large").
			WithContext("service_id", id).
			WithContext("bytes", payloadBytes)
	}
	return nil
}

// CheckSubscription verifies id has not reached its subscription-count
// limit.
func (e *Enforcer) CheckSubscription(id api.ServiceID) error {
	r := e.recordFor(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usage.ActiveSubscriptions >= r.limits.MaxSubscriptions {
		r.usage.ViolationCount++
		return api.NewFault(api.CodeQuotaSubscriptionsExceeded, "subscription limit exceeded").
			WithContext("service_id", id)
	}
	return nil
}

// RecordSubscription adjusts id's active-subscription counter by +1 on
// subscribe (add=true) or -1 on unsubscribe (add=false), clamped at zero.
func (e *Enforcer) RecordSubscription(id api.ServiceID, add bool) {
	r := e.recordFor(id)
	r.mu.Lock()
	if add {
		r.usage.ActiveSubscriptions++
	} else if r.usage.ActiveSubscriptions > 0 {
		r.usage.ActiveSubscriptions--
	}
	r.mu.Unlock()
}

// RecordMemory is advisory: it updates the resident-memory counter but
// never blocks allocation. delta may be negative on free. Hard memory
// enforcement belongs to the host runtime, not this enforcer.
func (e *Enforcer) RecordMemory(id api.ServiceID, delta int64) {
	r := e.recordFor(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	next := int64(r.usage.ResidentMemory) + delta
	if next < 0 {
		next = 0
	}
	r.usage.ResidentMemory = uint32(next)
	if r.usage.ResidentMemory > r.limits.MaxResidentMemory {
		r.usage.ViolationCount++
	}
}

// ResetWindow zeroes EventsThisWindow for every tracked principal. The
// caller drives the 1 s period; this enforcer owns no internal timer.
func (e *Enforcer) ResetWindow() {
	e.mu.Lock()
	records := make([]*record, 0, len(e.records))
	for _, r := range e.records {
		records = append(records, r)
	}
	e.mu.Unlock()

	for _, r := range records {
		r.mu.Lock()
		r.usage.EventsThisWindow = 0
		r.mu.Unlock()
	}
}
