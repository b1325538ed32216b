// File: api/types.go
// Package api defines the shared vocabulary of the kernel core: principal
// identifiers, lifecycle states and event priorities.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// ServiceID identifies a registered principal (service or app). It is the
// slot index assigned at registration and is reused once the principal
// unregisters.
type ServiceID uint16

// InvalidServiceID is returned in place of a valid id when an operation
// fails before a slot is assigned.
const InvalidServiceID ServiceID = 0xFFFF

// EventTypeID identifies an interned event type name. Ids are stable for
// the lifetime of the runtime; there is no deregistration.
type EventTypeID uint16

// InvalidEventTypeID marks the absence of an interned type.
const InvalidEventTypeID EventTypeID = 0xFFFF

// MaxNameLen bounds service and event type names to a fixed-size buffer.
const MaxNameLen = 32

// ServiceState is the lifecycle state of a registered principal.
//
//	                   register
//	UNREGISTERED ─────────────────► REGISTERED
//	                                    │ set_state(RUNNING)
//	                                    ▼
//	                                RUNNING ◄──► PAUSED
//	                                 │ │ ▲        │
//	                        error    │ │ └────────┘ resume/pause
//	                                 ▼ ▼
//	                               ERROR     STOPPING ──► UNREGISTERED
//
// Transitions other than the register/unregister edges are advisory:
// callers of SetState may move between any pair of non-terminal states.
type ServiceState int

const (
	StateUnregistered ServiceState = iota
	StateRegistered
	StateRunning
	StatePaused
	StateStopping
	StateError
)

func (s ServiceState) String() string {
	switch s {
	case StateUnregistered:
		return "UNREGISTERED"
	case StateRegistered:
		return "REGISTERED"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Priority is an ordering hint for event delivery, never a security
// boundary: LOW events may be silently dropped under overflow, the others
// never are.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// SecureKey is a run-integrity token returned by Init and required by every
// subsequent privileged call (Start/Stop/Deinit). It is NOT a capability or
// access-control primitive — anyone holding the value can stop the
// runtime. It exists only to catch accidental double-init across modules
// sharing the same process.
type SecureKey uint32

// ServiceQuota is the set of per-principal resource limits.
type ServiceQuota struct {
	MaxEventsPerSec   uint32
	MaxSubscriptions  uint32
	MaxEventDataBytes uint32
	MaxResidentMemory uint32
}

// DefaultServiceQuota mirrors the defaults a principal implicitly gets
// before any explicit ServiceQuota record exists for it.
func DefaultServiceQuota() ServiceQuota {
	return ServiceQuota{
		MaxEventsPerSec:   100,
		MaxSubscriptions:  32,
		MaxEventDataBytes: 4096,
		MaxResidentMemory: 64 * 1024,
	}
}

// QuotaUsage is the live counters tracked against a ServiceQuota.
type QuotaUsage struct {
	EventsThisWindow    uint32
	TotalEventsPosted   uint64
	ActiveSubscriptions uint32
	ResidentMemory      uint32
	ViolationCount      uint32
}

// WatchdogConfig configures liveness monitoring for one principal.
type WatchdogConfig struct {
	TimeoutMS   uint32
	AutoRestart bool
	MaxRestarts uint32 // 0 == unlimited
	Critical    bool
}

// ServiceInfo is the public snapshot returned by registry lookups.
type ServiceInfo struct {
	Name          string
	ID            ServiceID
	State         ServiceState
	LastHeartbeat int64 // ms since runtime start
	Critical      bool
	RestartCount  uint32
}
