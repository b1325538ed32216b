// Package hostapi builds the versioned function table (component C11)
// handed to every dynamically loaded image: a single in-memory record of
// function values preceded by a version integer, constructed once at host
// bring-up and never mutated afterward.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The layout is append-only across host versions: once a field ships, its
// position and signature are frozen forever — a loaded image built against
// an older Version only ever reads a prefix of the current Table, and a new
// field must be added at the end, never inserted or removed.

package hostapi

import (
	"time"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/pool"
)

// Version identifies this layout. Bump it only when a field is appended.
const Version uint32 = 1

// Impl is the subset of the runtime facade the table closes over. The
// runtime package supplies the concrete implementation; hostapi has no
// dependency on runtime itself, keeping the table constructible from
// anything that exposes these operations (a real runtime, or a test
// double).
type Impl interface {
	Register(name string, context any) (api.ServiceID, error)
	Unregister(id api.ServiceID) error
	SetState(id api.ServiceID, state api.ServiceState) error
	Heartbeat(id api.ServiceID) error
	RegisterEventType(name string) (api.EventTypeID, error)
	Subscribe(id api.ServiceID, typ api.EventTypeID, h api.Handler, userData any) error
	Unsubscribe(id api.ServiceID, typ api.EventTypeID) error
	Post(id api.ServiceID, typ api.EventTypeID, payload []byte, priority api.Priority) error

	Malloc(n int) *pool.Block
	Free(b *pool.Block)

	LogWrite(level, msg string)
	TaskDelay(d time.Duration)
	GetTickCount() uint64
}

// Table is the record passed by address into every loaded image's entry
// point. Fields are plain function values rather than an interface so a
// loaded image sees exactly the call surface the host intends to expose,
// with no way to type-assert back to the runtime behind it.
type Table struct {
	Version uint32

	Register           func(name string, context any) (api.ServiceID, error)
	Unregister         func(id api.ServiceID) error
	SetState           func(id api.ServiceID, state api.ServiceState) error
	Heartbeat          func(id api.ServiceID) error
	RegisterEventType  func(name string) (api.EventTypeID, error)
	Subscribe          func(id api.ServiceID, typ api.EventTypeID, h api.Handler, userData any) error
	Unsubscribe        func(id api.ServiceID, typ api.EventTypeID) error
	Post               func(id api.ServiceID, typ api.EventTypeID, payload []byte, priority api.Priority) error

	Malloc func(n int) *pool.Block
	Free   func(b *pool.Block)

	LogWrite      func(level, msg string)
	TaskDelay     func(d time.Duration)
	GetTickCount  func() uint64
}

// New builds a Table bound to impl. The returned value is safe to share
// across every concurrently loaded image: every Impl method it calls
// acquires its own locking.
func New(impl Impl) *Table {
	return &Table{
		Version: Version,

		Register:          impl.Register,
		Unregister:        impl.Unregister,
		SetState:          impl.SetState,
		Heartbeat:         impl.Heartbeat,
		RegisterEventType: impl.RegisterEventType,
		Subscribe:         impl.Subscribe,
		Unsubscribe:       impl.Unsubscribe,
		Post:              impl.Post,

		Malloc: impl.Malloc,
		Free:   impl.Free,

		LogWrite:     impl.LogWrite,
		TaskDelay:    impl.TaskDelay,
		GetTickCount: impl.GetTickCount,
	}
}
