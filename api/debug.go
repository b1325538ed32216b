// File: api/debug.go
// Package api
// Author: momentics
//
// Debug is the diagnostic surface runtime.Runtime exposes alongside
// Control: a named probe registry and a full state dump, both driven by
// callers registering their own inspection hooks through RegisterProbe.

package api

// Debug exposes runtime introspection for operator tooling.
type Debug interface {
	// DumpState returns every registered probe's current value plus the
	// dependency graph and service registry snapshots.
	DumpState() map[string]any

	// RegisterProbe adds a named debug probe, invoked on every DumpState.
	RegisterProbe(name string, fn func() any)
}
