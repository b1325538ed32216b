// File: api/shutdown.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// GracefulShutdown lets a caller holding only a Runtime handle (no secure
// key) still trigger an orderly teardown — runtime.Runtime.Shutdown is the
// concrete implementation, closing over the key it captured at Init.

package api

// GracefulShutdown tears down a component's internal services and
// releases its resources in one call.
type GracefulShutdown interface {
	// Shutdown stops the component and releases its resources. It returns
	// an error if teardown could not complete cleanly.
	Shutdown() error
}
