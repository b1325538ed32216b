// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// BytePool and ObjectPool are the two acquire/release contracts
// pool.BytesAdapter and pool.ObjectAdapter implement over pool.Pool: the
// former for plain []byte callers (runtime.Runtime.LogWrite), the latter
// for recycling typed values (bus.Bus pools its *api.Event envelopes).

package api

// BytePool provides reusable []byte buffers.
type BytePool interface {
	// Acquire returns a slice of at least n bytes.
	Acquire(n int) []byte

	// Release returns a buffer previously obtained from Acquire.
	Release(buf []byte)
}

// ObjectPool provides generic pooling of transiently allocated values.
type ObjectPool[T any] interface {
	// Get returns an available instance, minting one if none is free.
	Get() T

	// Put returns an instance for reuse.
	Put(obj T)
}
