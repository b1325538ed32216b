// File: pool/objectpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ObjectAdapter implements api.ObjectPool[T] over a sync.Pool, for reusing
// short-lived struct values whose state lives in their own fields rather
// than in a raw byte slice — Bus uses one to recycle *api.Event envelopes
// across Post/dispatch cycles instead of allocating a fresh one per post.

package pool

import (
	"sync"

	"github.com/krakenos/kernel/api"
)

var _ api.ObjectPool[any] = (*ObjectAdapter[any])(nil)

// ObjectAdapter pools values of type T behind api.ObjectPool.
type ObjectAdapter[T any] struct {
	pool sync.Pool
}

// NewObjectAdapter builds an ObjectAdapter whose pool calls newFn to mint a
// fresh T on first use or whenever the pool is empty.
func NewObjectAdapter[T any](newFn func() T) *ObjectAdapter[T] {
	a := &ObjectAdapter[T]{}
	a.pool.New = func() any { return newFn() }
	return a
}

// Get returns an available instance, minting one if the pool is empty.
func (a *ObjectAdapter[T]) Get() T {
	return a.pool.Get().(T)
}

// Put returns obj for reuse.
func (a *ObjectAdapter[T]) Put(obj T) {
	a.pool.Put(obj)
}
