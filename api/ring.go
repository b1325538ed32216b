// File: api/ring.go
// Package api
// Author: momentics
//
// Ring is the lock-free FIFO contract internal/concurrency.RingBuffer
// implements; the priority queue's LOW class uses one directly for its
// evict-oldest-on-full admission policy.

package api

// Ring is a bounded, concurrent FIFO.
type Ring[T any] interface {
	// Enqueue adds item, returns false if the buffer is full.
	Enqueue(item T) bool

	// Dequeue removes and returns the oldest item, false if empty.
	Dequeue() (T, bool)

	// Len returns the number of items currently buffered.
	Len() int

	// Cap returns the fixed buffer capacity.
	Cap() int
}
