// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BytesAdapter exposes a Pool through the plain []byte-in/[]byte-out
// api.BytePool contract, for callers that want acquire/release semantics
// without tracking *Block handles themselves.

package pool

import (
	"reflect"
	"sync"

	"github.com/krakenos/kernel/api"
)

var _ api.BytePool = (*BytesAdapter)(nil)

// BytesAdapter wraps a Pool behind api.BytePool.
type BytesAdapter struct {
	p *Pool

	mu   sync.Mutex
	live map[uintptr]*Block
}

// AsBytePool wraps p behind the api.BytePool contract.
func (p *Pool) AsBytePool() *BytesAdapter {
	return &BytesAdapter{p: p, live: make(map[uintptr]*Block)}
}

// Acquire returns a slice of at least n bytes sourced from the pool.
func (a *BytesAdapter) Acquire(n int) []byte {
	b := a.p.Alloc(n)
	buf := b.Bytes()
	if len(buf) == 0 {
		return buf
	}
	key := reflect.ValueOf(buf).Pointer()
	a.mu.Lock()
	a.live[key] = b
	a.mu.Unlock()
	return buf
}

// Release returns buf to the pool it was Acquired from. A buffer not
// obtained from Acquire, or already released, is a no-op.
func (a *BytesAdapter) Release(buf []byte) {
	if len(buf) == 0 {
		return
	}
	key := reflect.ValueOf(buf).Pointer()
	a.mu.Lock()
	b, ok := a.live[key]
	if ok {
		delete(a.live, key)
	}
	a.mu.Unlock()
	if ok {
		a.p.Free(b)
	}
}
