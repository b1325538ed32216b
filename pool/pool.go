// File: pool/pool.go
// Package pool implements the fixed-size block allocator backing event
// payload bytes and other short-lived small allocations in the kernel core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Each size class keeps its free list as a buffered channel of *Block,
// following the same channel-as-freelist shape the rest of this codebase
// uses for bounded object reuse. Exhausting a class, or requesting a size
// larger than the biggest class, falls back to a heap-backed Block rather
// than failing the caller — pool exhaustion is a tuning signal, not an
// error.

package pool

import (
	"sync/atomic"
)

const blockMagic uint32 = 0x4B52414B // "KRAK"

// heapPoolID marks a Block that was not sourced from any class.
const heapPoolID = -1

// ClassConfig describes one fixed block-size class.
type ClassConfig struct {
	BlockSize uint32
	Count     uint32
}

// DefaultClasses mirrors the block sizes a typical event-payload workload
// needs: small control messages, medium sensor readings, larger batched
// payloads.
func DefaultClasses() []ClassConfig {
	return []ClassConfig{
		{BlockSize: 64, Count: 64},
		{BlockSize: 128, Count: 64},
		{BlockSize: 256, Count: 32},
		{BlockSize: 512, Count: 16},
	}
}

// Block is a pool-sourced (or heap-sourced) allocation. Its zero value is
// not usable; obtain one from Pool.Alloc.
type Block struct {
	magic  uint32
	poolID int
	buf    []byte
	n      int
}

// Bytes returns the logical, in-use portion of the block.
func (b *Block) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.buf[:b.n]
}

// Len reports the logical length requested at allocation time.
func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return b.n
}

type class struct {
	size  uint32
	free  chan *Block
	cap   uint32
	allocs    atomic.Uint64
	frees     atomic.Uint64
	failures  atomic.Uint64
	used      atomic.Int32
	highWater atomic.Int32
}

// ClassStats is a point-in-time snapshot of one size class.
type ClassStats struct {
	BlockSize        uint32
	Capacity         uint32
	Used             int32
	Free             int32
	LifetimeAllocs   uint64
	LifetimeFrees    uint64
	AllocFailures    uint64
	HighWaterMark    int32
}

// Pool is the memory pool allocator (component C1). Classes are ordered by
// ascending BlockSize; Alloc selects the smallest class that fits.
type Pool struct {
	classes []*class

	heapAllocs atomic.Uint64
	heapFrees  atomic.Uint64
}

// New builds a Pool with one free list per ClassConfig, pre-populated with
// Count blocks of BlockSize bytes each.
func New(classes []ClassConfig) *Pool {
	p := &Pool{}
	for _, cc := range classes {
		c := &class{
			size: cc.BlockSize,
			free: make(chan *Block, cc.Count),
			cap:  cc.Count,
		}
		for i := uint32(0); i < cc.Count; i++ {
			c.free <- &Block{buf: make([]byte, cc.BlockSize)}
		}
		p.classes = append(p.classes, c)
	}
	return p
}

// Alloc returns a block able to hold at least n bytes. It never fails:
// exhaustion of the fitting class, or n exceeding the largest class, falls
// back to a heap allocation that Free will recognize and simply release to
// the garbage collector.
func (p *Pool) Alloc(n int) *Block {
	if n < 0 {
		n = 0
	}
	for i, c := range p.classes {
		if int(c.size) < n {
			continue
		}
		select {
		case b := <-c.free:
			b.magic = blockMagic
			b.poolID = i
			b.n = n
			c.allocs.Add(1)
			used := c.used.Add(1)
			for {
				hw := c.highWater.Load()
				if used <= hw || c.highWater.CompareAndSwap(hw, used) {
					break
				}
			}
			return b
		default:
			c.failures.Add(1)
			return p.heapAlloc(n)
		}
	}
	return p.heapAlloc(n)
}

func (p *Pool) heapAlloc(n int) *Block {
	p.heapAllocs.Add(1)
	return &Block{magic: blockMagic, poolID: heapPoolID, buf: make([]byte, n), n: n}
}

// Free returns b to its owning class, or releases it to the heap if it was
// heap-sourced or already freed. A nil Block is a no-op. Double-free is not
// admitted: magic is cleared on the first Free, so a second call on the
// same Block takes the heap-release path instead of re-entering a class
// free list.
func (p *Pool) Free(b *Block) {
	if b == nil {
		return
	}
	if b.magic != blockMagic || b.poolID < 0 || b.poolID >= len(p.classes) {
		if b.poolID == heapPoolID {
			p.heapFrees.Add(1)
		}
		b.magic = 0
		return
	}
	c := p.classes[b.poolID]
	b.magic = 0
	b.n = 0
	select {
	case c.free <- b:
		c.frees.Add(1)
		c.used.Add(-1)
	default:
		// Free list is at capacity; this indicates a logic error elsewhere
		// (a block returned twice through different callers) rather than a
		// condition the allocator should ever normally hit. Drop it rather
		// than block or panic.
	}
}

// Stats returns a snapshot for the class whose BlockSize equals size, or
// false if no such class exists.
func (p *Pool) Stats(size uint32) (ClassStats, bool) {
	for _, c := range p.classes {
		if c.size != size {
			continue
		}
		return ClassStats{
			BlockSize:      c.size,
			Capacity:       c.cap,
			Used:           c.used.Load(),
			Free:           int32(c.cap) - c.used.Load(),
			LifetimeAllocs: c.allocs.Load(),
			LifetimeFrees:  c.frees.Load(),
			AllocFailures:  c.failures.Load(),
			HighWaterMark:  c.highWater.Load(),
		}, true
	}
	return ClassStats{}, false
}

// AllStats returns a snapshot of every class, ordered ascending by size.
func (p *Pool) AllStats() []ClassStats {
	out := make([]ClassStats, 0, len(p.classes))
	for _, c := range p.classes {
		s, _ := p.Stats(c.size)
		out = append(out, s)
	}
	return out
}

// HeapStats reports allocations that bypassed every class, either because
// no class fit or because a class was momentarily exhausted.
func (p *Pool) HeapStats() (allocs, frees uint64) {
	return p.heapAllocs.Load(), p.heapFrees.Load()
}
