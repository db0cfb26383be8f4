// File: internal/bufpool/slab_pool.go
// Package bufpool implements the reference-counted slab allocator described
// in spec.md 4.B, grounded on the teacher's pool/slab_pool.go and
// pool/bufferpool.go (size-classed, refcounted slab pools) with the NUMA and
// hugepage machinery stripped out in favor of the spec's slab/refcount
// bookkeeping, which the teacher's queue-backed pool does not implement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package bufpool

import (
	"sync"

	"github.com/momentics/hioreactor/api"
)

// slab is a contiguous allocation carved into bufCount fixed-size buffers.
// refcount starts at bufCount and only ever decreases, dropping to zero once
// every buffer the slab issued has been permanently released rather than
// requeued onto the free list (spec.md 3 "Pool slab").
type slab struct {
	id       int
	base     []byte
	bufCount int
	refcount int
}

type handle struct {
	data []byte
	slab *slab
	pool *SlabPool
}

func (h *handle) Bytes() []byte { return h.data }
func (h *handle) Release()      { h.pool.Put(h) }

var _ api.Buffer = (*handle)(nil)

// SlabPool is a single size-classed pool: fixed buffer size, slab-based
// allocation, free-list retention watermark.
type SlabPool struct {
	mu sync.Mutex

	bufSize      int
	slabBufCount int // N: buffers carved per slab
	minRetained  int // high-water free-list retention count

	freeList   []*handle
	liveSlabs  map[int]*slab
	nextSlabID int

	checkedOut int64
	totalAlloc int64
	totalFree  int64
}

// New builds a SlabPool. bufSize is the fixed size of every buffer this
// pool hands out. slabBufCount is N, the number of buffers carved from a
// single slab allocation. minRetained is the free-list high-water mark
// below which returned buffers are requeued rather than released.
func New(bufSize, slabBufCount, minRetained int) *SlabPool {
	if slabBufCount < 1 {
		slabBufCount = 1
	}
	if minRetained < slabBufCount {
		minRetained = slabBufCount
	}
	return &SlabPool{
		bufSize:      bufSize,
		slabBufCount: slabBufCount,
		minRetained:  minRetained,
		liveSlabs:    make(map[int]*slab),
	}
}

// Get returns one buffer, allocating a new slab if the free list is empty.
// Never blocks. Returns nil only when slab allocation fails at every retry
// size down to a single buffer (spec.md 7 "resource exhaustion in pool").
func (p *SlabPool) Get() api.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.freeList); n > 0 {
		h := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.checkedOut++
		p.totalAlloc++
		return h
	}

	if !p.allocSlabLocked(p.slabBufCount) {
		return nil
	}
	n := len(p.freeList)
	h := p.freeList[n-1]
	p.freeList = p.freeList[:n-1]
	p.checkedOut++
	p.totalAlloc++
	return h
}

// allocSlabLocked allocates one slab of `want` buffers, halving want on
// failure down to 1 (spec.md 4.B allocation strategy). Must be called with
// p.mu held. A Go make() call only fails via panic (e.g. a request past the
// maximum slice length); ordinary OOM is fatal to the process and cannot be
// caught, so this retry loop protects against pathological slab sizes, not
// true memory exhaustion.
func (p *SlabPool) allocSlabLocked(want int) (ok bool) {
	for size := want; size >= 1; size /= 2 {
		if p.tryAllocSlabLocked(size) {
			return true
		}
		if size == 1 {
			break
		}
	}
	return false
}

func (p *SlabPool) tryAllocSlabLocked(size int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	base := make([]byte, size*p.bufSize)
	sl := &slab{
		id:       p.nextSlabID,
		base:     base,
		bufCount: size,
		refcount: size,
	}
	p.nextSlabID++
	p.liveSlabs[sl.id] = sl
	for i := 0; i < size; i++ {
		p.freeList = append(p.freeList, &handle{
			data: base[i*p.bufSize : (i+1)*p.bufSize],
			slab: sl,
			pool: p,
		})
	}
	return true
}

// Put returns buf to the pool. If the free list is already at or above
// minRetained, the buffer's slab refcount is decremented instead of
// requeuing the buffer; a slab is freed (dropped from the live set) once
// its refcount reaches zero. Otherwise the buffer is pushed back onto the
// free list and the slab's refcount is untouched (spec.md 4.B release
// policy).
func (p *SlabPool) Put(buf api.Buffer) {
	h, ok := buf.(*handle)
	if !ok || h.pool != p {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.checkedOut--
	p.totalFree++

	if len(p.freeList) >= p.minRetained {
		h.slab.refcount--
		if h.slab.refcount == 0 {
			delete(p.liveSlabs, h.slab.id)
		}
		return
	}
	p.freeList = append(p.freeList, h)
}

// Stats reports current occupancy.
func (p *SlabPool) Stats() api.BufferPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return api.BufferPoolStats{
		BufferSize:     p.bufSize,
		SlabCount:      len(p.liveSlabs),
		FreeListLength: len(p.freeList),
		CheckedOut:     p.checkedOut,
		TotalAlloc:     p.totalAlloc,
		TotalFree:      p.totalFree,
	}
}

// Reset releases every slab when checkedOut == 0; while any buffer is
// still checked out it does nothing (spec_full.md 12).
func (p *SlabPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checkedOut != 0 {
		return
	}
	p.freeList = nil
	p.liveSlabs = make(map[int]*slab)
	p.nextSlabID = 0
	p.totalAlloc = 0
	p.totalFree = 0
}

var _ api.BufferPool = (*SlabPool)(nil)
