// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package elmalloc provides an explicit free list malloc library working on
// top of a single growable arena (see package arena).
//
// Every block carries a boundary tag (size + allocated flag) at both ends.
// Free blocks are kept in a doubly linked LIFO list whose links are stored
// inside the free payload. Allocation is first-fit, free coalesces immediately
// with the physical neighbours.
//
// Pointers are offsets into the arena (Ptr), never Go pointers, so the heap
// can live in any memory the arena.Provider hands out (a Go slice, an mmap-ed
// region or the linear memory of a wasm guest).
package elmalloc

import (
	"math"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/intuitivelabs/mallocs/arena"
)

const NAME = "elmalloc"

// Ptr is a block pointer: the offset of the block payload in the arena.
type Ptr uint32

// Nil is the "no block" pointer. Offset 0 always holds the alignment padding
// word, so it is never a valid payload.
const Nil Ptr = 0

// DefaultRepeatLimit is the default number of consecutive identical requests
// after which the free list search is skipped (see Config.RepeatLimit).
const DefaultRepeatLimit = 30

// MUsed contains the heap memory usage statistics.
type MUsed struct {
	Used        uint64 // total payload size of the allocated blocks
	RealUsed    uint64 // Used + per block overhead + sentinels
	MaxRealUsed uint64
	HeapSize    uint64 // current arena size
	FreeBlocks  uint32 // number of blocks in the free list
}

// Options encodes various configuration flags for the Heap.
type Options uint32

const (
	OptDebug          Options = 1 << iota // validate the whole heap after each op
	OptChecks                             // check pointers passed to Free/Realloc
	OptDumpStatsShort                     // dump status in log, short version
	OptDefaultOptions = OptChecks
)

// Config holds the Heap tunables.
type Config struct {
	Options Options
	// RepeatLimit is the anti-thrashing threshold: once the same adjusted
	// size was requested more than RepeatLimit times in a row, the free list
	// is not searched anymore and the arena is grown directly.
	// 0 disables the heuristic.
	RepeatLimit int
	// ChunkSize is the minimum arena growth on a free list miss.
	ChunkSize uint32
}

// DefaultConfig returns the configuration used when Init gets a nil Config.
func DefaultConfig() Config {
	return Config{
		Options:     OptDefaultOptions,
		RepeatLimit: DefaultRepeatLimit,
		ChunkSize:   ChunkSize,
	}
}

// Heap is the allocator state: the arena, the free list and the bookkeeping.
// The *Unsafe methods do no locking and must not be called concurrently.
// Malloc, Free and Realloc serialize on a single lock.
type Heap struct {
	options     Options
	repeatLimit int
	chunkSize   uint32

	a   arena.Provider
	mem []byte // a.Bytes(), refreshed after every grow

	heapStart Ptr // prologue block
	freeHead  Ptr // most recently inserted free block, Nil if empty
	freeNo    uint32

	lastSize    uint32 // last requested adjusted size
	repeatCount int

	used MUsed

	bigLock sync.Mutex
}

// Debug returns true if heap validation after each operation is turned on.
func (h *Heap) Debug() bool { return h.options&OptDebug != 0 }

// BChecks returns true if pointer checking is turned on.
func (h *Heap) BChecks() bool { return h.options&OptChecks != 0 }

func (h *Heap) lock() {
	h.bigLock.Lock()
}
func (h *Heap) unlock() {
	h.bigLock.Unlock()
}

// addUsed increases the "used" stats with a block size.
func (h *Heap) addUsed(size uint32) {
	h.used.Used += uint64(size - Overhead)
	h.used.RealUsed += uint64(size)
	if h.used.MaxRealUsed < h.used.RealUsed {
		h.used.MaxRealUsed = h.used.RealUsed
	}
}

// subUsed subtracts a block size from the "used" stats.
func (h *Heap) subUsed(size uint32) {
	h.used.Used -= uint64(size - Overhead)
	h.used.RealUsed -= uint64(size)
}

// MUsage returns current memory usage values.
func (h *Heap) MUsage() MUsed {
	u := h.used
	u.FreeBlocks = h.freeNo
	if h.a != nil {
		u.HeapSize = uint64(h.a.Len())
	}
	return u
}

// Available returns the total size of the free blocks (including their
// overhead).
func (h *Heap) Available() uint64 {
	return h.MUsage().HeapSize - h.used.RealUsed
}

// Init initialises the heap on top of the arena a, which is reset first.
// A nil cfg means DefaultConfig().
// It creates the alignment padding, the prologue and epilogue sentinels
// and an initial minimum sized free block.
// On failure the returned error matches ErrInit and the heap must not be used.
// Init does not lock: it must not run concurrently with any other call on h.
func (h *Heap) Init(a arena.Provider, cfg *Config) error {
	*h = Heap{} // zero, in case of re-init
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	h.options = cfg.Options
	h.repeatLimit = cfg.RepeatLimit
	h.chunkSize = roundUp(cfg.ChunkSize)
	if h.chunkSize < MinBlockSize {
		h.chunkSize = MinBlockSize
	}
	h.a = a

	if err := a.Reset(); err != nil {
		return errors.Mark(errors.Wrap(err, "elmalloc: reset arena"), ErrInit)
	}
	base, err := a.Grow(4 * WordSize)
	if err != nil {
		ERR("init: cannot get initial heap space: %v\n", err)
		return errors.Mark(errors.Wrap(err, "elmalloc: init"), ErrInit)
	}
	if base%DWordSize != 0 {
		return errors.Wrapf(ErrInit, "arena base %d not %d aligned",
			base, DWordSize)
	}
	h.mem = a.Bytes()
	h.put(base, 0)                                // alignment padding
	h.put(base+1*WordSize, pack(DWordSize, true)) // prologue header
	h.put(base+2*WordSize, pack(DWordSize, true)) // prologue footer
	h.put(base+3*WordSize, pack(0, true))         // epilogue header
	h.heapStart = Ptr(base + DWordSize)
	h.freeHead = Nil
	h.used.RealUsed = 4 * WordSize
	h.used.MaxRealUsed = h.used.RealUsed

	// seed the free list with a minimum sized block
	if _, err := h.extend(4); err != nil {
		ERR("init: cannot create the initial free block: %v\n", err)
		return errors.Mark(errors.Wrap(err, "elmalloc: init"), ErrInit)
	}
	return nil
}

// Owns returns whether or not p points inside the block area of the heap.
// It does not check that p is the start of a block.
func (h *Heap) Owns(p Ptr) bool {
	if h.a == nil {
		return false
	}
	return p > h.heapStart && uint32(p) < h.a.Len()
}

// extend grows the arena with a free block of at least words words,
// rewrites the epilogue after it and coalesces it with a free last block.
// It returns the resulting free block.
func (h *Heap) extend(words uint32) (Ptr, error) {
	// keep the size a multiple of DWordSize
	size := words * WordSize
	if words%2 != 0 {
		size = (words + 1) * WordSize
	}
	if size < MinBlockSize {
		size = MinBlockSize
	}
	brk, err := h.a.Grow(size)
	if err != nil {
		return Nil, err
	}
	h.mem = h.a.Bytes()
	if DBGon() {
		DBG("extend: +%d bytes at %#x, heap size %d\n", size, brk, h.a.Len())
	}
	// the old epilogue becomes the new block header
	bp := Ptr(brk)
	h.setTags(bp, size, false)
	h.put(hdrp(h.nextBlk(bp)), pack(0, true))
	return h.coalesce(bp), nil
}

// adjustSize returns the block size needed for a size bytes payload:
// payload + header + footer, rounded up to DWordSize, at least MinBlockSize.
// It returns 0 if the result does not fit in a block.
func adjustSize(size uint32) uint32 {
	if size <= DWordSize {
		return MinBlockSize
	}
	asize := (uint64(size) + Overhead + DWordSize - 1) &^ (DWordSize - 1)
	if asize > maxBlockSize {
		return 0
	}
	return uint32(asize)
}

// findFit returns the first free block of at least asize bytes, in free
// list order. When the same asize is requested more than repeatLimit times
// in a row, the search is skipped and a new block is carved directly from
// the arena, if the arena can still grow.
func (h *Heap) findFit(asize uint32) Ptr {
	if h.repeatLimit > 0 && h.lastSize == asize {
		if h.repeatCount > h.repeatLimit {
			if DBGon() {
				DBG("findFit: %d bytes requested %d times in a row,"+
					" skipping search\n", asize, h.repeatCount)
			}
			bp, err := h.extend(max(asize, MinBlockSize) / WordSize)
			if err == nil {
				return bp
			}
			// the heap cannot grow, fall back to the list
			if DBGon() {
				DBG("findFit: cannot extend the heap: %v\n", err)
			}
		} else {
			h.repeatCount++
		}
	} else {
		h.repeatCount = 0
	}
	h.lastSize = asize
	for bp := h.freeHead; bp != Nil; bp = h.links(bp).next() {
		if asize <= h.blkSize(bp) {
			return bp
		}
	}
	return Nil
}

// place allocates asize bytes at the start of the free block bp, splitting
// off the rest as a new free block if it is at least MinBlockSize.
func (h *Heap) place(bp Ptr, asize uint32) {
	csize := h.blkSize(bp)
	h.detachFree(bp)
	if csize-asize >= MinBlockSize {
		h.setTags(bp, asize, true)
		rest := h.nextBlk(bp)
		h.setTags(rest, csize-asize, false)
		h.coalesce(rest)
	} else {
		h.setTags(bp, csize, true)
	}
}

// MallocUnsafe is the unsafe (not locking) Malloc version.
// For more details see Malloc.
func (h *Heap) MallocUnsafe(size uint32) Ptr {
	if size == 0 {
		return Nil
	}
	asize := adjustSize(size)
	if asize == 0 {
		return Nil
	}
	bp := h.findFit(asize)
	if bp == Nil {
		// no fit found => get more memory
		var err error
		if bp, err = h.extend(max(asize, h.chunkSize) / WordSize); err != nil {
			ERR("malloc(%d): out of memory: %v\n", size, err)
			return Nil
		}
	}
	h.place(bp, asize)
	h.addUsed(h.blkSize(bp))
	if h.Debug() {
		h.debug("malloc")
	}
	return bp
}

// FreeUnsafe releases the block p (p must have been previously allocated
// with MallocUnsafe or ReallocUnsafe).
// This is the unsafe non-locking version (see also Free).
func (h *Heap) FreeUnsafe(p Ptr) {
	if p == Nil {
		if DBGon() {
			DBG("free(0) called\n")
		}
		return
	}
	if h.BChecks() {
		h.checkPtr("free", p)
	}
	size := h.blkSize(p)
	h.subUsed(size)
	h.setTags(p, size, false)
	h.coalesce(p)
	if h.Debug() {
		h.debug("free")
	}
}

// ReallocUnsafe changes the size of the block p.
// This is the unsafe non-locking version. For more details see Realloc.
func (h *Heap) ReallocUnsafe(p Ptr, size int) Ptr {
	if size < 0 {
		if WARNon() {
			WARN("realloc(%#x, %d): negative size ignored\n", uint32(p), size)
		}
		return Nil
	}
	if size == 0 {
		// it is actually a free
		h.FreeUnsafe(p)
		return Nil
	}
	if uint64(size)+Overhead > maxBlockSize {
		return Nil
	}
	if p == Nil {
		// it's a malloc
		return h.MallocUnsafe(uint32(size))
	}
	if h.BChecks() {
		h.checkPtr("realloc", p)
	}
	oldSize := h.blkSize(p)
	newSize := uint32(size) + Overhead
	if newSize <= oldSize {
		// never shrink
		return p
	}
	next := h.nextBlk(p)
	if !h.isAlloc(next) {
		if csize := oldSize + h.blkSize(next); csize >= newSize {
			// grow in place, absorbing the free next block
			h.detachFree(next)
			h.setTags(p, csize, true)
			h.subUsed(oldSize)
			h.addUsed(csize)
			if h.Debug() {
				h.debug("realloc")
			}
			return p
		}
	}
	np := h.MallocUnsafe(newSize)
	if np == Nil {
		// p is left untouched
		return Nil
	}
	n := min(oldSize-Overhead, newSize)
	copy(h.mem[np:uint32(np)+n], h.mem[p:uint32(p)+n])
	h.FreeUnsafe(p)
	return np
}

// Malloc allocates a block with at least size bytes of payload and returns
// a pointer to it. The pointer is always a multiple of DWordSize.
// It returns Nil for size 0 and when out of memory.
func (h *Heap) Malloc(size uint32) Ptr {
	h.lock()
	defer h.unlock()
	return h.MallocUnsafe(size)
}

// Free releases the block p (p must have been previously allocated with
// Malloc or Realloc). Free(Nil) does nothing.
func (h *Heap) Free(p Ptr) {
	h.lock()
	defer h.unlock()
	h.FreeUnsafe(p)
}

// Realloc grows a previously allocated block to at least size bytes.
// It returns either p, when the block is already big enough or could be
// grown in place, or a new block. In the new block case the old contents is
// copied and p is freed.
// If not enough memory is available, it returns Nil, but it does _not_ free
// p. A negative size is ignored (Nil is returned), size 0 frees p and
// Realloc(Nil, size) is Malloc(size).
func (h *Heap) Realloc(p Ptr, size int) Ptr {
	h.lock()
	defer h.unlock()
	return h.ReallocUnsafe(p, size)
}

// Payload returns the usable memory of the allocated block p.
// The slice aliases the arena and is valid only until the next operation
// that can grow the heap.
func (h *Heap) Payload(p Ptr) []byte {
	end := uint32(p) + h.Size(p)
	return h.mem[p:end:end]
}

// Size returns the usable payload size of the allocated block p, which can
// be bigger than the requested size.
func (h *Heap) Size(p Ptr) uint32 {
	return h.blkSize(p) - Overhead
}

// maxBlockSize is the biggest block size representable in a tag.
const maxBlockSize = math.MaxUint32 &^ (DWordSize - 1)
