// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package elmalloc

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
)

// checker walks the heap collecting consistency problems.
// If w is not nil each problem is also written to it as soon as it is found.
type checker struct {
	h       *Heap
	w       io.Writer
	verbose bool
	errs    []error

	freeBlocks uint32 // free blocks found while walking
}

func (c *checker) report(f string, a ...interface{}) {
	err := errors.Newf(f, a...)
	c.errs = append(c.errs, err)
	if c.w != nil {
		fmt.Fprintf(c.w, "%s\n", err)
	}
}

// printBlock writes one block description. It does not check anything.
func (c *checker) printBlock(bp Ptr) {
	h := c.h
	hsize, halloc := h.blkSize(bp), h.isAlloc(bp)
	if hsize == 0 {
		fmt.Fprintf(c.w, "%#x: end of heap\n", uint32(bp))
		return
	}
	ftr := h.get(h.ftrp(bp))
	fmt.Fprintf(c.w, "%#x: header: [%d:%c] footer: [%d:%c]\n", uint32(bp),
		hsize, allocChar(halloc), tagSize(ftr), allocChar(tagAlloc(ftr)))
}

func allocChar(alloc bool) byte {
	if alloc {
		return 'a'
	}
	return 'f'
}

// checkBlock checks alignment and the header/footer match of bp.
func (c *checker) checkBlock(bp Ptr) {
	h := c.h
	if bp%DWordSize != 0 {
		c.report("Error: %#x is not doubleword aligned", uint32(bp))
	}
	if h.get(hdrp(bp)) != h.get(h.ftrp(bp)) {
		c.report("Error: %#x header does not match footer (%#x != %#x)",
			uint32(bp), h.get(hdrp(bp)), h.get(h.ftrp(bp)))
	}
}

// walkBlocks checks every block from the prologue to the epilogue.
// It stops early on a block that would end past the arena break.
func (c *checker) walkBlocks() {
	h := c.h
	brk := h.a.Len()
	if c.verbose {
		fmt.Fprintf(c.w, "HEAP (%#x):\n", uint32(h.heapStart))
	}
	if h.blkSize(h.heapStart) != DWordSize || !h.isAlloc(h.heapStart) {
		c.report("Bad prologue header")
		if uint64(h.heapStart)+uint64(h.blkSize(h.heapStart)) > uint64(brk) {
			return
		}
	}
	c.checkBlock(h.heapStart)

	prevFree := false
	bp := h.heapStart
	for size := h.blkSize(bp); size > 0; size = h.blkSize(bp) {
		if uint64(bp)+uint64(size) > uint64(brk) {
			c.report("Error: %#x size %d goes past the heap end %#x",
				uint32(bp), size, brk)
			return
		}
		if c.verbose {
			c.printBlock(bp)
		}
		c.checkBlock(bp)
		free := !h.isAlloc(bp)
		if free {
			c.freeBlocks++
			if prevFree {
				c.report("Error: %#x free block not coalesced with"+
					" the previous one", uint32(bp))
			}
		}
		prevFree = free
		bp = h.nextBlk(bp)
	}
	if c.verbose {
		c.printBlock(bp)
	}
	if h.blkSize(bp) != 0 || !h.isAlloc(bp) || uint32(bp) != brk {
		c.report("Bad epilogue header")
	}
}

// walkFreeList checks that the free list contains exactly the free blocks
// and that the links are symmetric.
func (c *checker) walkFreeList() {
	h := c.h
	brk := h.a.Len()
	n := uint32(0)
	prev := Nil
	for bp := h.freeHead; bp != Nil; bp = h.links(bp).next() {
		if !h.Owns(bp) || uint32(bp)+DWordSize > brk {
			c.report("Error: free list entry %#x out of heap", uint32(bp))
			return
		}
		if h.isAlloc(bp) {
			c.report("Error: allocated block %#x in the free list", uint32(bp))
		}
		if p := h.links(bp).prev(); p != prev {
			c.report("Error: free list entry %#x prev %#x, expected %#x",
				uint32(bp), uint32(p), uint32(prev))
		}
		prev = bp
		if n++; n > c.freeBlocks {
			c.report("Error: free list longer than the %d free blocks"+
				" (loop?)", c.freeBlocks)
			return
		}
	}
	if n != c.freeBlocks {
		c.report("Error: %d blocks in the free list, %d free blocks",
			n, c.freeBlocks)
	}
	if n != h.freeNo {
		c.report("Error: free list count %d, walked %d", h.freeNo, n)
	}
}

// err returns all the problems found as one error matching ErrCorrupt.
func (c *checker) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	err := errors.Mark(c.errs[0], ErrCorrupt)
	for _, e := range c.errs[1:] {
		err = errors.CombineErrors(err, e)
	}
	return err
}

// CheckHeap writes any heap consistency problem found (misaligned blocks,
// header/footer mismatch, bad prologue or epilogue) to w.
// If verbose is set every block is printed too.
func (h *Heap) CheckHeap(w io.Writer, verbose bool) {
	if w == nil {
		w = io.Discard
	}
	h.lock()
	defer h.unlock()
	c := checker{h: h, w: w, verbose: verbose}
	c.walkBlocks()
}

// Validate runs all the consistency checks, including the free list ones,
// and returns the problems found as an error matching ErrCorrupt.
func (h *Heap) Validate() error {
	h.lock()
	defer h.unlock()
	return h.validate()
}

func (h *Heap) validate() error {
	c := checker{h: h}
	c.walkBlocks()
	if len(c.errs) == 0 {
		c.walkFreeList()
	}
	return c.err()
}

// debug validates the whole heap after op and PANICs on corruption.
func (h *Heap) debug(op string) {
	if err := h.validate(); err != nil {
		h.dumpStatus()
		PANIC("BUG: heap corrupted after %s: %v\n", op, err)
	}
}

// checkPtr PANICs if p cannot be a block returned by Malloc.
func (h *Heap) checkPtr(op string, p Ptr) {
	if !h.Owns(p) {
		PANIC("BUG: %s called with pointer %#x out of the heap"+
			" (usable range %#x-%#x)\n",
			op, uint32(p), uint32(h.heapStart)+DWordSize, h.a.Len())
	}
	if p%DWordSize != 0 {
		PANIC("BUG: %s called with misaligned pointer %#x\n", op, uint32(p))
	}
	if !h.isAlloc(p) {
		PANIC("BUG: attempt to %s already freed pointer %#x\n", op, uint32(p))
	}
	if uint64(p)+uint64(h.blkSize(p)) > uint64(h.a.Len()) ||
		h.get(hdrp(p)) != h.get(h.ftrp(p)) {
		h.dumpStatus()
		PANIC("BUG: %s: block %#x tags overwritten (%#x)\n",
			op, uint32(p), h.get(hdrp(p)))
	}
}
