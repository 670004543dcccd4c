// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package elmalloc

// coalesce merges the free block bp (not yet in the free list) with its
// free physical neighbours and inserts the result in the free list.
// It returns the resulting block, which starts before bp if it was merged
// with the previous block.
func (h *Heap) coalesce(bp Ptr) Ptr {
	prev := h.prevBlk(bp)
	prevAlloc := prev == bp || tagAlloc(h.get(uint32(bp)-DWordSize))
	next := h.nextBlk(bp)
	nextAlloc := h.isAlloc(next)
	size := h.blkSize(bp)

	switch {
	case prevAlloc && nextAlloc:
		// nothing to join
	case prevAlloc && !nextAlloc:
		h.detachFree(next)
		size += h.blkSize(next)
		h.setTags(bp, size, false)
	case !prevAlloc && nextAlloc:
		h.detachFree(prev)
		size += h.blkSize(prev)
		bp = prev
		h.setTags(bp, size, false)
	default:
		h.detachFree(prev)
		h.detachFree(next)
		size += h.blkSize(prev) + h.blkSize(next)
		bp = prev
		h.setTags(bp, size, false)
	}
	h.insertFree(bp)
	return bp
}
