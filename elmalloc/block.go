// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package elmalloc

import (
	"encoding/binary"
)

// block layout:
//
//	allocated            free
//	+---------+          +---------+
//	| header  |          | header  |
//	+---------+  bp -->  +---------+
//	|         |          |  next   |
//	| payload |          +---------+
//	|         |          |  prev   |
//	|         |          +---------+
//	|         |          |         |
//	+---------+          +---------+
//	| footer  |          | footer  |
//	+---------+          +---------+
//
// header == footer == size | allocated flag.
const (
	WordSize     = 4             // boundary tag / free list link size
	DWordSize    = 2 * WordSize  // alignment unit
	Overhead     = 2 * WordSize  // header + footer
	MinBlockSize = 2 * DWordSize // header + next + prev + footer
	ChunkSize    = 1 << 12       // default arena growth on a miss
	sizeMask     = ^uint32(DWordSize - 1)
	allocBit     = uint32(0x1)
)

// roundUp rounds up a size to the next DWordSize multiple.
func roundUp(s uint32) uint32 {
	return (s + (DWordSize - 1)) & sizeMask
}

// pack combines a block size and an allocated flag into a boundary tag.
func pack(size uint32, alloc bool) uint32 {
	if alloc {
		return size | allocBit
	}
	return size
}

func tagSize(tag uint32) uint32 { return tag & sizeMask }

func tagAlloc(tag uint32) bool { return tag&allocBit != 0 }

// get reads the word at offset off.
func (h *Heap) get(off uint32) uint32 {
	return binary.LittleEndian.Uint32(h.mem[off:])
}

// put writes the word v at offset off.
func (h *Heap) put(off, v uint32) {
	binary.LittleEndian.PutUint32(h.mem[off:], v)
}

// hdrp returns the offset of the block header.
func hdrp(bp Ptr) uint32 { return uint32(bp) - WordSize }

// ftrp returns the offset of the block footer (uses the header size).
func (h *Heap) ftrp(bp Ptr) uint32 {
	return uint32(bp) + h.blkSize(bp) - DWordSize
}

// blkSize returns the whole block size, as recorded in the header.
func (h *Heap) blkSize(bp Ptr) uint32 { return tagSize(h.get(hdrp(bp))) }

// isAlloc returns true if the header marks the block as allocated.
func (h *Heap) isAlloc(bp Ptr) bool { return tagAlloc(h.get(hdrp(bp))) }

// nextBlk returns the physically following block.
func (h *Heap) nextBlk(bp Ptr) Ptr {
	return bp + Ptr(h.blkSize(bp))
}

// prevBlk returns the physically preceding block, using its footer.
// For the first block in the arena it returns bp itself.
func (h *Heap) prevBlk(bp Ptr) Ptr {
	return bp - Ptr(tagSize(h.get(uint32(bp)-DWordSize)))
}

// setTags writes both the header and the footer of bp.
func (h *Heap) setTags(bp Ptr, size uint32, alloc bool) {
	tag := pack(size, alloc)
	h.put(hdrp(bp), tag)
	h.put(uint32(bp)+size-DWordSize, tag)
}
