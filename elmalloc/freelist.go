// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package elmalloc

import (
	"encoding/binary"
)

// freeLinks is a view of the first 2 payload words of a free block, holding
// the next and previous free list links. It is valid only while the block is
// free and only until the next arena growth.
type freeLinks []byte

func (l freeLinks) next() Ptr { return Ptr(binary.LittleEndian.Uint32(l)) }

func (l freeLinks) prev() Ptr {
	return Ptr(binary.LittleEndian.Uint32(l[WordSize:]))
}

func (l freeLinks) setNext(p Ptr) { binary.LittleEndian.PutUint32(l, uint32(p)) }

func (l freeLinks) setPrev(p Ptr) {
	binary.LittleEndian.PutUint32(l[WordSize:], uint32(p))
}

// links returns the free list links view of the free block bp.
func (h *Heap) links(bp Ptr) freeLinks {
	return freeLinks(h.mem[bp : bp+DWordSize : bp+DWordSize])
}

// insertFree pushes a free block at the head of the free list.
// The block header must already be marked free.
func (h *Heap) insertFree(bp Ptr) {
	l := h.links(bp)
	l.setNext(h.freeHead)
	l.setPrev(Nil)
	if h.freeHead != Nil {
		h.links(h.freeHead).setPrev(bp)
	}
	h.freeHead = bp
	h.freeNo++
}

// detachFree removes a block from the free list.
// It must be called before the block header is marked allocated.
func (h *Heap) detachFree(bp Ptr) {
	l := h.links(bp)
	prev, next := l.prev(), l.next()
	if prev != Nil {
		h.links(prev).setNext(next)
	} else {
		h.freeHead = next
	}
	if next != Nil {
		h.links(next).setPrev(prev)
	}
	h.freeNo--
}
