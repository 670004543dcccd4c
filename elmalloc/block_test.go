// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package elmalloc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackTags(t *testing.T) {
	assert.Equal(t, uint32(25), pack(24, true))
	assert.Equal(t, uint32(16), pack(16, false))
	assert.Equal(t, uint32(1), pack(0, true))

	assert.Equal(t, uint32(24), tagSize(pack(24, true)))
	assert.True(t, tagAlloc(pack(24, true)))
	assert.False(t, tagAlloc(pack(4096, false)))
}

func TestRoundUp(t *testing.T) {
	for in, want := range map[uint32]uint32{0: 0, 1: 8, 8: 8, 9: 16, 4097: 4104} {
		assert.Equal(t, want, roundUp(in), "roundUp(%d)", in)
	}
}

func TestAdjustSize(t *testing.T) {
	tests := []struct {
		size uint32
		want uint32
	}{
		{1, 16},
		{8, 16},
		{9, 24},
		{16, 24},
		{17, 32},
		{90, 104},
		{100, 112},
		{200, 208},
		{4096, 4104},
		{math.MaxUint32, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, adjustSize(tt.size), "adjustSize(%d)", tt.size)
	}
}

func TestBlockNavigation(t *testing.T) {
	h := newTestHeap(t, nil)

	// prologue
	assert.Equal(t, Ptr(8), h.heapStart)
	assert.Equal(t, uint32(DWordSize), h.blkSize(h.heapStart))
	assert.True(t, h.isAlloc(h.heapStart))
	assert.Equal(t, h.heapStart, h.prevBlk(h.heapStart),
		"the first block in the arena is its own previous block")

	// initial free block
	first := h.nextBlk(h.heapStart)
	assert.Equal(t, Ptr(16), first)
	assert.Equal(t, uint32(MinBlockSize), h.blkSize(first))
	assert.False(t, h.isAlloc(first))
	assert.Equal(t, uint32(24), h.ftrp(first))
	assert.Equal(t, h.get(hdrp(first)), h.get(h.ftrp(first)))
	assert.Equal(t, h.heapStart, h.prevBlk(first))

	// epilogue
	epi := h.nextBlk(first)
	assert.Equal(t, Ptr(32), epi)
	assert.Zero(t, h.blkSize(epi))
	assert.True(t, h.isAlloc(epi))
	assert.Equal(t, first, h.prevBlk(epi))
}

func TestSetTags(t *testing.T) {
	h := newTestHeap(t, nil)
	p := h.Malloc(100)

	h.setTags(p, 112, false)
	assert.Equal(t, pack(112, false), h.get(hdrp(p)))
	assert.Equal(t, pack(112, false), h.get(uint32(p)+112-DWordSize))
	h.setTags(p, 112, true)
	assert.Equal(t, h.get(hdrp(p)), h.get(h.ftrp(p)))
	requireValid(t, h)
}
