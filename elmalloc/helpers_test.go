// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package elmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intuitivelabs/mallocs/arena"
)

// newTestHeap returns a heap initialized on a default sized slice arena.
func newTestHeap(t *testing.T, cfg *Config) *Heap {
	t.Helper()
	return newTestHeapSize(t, arena.DefaultMaxHeap, cfg)
}

func newTestHeapSize(t *testing.T, max uint32, cfg *Config) *Heap {
	t.Helper()
	var h Heap
	require.NoError(t, h.Init(arena.NewSlice(max), cfg))
	return &h
}

// freeList returns the free list blocks, in list order.
func freeList(h *Heap) []Ptr {
	var l []Ptr
	for bp := h.freeHead; bp != Nil; bp = h.links(bp).next() {
		l = append(l, bp)
	}
	return l
}

// fill writes b over the whole payload of p.
func fill(h *Heap, p Ptr, b byte) {
	pl := h.Payload(p)
	for i := range pl {
		pl[i] = b
	}
}

// requireFilled checks that the first n payload bytes of p are all b.
func requireFilled(t *testing.T, h *Heap, p Ptr, n int, b byte) {
	t.Helper()
	pl := h.Payload(p)
	require.GreaterOrEqual(t, len(pl), n)
	for i := 0; i < n; i++ {
		if pl[i] != b {
			require.Failf(t, "payload corrupted",
				"block %#x byte %d: %#x, expected %#x", uint32(p), i, pl[i], b)
		}
	}
}

func requireValid(t *testing.T, h *Heap) {
	t.Helper()
	require.NoError(t, h.Validate())
}
