// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build unix

package elmalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intuitivelabs/mallocs/arena"
)

func TestHeapOnMmap(t *testing.T) {
	m, err := arena.NewMmap(arena.DefaultMaxHeap)
	require.NoError(t, err)
	defer m.Close()

	var h Heap
	require.NoError(t, h.Init(m, nil))
	a := h.Malloc(1 << 16)
	b := h.Malloc(1 << 16)
	require.NotEqual(t, Nil, a)
	require.NotEqual(t, Nil, b)
	fill(&h, a, 0x3c)

	r := h.Realloc(a, 1<<18)
	require.NotEqual(t, Nil, r)
	requireFilled(t, &h, r, 1<<16, 0x3c)
	assert.Equal(t, uint64(m.Len()), h.MUsage().HeapSize)
	requireValid(t, &h)
}
