// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package elmalloc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intuitivelabs/mallocs/arena"
)

func TestHeapOnWasmMemory(t *testing.T) {
	ctx := context.Background()
	w, err := arena.NewWasm(ctx, 1<<20)
	require.NoError(t, err)
	defer w.Close(ctx)

	var h Heap
	require.NoError(t, h.Init(w, nil))

	// enough blocks to grow the guest memory over several pages
	var ps []Ptr
	for i := 0; i < 1000; i++ {
		p := h.Malloc(100 + uint32(i%7))
		require.NotEqual(t, Nil, p)
		copy(h.Payload(p), []byte{byte(i), byte(i >> 8)})
		ps = append(ps, p)
	}
	assert.Greater(t, w.Pages(), uint32(1))
	requireValid(t, &h)

	// payloads are guest memory
	for i, p := range ps {
		b, ok := w.Memory().Read(uint32(p), 2)
		require.True(t, ok)
		require.Equal(t, []byte{byte(i), byte(i >> 8)}, b)
	}
	for _, p := range ps {
		h.Free(p)
	}
	assert.Equal(t, uint32(1), h.MUsage().FreeBlocks)
	requireValid(t, &h)
}

func TestHeapOnWasmMemoryLimit(t *testing.T) {
	ctx := context.Background()
	w, err := arena.NewWasm(ctx, arena.WasmPageSize)
	require.NoError(t, err)
	defer w.Close(ctx)

	var h Heap
	require.NoError(t, h.Init(w, nil))
	assert.Equal(t, Nil, h.Malloc(arena.WasmPageSize))
	assert.NotEqual(t, Nil, h.Malloc(1000))
	requireValid(t, &h)
}
