// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package arena

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// WasmPageSize is the WebAssembly linear memory page size.
const WasmPageSize = 65536

// memModule is the binary form of
//
//	(module (memory (export "memory") 0))
var memModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version 1
	0x05, 0x03, 0x01, 0x00, 0x00, // memory section: 1 memory, min 0, no max
	0x07, 0x0a, 0x01, // export section: 1 export
	0x06, 'm', 'e', 'm', 'o', 'r', 'y',
	0x02, 0x00, // memory 0
}

// Wasm is a Provider backed by the linear memory of a WebAssembly module
// instantiated with wazero. Offsets returned by Grow are guest addresses,
// so blocks can be handed directly to the guest.
type Wasm struct {
	r   wazero.Runtime
	mem api.Memory
	brk uint32
	max uint32
}

// NewWasm creates a new wazero runtime with a single exported memory that
// can grow up to max bytes (rounded up to whole pages).
func NewWasm(ctx context.Context, max uint32) (*Wasm, error) {
	pages := (uint64(max) + WasmPageSize - 1) / WasmPageSize
	if pages == 0 {
		return nil, errors.Wrap(ErrNoMemory, "wasm: zero size")
	}
	cfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(uint32(pages))
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	mod, err := r.Instantiate(ctx, memModule)
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrap(err, "arena: instantiate wasm memory")
	}
	mem := mod.ExportedMemory("memory")
	if mem == nil {
		r.Close(ctx)
		return nil, errors.New("arena: wasm module exports no memory")
	}
	return &Wasm{r: r, mem: mem, max: max}, nil
}

// Grow grows the linear memory by whole pages when the new break does not
// fit in the current memory size.
func (w *Wasm) Grow(n uint32) (uint32, error) {
	if w.mem == nil {
		return 0, ErrClosed
	}
	end := uint64(w.brk) + uint64(n)
	if end > uint64(w.max) {
		return 0, errors.Wrapf(ErrNoMemory,
			"wasm: grow by %d bytes (break %d, max %d)", n, w.brk, w.max)
	}
	if size := uint64(w.mem.Size()); end > size {
		delta := (end - size + WasmPageSize - 1) / WasmPageSize
		if _, ok := w.mem.Grow(uint32(delta)); !ok {
			return 0, errors.Wrapf(ErrNoMemory,
				"wasm: memory.grow %d pages failed", delta)
		}
	}
	old := w.brk
	w.brk = uint32(end)
	return old, nil
}

// Bytes returns a view of guest memory [0, break). Writes through it are
// visible to the guest. Growing the memory may move it.
func (w *Wasm) Bytes() []byte {
	if w.mem == nil {
		return nil
	}
	b, ok := w.mem.Read(0, w.brk)
	if !ok {
		return nil
	}
	return b
}

func (w *Wasm) Len() uint32 { return w.brk }

// Pages returns the current linear memory size in pages.
func (w *Wasm) Pages() uint32 {
	if w.mem == nil {
		return 0
	}
	return w.mem.Size() / WasmPageSize
}

func (w *Wasm) Reset() error {
	if w.mem == nil {
		return ErrClosed
	}
	w.brk = 0
	return nil
}

// Memory returns the underlying wazero memory.
func (w *Wasm) Memory() api.Memory { return w.mem }

// Close releases the wazero runtime.
func (w *Wasm) Close(ctx context.Context) error {
	if w.r == nil {
		return nil
	}
	err := w.r.Close(ctx)
	w.r, w.mem, w.brk = nil, nil, 0
	return errors.Wrap(err, "arena: close wasm runtime")
}
