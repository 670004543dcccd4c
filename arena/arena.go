// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package arena provides the growable, contiguous memory regions on top of
// which the elmalloc heap is built.
//
// A Provider behaves like a classical sbrk(): it keeps a "break" and can only
// move it forward (Grow) or back to the start (Reset). Offsets handed out by
// Grow never move, so they can be used as addresses inside the arena.
package arena

import (
	"github.com/cockroachdb/errors"
)

const NAME = "arena"

// DefaultMaxHeap is the default maximum arena size (20 MiB).
const DefaultMaxHeap = 20 * (1 << 20)

var (
	// ErrNoMemory is returned when the arena cannot grow any more.
	ErrNoMemory = errors.New("arena: out of memory")

	// ErrUnsupported is returned by backends not available on the
	// current platform.
	ErrUnsupported = errors.New("arena: not supported on this platform")

	// ErrClosed is returned when using an arena after Close.
	ErrClosed = errors.New("arena: closed")
)

// Provider is the low-level memory source used by the allocator.
type Provider interface {
	// Grow moves the break forward by n bytes and returns the offset of the
	// first new byte (the old break). On failure the break is unchanged.
	Grow(n uint32) (uint32, error)
	// Bytes returns the arena contents, [0, break).
	// The returned slice might be invalidated by the next Grow().
	Bytes() []byte
	// Len returns the current break.
	Len() uint32
	// Reset moves the break back to 0.
	Reset() error
}

// Slice is a Provider backed by a Go byte slice. The whole maximum size is
// reserved up front (like the memlib model), so the slices returned by
// Bytes() stay valid across Grow() calls.
type Slice struct {
	mem []byte
	brk uint32
}

// NewSlice returns a slice backed arena that can grow up to max bytes.
func NewSlice(max uint32) *Slice {
	return &Slice{mem: make([]byte, max)}
}

func (s *Slice) Grow(n uint32) (uint32, error) {
	return grow(&s.brk, n, uint64(len(s.mem)))
}

func (s *Slice) Bytes() []byte { return s.mem[:s.brk] }

func (s *Slice) Len() uint32 { return s.brk }

// Cap returns the maximum arena size.
func (s *Slice) Cap() uint32 { return uint32(len(s.mem)) }

func (s *Slice) Reset() error {
	s.brk = 0
	return nil
}

// grow advances *brk by n if the result stays below max.
func grow(brk *uint32, n uint32, max uint64) (uint32, error) {
	end := uint64(*brk) + uint64(n)
	if end > max {
		return 0, errors.Wrapf(ErrNoMemory,
			"grow by %d bytes (break %d, max %d)", n, *brk, max)
	}
	old := *brk
	*brk = uint32(end)
	return old, nil
}
