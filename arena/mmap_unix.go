// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build unix

package arena

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Mmap is a Provider backed by an anonymous private memory mapping.
// The maximum size is mapped once; the kernel only commits the pages
// that are actually touched.
type Mmap struct {
	Slice
}

// NewMmap maps max bytes of anonymous memory.
func NewMmap(max uint32) (*Mmap, error) {
	if max == 0 {
		return nil, errors.Wrap(ErrNoMemory, "mmap: zero size")
	}
	mem, err := unix.Mmap(-1, 0, int(max), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "arena: mmap %d bytes", max)
	}
	return &Mmap{Slice: Slice{mem: mem}}, nil
}

func (m *Mmap) Grow(n uint32) (uint32, error) {
	if m.mem == nil {
		return 0, ErrClosed
	}
	return m.Slice.Grow(n)
}

// Close unmaps the arena. Using it afterwards returns ErrClosed.
func (m *Mmap) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	m.brk = 0
	return errors.Wrap(err, "arena: munmap")
}
