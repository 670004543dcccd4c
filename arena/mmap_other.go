// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build !unix

package arena

// Mmap is not available on this platform, see NewSlice.
type Mmap struct {
	Slice
}

func NewMmap(max uint32) (*Mmap, error) {
	return nil, ErrUnsupported
}

func (m *Mmap) Close() error { return nil }
