// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package elmalloc

import "github.com/cockroachdb/errors"

var (
	// ErrInit is matched by all the Init errors. The arena error that caused
	// it (e.g. arena.ErrNoMemory) is kept in the chain.
	ErrInit = errors.New("elmalloc: heap initialization failed")

	// ErrCorrupt is matched by the errors returned by Validate.
	ErrCorrupt = errors.New("elmalloc: heap corrupted")
)
