// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package elmalloc

import (
	"io"

	"github.com/intuitivelabs/slog"
	jsoniter "github.com/json-iterator/go"
)

// forBlocks calls f for every block between the prologue and the epilogue,
// stopping early if f returns false or on a block going past the break.
func (h *Heap) forBlocks(f func(bp Ptr, size uint32, alloc bool) bool) {
	brk := uint64(h.a.Len())
	for bp := h.nextBlk(h.heapStart); ; {
		size := h.blkSize(bp)
		if size == 0 || uint64(bp)+uint64(size) > brk {
			return
		}
		if !f(bp, size, h.isAlloc(bp)) {
			return
		}
		bp += Ptr(size)
	}
}

// dumpStatus will write current status information in the log
func (h *Heap) dumpStatus() {
	const lev = slog.LDBG
	const prefix = "elm_status "

	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, prefix, "(%p):\n", h)
	if h == nil || h.a == nil {
		return
	}
	u := h.MUsage()
	Log.LLog(lev, 0, prefix, "heap size= %d\n", u.HeapSize)
	Log.LLog(lev, 0, prefix, "used= %d, used+overhead=%d, free=%d\n",
		u.Used, u.RealUsed, h.Available())
	Log.LLog(lev, 0, prefix, "max used (+overhead)= %d\n", u.MaxRealUsed)
	if h.options&OptDumpStatsShort != 0 {
		return
	}
	Log.LLog(lev, 0, prefix, "dumping all alloc'ed blocks:\n")
	i := 0
	free := uint32(0)
	h.forBlocks(func(bp Ptr, size uint32, alloc bool) bool {
		if alloc {
			Log.LLog(lev, 0, prefix, "   %3d.    address=%#x size=%d\n",
				i, uint32(bp), size)
		} else {
			free++
		}
		i++
		return true
	})
	Log.LLog(lev, 0, prefix, "free blocks: %d\n", free)
	if free != h.freeNo {
		BUG("elm_status: different free block count: %d != %d\n",
			free, h.freeNo)
	}
	Log.LLog(lev, 0, prefix, "-----------------------------\n")
}

// DumpJSON writes the usage statistics and the block map as a JSON object:
//
//	{"heapSize":..,"used":..,"realUsed":..,"maxRealUsed":..,"freeBlocks":..,
//	 "blocks":[{"ptr":..,"size":..,"alloc":..},...]}
func (h *Heap) DumpJSON(w io.Writer) error {
	h.lock()
	defer h.unlock()

	u := h.MUsage()
	s := jsoniter.NewStream(jsoniter.ConfigDefault, w, 4096)
	s.WriteObjectStart()
	s.WriteObjectField("heapSize")
	s.WriteUint64(u.HeapSize)
	s.WriteMore()
	s.WriteObjectField("used")
	s.WriteUint64(u.Used)
	s.WriteMore()
	s.WriteObjectField("realUsed")
	s.WriteUint64(u.RealUsed)
	s.WriteMore()
	s.WriteObjectField("maxRealUsed")
	s.WriteUint64(u.MaxRealUsed)
	s.WriteMore()
	s.WriteObjectField("freeBlocks")
	s.WriteUint32(u.FreeBlocks)
	s.WriteMore()
	s.WriteObjectField("blocks")
	s.WriteArrayStart()
	first := true
	h.forBlocks(func(bp Ptr, size uint32, alloc bool) bool {
		if !first {
			s.WriteMore()
		}
		first = false
		s.WriteObjectStart()
		s.WriteObjectField("ptr")
		s.WriteUint32(uint32(bp))
		s.WriteMore()
		s.WriteObjectField("size")
		s.WriteUint32(size)
		s.WriteMore()
		s.WriteObjectField("alloc")
		s.WriteBool(alloc)
		s.WriteObjectEnd()
		return true
	})
	s.WriteArrayEnd()
	s.WriteObjectEnd()
	s.WriteRaw("\n")
	return s.Flush()
}
