// Package arena implements the arena layer (spec §4.2): a reserved
// virtual-address range, divided into 64 KiB slices and tracked by a set
// of bitmaps, that the page layer carves pages out of. It generalizes
// the teacher's single fixed RAM-array bookkeeping in main/page.go's
// pageInit/allocPage into a dynamically reserved, multi-arena pool.
package arena

import (
	"sync/atomic"
	"time"

	"mazalloc/internal/bitmap"
	"mazalloc/internal/diag"
	"mazalloc/internal/memid"
	"mazalloc/internal/osmem"
	"mazalloc/internal/stats"
)

// SliceSize is the allocator's slice granularity, matching
// internal/pagemap's SliceSize so addresses translate cleanly between
// the two.
const SliceSize = 64 * 1024

// MaxSliceRun bounds a single allocation request to one bitmap chunk
// (512 slices = 32 MiB), matching bitmap.ChunkBits.
const MaxSliceRun = bitmap.ChunkBits

// Arena is one reserved virtual address range.
type Arena struct {
	Index     int
	Base      uintptr
	Slices    int
	NUMANode  int
	Pinned    bool // huge-OS-page backed; never purged or freed
	Exclusive bool // only this arena's own heap may allocate from it

	mem osmem.Memory

	slicesFree      *bitmap.Binned // bit set = slice is free
	slicesCommitted *bitmap.Bitmap // bit set = slice is committed
	slicesDirty     *bitmap.Bitmap // bit set = slice has been written to
	slicesPurge     *bitmap.Bitmap // bit set = slice is scheduled for purge

	purgeExpireNanos atomic.Int64 // 0 = nothing pending
}

// New builds an Arena over an already-reserved range; the slices start
// entirely free, uncommitted, clean and unscheduled for purge.
func New(index int, mem osmem.Memory, base uintptr, slices, numaNode int, pinned, exclusive bool) *Arena {
	a := &Arena{
		Index:           index,
		Base:            base,
		Slices:          slices,
		NUMANode:        numaNode,
		Pinned:          pinned,
		Exclusive:       exclusive,
		mem:             mem,
		slicesFree:      bitmap.NewBinned(slices),
		slicesCommitted: bitmap.New(slices),
		slicesDirty:     bitmap.New(slices),
		slicesPurge:     bitmap.New(slices),
	}
	chunkSplit(0, slices, func(s, l int) { a.slicesFree.SetN(s, l) })
	stats.Global.ArenasReserved.Add(1)
	return a
}

func (a *Arena) addr(sliceIdx int) uintptr {
	return a.Base + uintptr(sliceIdx)*SliceSize
}

// AllocSlices claims a run of n contiguous free slices, committing them
// if requested, and reports the memid describing the allocation. tseq is
// a per-thread rotation seed used to spread contention across chunks.
func (a *Arena) AllocSlices(n int, tseq uint64, commit bool) (base uintptr, id memid.Memid, ok bool) {
	if n <= 0 || n > MaxSliceRun || n > a.Slices {
		return 0, memid.None, false
	}
	idx, found := a.slicesFree.TryFindAndClearRun(n, tseq)
	if !found {
		return 0, memid.None, false
	}

	wasZero := a.slicesDirty.IsClearN(idx, n)
	alreadyCommitted := a.slicesCommitted.IsSetN(idx, n)
	gotZero := wasZero
	if commit && !alreadyCommitted {
		isZero, err := a.mem.Commit(a.addr(idx), uintptr(n)*SliceSize)
		if err != nil {
			// Roll back the claim; the range stays free.
			a.slicesFree.SetN(idx, n)
			diag.Warn("arena: commit failed", "arena", a.Index, "slice", idx, "n", n, "err", err)
			return 0, memid.None, false
		}
		a.slicesCommitted.SetN(idx, n)
		gotZero = gotZero && isZero
		stats.Global.SlicesCommitted.Add(uint64(n))
	}
	// Reusing this range cancels any purge scheduled against it.
	a.slicesPurge.ClearN(idx, n)

	id = memid.Memid{
		Kind:            memid.KindArena,
		ArenaIndex:      a.Index,
		SliceIndex:      uint32(idx),
		SliceCount:      uint32(n),
		InitiallyZero:   gotZero,
		InitiallyCommit: commit,
		Pinned:          a.Pinned,
	}
	return a.addr(idx), id, true
}

// FreeSlices returns a run of slices to the free bitmap and schedules it
// for purge after the configured delay. The freed content is assumed
// dirty (non-zero) since it just held live blocks.
func (a *Arena) FreeSlices(id memid.Memid, delay time.Duration) {
	idx, n := int(id.SliceIndex), int(id.SliceCount)
	a.slicesDirty.SetN(idx, n)
	a.slicesFree.SetN(idx, n)
	if a.Pinned || delay <= 0 {
		return
	}
	a.slicesPurge.SetN(idx, n)
	deadline := time.Now().Add(delay).UnixNano()
	for {
		cur := a.purgeExpireNanos.Load()
		if cur != 0 && cur >= deadline {
			return
		}
		if a.purgeExpireNanos.CompareAndSwap(cur, deadline) {
			return
		}
	}
}

// purgeDue reports whether the arena has a pending purge deadline that
// has elapsed.
func (a *Arena) purgeDue(now time.Time) bool {
	exp := a.purgeExpireNanos.Load()
	return exp != 0 && now.UnixNano() >= exp
}

// chunkSplit yields chunk-bounded subranges of [start, start+n) since
// the underlying bitmap's range operations cannot cross a chunk
// boundary in one call.
func chunkSplit(start, n int, visit func(s, l int)) {
	for n > 0 {
		room := bitmap.ChunkBits - (start % bitmap.ChunkBits)
		l := n
		if l > room {
			l = room
		}
		visit(start, l)
		start += l
		n -= l
	}
}

// Purge decommits every slice still marked free-and-pending-purge, if
// the arena's deferred deadline has elapsed. It is driven by the
// package's background daemon (purge.go), grounded on the teacher's
// gc_monitor.go ticker loop.
func (a *Arena) Purge(now time.Time) (purgedSlices int) {
	if a.Pinned || !a.purgeDue(now) {
		return 0
	}
	a.purgeExpireNanos.Store(0)

	a.slicesPurge.ForallSetcRanges(1, func(start, n int) bool {
		chunkSplit(start, n, func(s, l int) {
			if !a.slicesFree.IsSetN(s, l) {
				// Reallocated since scheduling; leave it alone.
				return
			}
			if err := a.mem.Decommit(a.addr(s), uintptr(l)*SliceSize); err != nil {
				diag.Warn("arena: decommit failed", "arena", a.Index, "slice", s, "n", l, "err", err)
				return
			}
			a.slicesCommitted.ClearN(s, l)
			a.slicesDirty.ClearN(s, l)
			a.slicesPurge.ClearN(s, l)
			purgedSlices += l
		})
		return false
	})
	if purgedSlices > 0 {
		stats.Global.SlicesPurged.Add(uint64(purgedSlices))
		diag.Stats("arena: purged", "arena", a.Index, "slices", purgedSlices)
	}
	return purgedSlices
}

// FreeSliceCount reports the number of currently free slices, an O(slices)
// scan used only for diagnostics and tests.
func (a *Arena) FreeSliceCount() int {
	n := 0
	a.slicesFree.ForallSetcRanges(1, func(start, length int) bool {
		n += length
		return false
	})
	return n
}
