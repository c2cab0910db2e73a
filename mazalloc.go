package mazalloc

import (
	"unsafe"

	"mazalloc/internal/diag"
	"mazalloc/internal/sizeclass"
	"mazalloc/internal/theap"
)

// Heap is a single goroutine's allocation front end: create one with
// Process.HeapNew per worker goroutine, use it for every Alloc/Free that
// goroutine performs, and Delete it when the goroutine is done. Frees of
// a Heap's blocks are safe from any other goroutine (Free is a package
// function, not a Heap method) — only Alloc/Realloc/Collect/VisitBlocks
// require single-goroutine use.
type Heap struct {
	th   *theap.Heap
	proc *Process
}

// Alloc returns a pointer to a fresh block of at least size bytes, or 0
// if the request could not be satisfied (out of address space, or the
// arena pool is exhausted and growth is disallowed by options).
func (h *Heap) Alloc(size uintptr) uintptr {
	return h.th.Malloc(size)
}

// Free returns addr, previously returned by any Heap's Alloc, to the
// allocator. It is safe to call from any goroutine, including one that
// did not create the Heap that allocated addr. It reports false if addr
// lies in no page this allocator handed out (a foreign pointer). A
// second free of the same block is not detected and also reports true.
func Free(addr uintptr) bool {
	return theap.Free(addr)
}

// UsableSize reports the full block size backing addr — always >= the
// size originally requested, since sizes round up to their size-class
// bin (spec §4.4's good_size canonicalization).
func UsableSize(addr uintptr) uintptr {
	return theap.UsableSize(addr)
}

// Realloc resizes the block at addr to newSize, returning the
// (possibly unchanged) address of the resized block, or 0 on failure —
// in which case addr is left untouched and still owned by the caller.
// The exception is a newSize of 0, which frees addr and returns 0.
// A request that still fits within addr's current bin is resized in
// place at no cost, mirroring spec §4.4's shrink/grow-in-place rule.
func (h *Heap) Realloc(addr uintptr, newSize uintptr) uintptr {
	if addr == 0 {
		return h.Alloc(newSize)
	}
	if newSize == 0 {
		Free(addr)
		return 0
	}
	oldSize := UsableSize(addr)
	if oldSize == 0 {
		diag.Warn("heap: realloc of unknown address", "addr", addr)
		return 0
	}
	if uintptr(sizeclass.GoodSize(uint64(newSize))) <= oldSize {
		return addr
	}
	next := h.Alloc(newSize)
	if next == 0 {
		return 0
	}
	n := oldSize
	if newSize < n {
		n = newSize
	}
	copyBytes(next, addr, n)
	Free(addr)
	return next
}

func copyBytes(dst, src, n uintptr) {
	dstSlice := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(n))
	srcSlice := unsafe.Slice((*byte)(unsafe.Pointer(src)), int(n))
	copy(dstSlice, srcSlice)
}

// Collect reclaims memory held by this Heap's pages: force also drains
// every page's cross-thread free list instead of waiting for the next
// natural Malloc-triggered drain.
func (h *Heap) Collect(force bool) {
	mode := theap.Normal
	if force {
		mode = theap.Force
	}
	h.th.Collect(mode)
}

// VisitBlocks walks every block this Heap currently considers in-use,
// calling visit with each block's address and usable size. It stops
// early if visit returns false. Used for leak-checking and the debug
// visualizer, never on an allocation fast path.
func (h *Heap) VisitBlocks(visit func(addr, size uintptr) bool) {
	h.th.VisitBlocks(visit)
}

// Delete abandons every page this Heap still owns back to the shared
// reclaim pool (spec §4.5) and detaches the Heap from its Process. Any
// block it handed out remains valid; Free still works on it.
func (h *Heap) Delete() {
	h.th.Collect(theap.Abandon)
	h.proc.removeHeap(h)
}

// Destroy is like Delete but also forces a remote-free drain first, so
// blocks freed by other goroutines just before the owning goroutine
// exits are not orphaned in a half-collected page.
func (h *Heap) Destroy() {
	h.th.Collect(theap.Force)
	h.th.Collect(theap.Abandon)
	h.proc.removeHeap(h)
}
