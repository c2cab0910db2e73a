// Package theap implements the thread-heap layer (spec §4.4): the
// per-goroutine allocation front end that maps a requested size to a
// bin, keeps a small queue of pages per bin, and falls through a
// generic-then-slow path when the queue's pages can't satisfy a
// request. It generalizes the teacher's kmalloc/kfree bounded free-list
// search in main/heap.go into size-classed page queues, and borrows the
// goroutine-per-worker bootstrap idea from
// main/scheduler_bootstrap.go/main/goroutine.go for how a heap is bound
// to one logical execution context.
package theap

import (
	"sync"
	"sync/atomic"

	"mazalloc/internal/arena"
	"mazalloc/internal/diag"
	"mazalloc/internal/options"
	"mazalloc/internal/page"
	"mazalloc/internal/reclaim"
	"mazalloc/internal/sizeclass"
	"mazalloc/internal/stats"
)

// CollectMode selects how aggressively Collect reclaims memory.
type CollectMode int

const (
	// Normal merges each page's localFree list into its free list; the
	// cross-thread free list is not drained.
	Normal CollectMode = iota
	// Force walks every page and merges its remote free list too.
	Force
	// Abandon additionally marks every page unowned and detaches it
	// from the heap, used when the owning goroutine is exiting.
	Abandon
)

var tseqCounter atomic.Uint64

// pageQueue holds the pages currently serving one size-class bin. pages
// is ordered with the most recently used page first, mirroring
// mimalloc's "always try page[0] first" convention.
type pageQueue struct {
	blockSize uintptr
	pages     []*page.Page
}

// Heap is one thread's (goroutine's) allocation front end. A Heap is not
// safe for concurrent Malloc calls from multiple goroutines (Free is a
// package function and safe from any goroutine) — each
// goroutine that allocates should own one, the same one-per-worker
// assumption the teacher's scheduler bootstrap makes for its run queues.
type Heap struct {
	mgr      *arena.Manager
	opts     options.Options
	numaNode int
	tseq     uint64

	mu     sync.Mutex
	queues []pageQueue // index 0 unused, matches sizeclass's 1-indexed bins
}

// New builds a Heap bound to mgr, serving allocations preferentially
// from arenas on numaNode.
func New(mgr *arena.Manager, opts options.Options, numaNode int) *Heap {
	h := &Heap{
		mgr:      mgr,
		opts:     opts,
		numaNode: numaNode,
		tseq:     tseqCounter.Add(1),
		queues:   make([]pageQueue, sizeclass.BinCount()+1),
	}
	for bin := 1; bin <= sizeclass.BinCount(); bin++ {
		h.queues[bin].blockSize = uintptr(sizeclass.BinSize(bin))
	}
	return h
}

// Malloc returns a pointer to a block of at least size bytes, or 0 if
// every avenue (existing pages, a fresh page, a fresh arena) failed.
func (h *Heap) Malloc(size uintptr) uintptr {
	if size == 0 {
		size = 1
	}
	if sizeclass.IsSingleton(uint64(size)) {
		return h.mallocSingleton(size)
	}
	bin, ok := sizeclass.BinFor(uint64(size))
	if !ok {
		return h.mallocSingleton(size)
	}
	return h.mallocBin(bin)
}

func (h *Heap) mallocBin(bin int) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := &h.queues[bin]

	for i, p := range q.pages {
		if addr := p.Malloc(); addr != 0 {
			h.promote(q, i)
			return addr
		}
		p.Collect(true)
		if addr := p.Malloc(); addr != 0 {
			h.promote(q, i)
			return addr
		}
		if p.ExtendFree(64) > 0 {
			if addr := p.Malloc(); addr != 0 {
				h.promote(q, i)
				return addr
			}
		}
	}

	if p, ok := reclaim.Global.TryReclaim(bin); ok {
		q.pages = append([]*page.Page{p}, q.pages...)
		if addr := p.Malloc(); addr != 0 {
			return addr
		}
		p.ExtendFree(initialExtend(q.blockSize))
		return p.Malloc()
	}

	p := h.freshPage(q.blockSize, pagesPerSlab(q.blockSize))
	if p == nil {
		return 0
	}
	p.ExtendFree(initialExtend(q.blockSize))
	q.pages = append([]*page.Page{p}, q.pages...)
	stats.Global.PagesAllocated.Add(1)
	return p.Malloc()
}

func (h *Heap) promote(q *pageQueue, i int) {
	if i == 0 {
		return
	}
	p := q.pages[i]
	copy(q.pages[1:i+1], q.pages[:i])
	q.pages[0] = p
}

// mallocSingleton serves a request too large for the bin schedule with
// a dedicated page sized to exactly fit one block.
func (h *Heap) mallocSingleton(size uintptr) uintptr {
	slices := (int(size) + arena.SliceSize - 1) / arena.SliceSize
	if slices == 0 {
		slices = 1
	}
	p := h.freshPage(size, slices)
	if p == nil {
		return 0
	}
	p.ExtendFree(1)
	stats.Global.PagesAllocated.Add(1)
	return p.Malloc()
}

func (h *Heap) freshPage(blockSize uintptr, slices int) *page.Page {
	base, id, ok := h.mgr.AllocSlices(slices, h.nextTseq(), true, h.numaNode)
	if !ok {
		diag.Warn("theap: arena out of memory", "slices", slices)
		return nil
	}
	reserved := uint32((uintptr(slices) * arena.SliceSize) / blockSize)
	if reserved == 0 {
		reserved = 1
	}
	p := page.New(id, base, blockSize, reserved)
	page.Register(p)
	diag.Stats("theap: fresh page", "base", base, "slices", slices, "flags", id.PackedFlags())
	return p
}

func (h *Heap) nextTseq() uint64 {
	h.tseq += 0x9e3779b97f4a7c15
	return h.tseq
}

func pagesPerSlab(blockSize uintptr) int {
	// Room for 64 blocks per fresh page, at least one slice and at most
	// arena.MaxSliceRun slices.
	slices := int((blockSize*64 + arena.SliceSize - 1) / arena.SliceSize)
	if slices < 1 {
		slices = 1
	}
	if slices > arena.MaxSliceRun {
		slices = arena.MaxSliceRun
	}
	return slices
}

func initialExtend(blockSize uintptr) uint32 {
	if blockSize == 0 {
		return 1
	}
	n := uint32(4096 / blockSize)
	if n == 0 {
		n = 1
	}
	return n
}

// Free returns addr to its owning page via the atomic cross-thread free
// list. It is safe to call from any goroutine, including the one that
// owns the page, since Go has no thread-local way to tell the two apart
// the way a native mimalloc free fast path does; the owning Heap's own
// Collect later drains this list onto the fast local free list. It
// reports false for an address this allocator never handed out.
func Free(addr uintptr) bool {
	p, ok := page.Lookup(addr)
	if !ok {
		stats.Global.InvalidFrees.Add(1)
		diag.Warn("theap: invalid free", "addr", addr)
		return false
	}
	p.FreeRemote(addr)
	return true
}

// UsableSize returns the full block size backing addr, or 0 if addr was
// never handed out by this allocator.
func UsableSize(addr uintptr) uintptr {
	p, ok := page.Lookup(addr)
	if !ok {
		return 0
	}
	return p.BlockSize
}

// VisitBlocks walks every in-use block across every page this heap owns,
// stopping early if visit returns false.
func (h *Heap) VisitBlocks(visit func(addr, size uintptr) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, q := range h.queues {
		for _, p := range q.pages {
			stop := false
			p.ForEachBlock(func(addr uintptr, used bool) bool {
				if !used {
					return true
				}
				if !visit(addr, q.blockSize) {
					stop = true
					return false
				}
				return true
			})
			if stop {
				return
			}
		}
	}
}

// Collect walks every page in every bin queue and merges its localFree
// list into its free list; Force and Abandon also drain each page's
// cross-thread free list. Under Normal and Force an empty page whose
// retire countdown expires goes back to the arena; Abandon instead hands
// every page to the reclaim pool and removes it from the heap.
func (h *Heap) Collect(mode CollectMode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for bin := 1; bin < len(h.queues); bin++ {
		q := &h.queues[bin]
		kept := q.pages[:0]
		for _, p := range q.pages {
			p.Collect(mode != Normal)
			if mode == Abandon {
				if !reclaim.Global.Abandon(bin, p) {
					// Pool for this bin is full; leave the page
					// unowned. A stray remote free still finds it via
					// page.Lookup and pushes onto xthreadFree as
					// normal.
					p.SetOwned(false)
				}
				continue
			}
			if p.IsEmpty() && p.TickRetire(int32(h.opts.PageFullRetain)) {
				h.retire(p)
				continue
			}
			kept = append(kept, p)
		}
		q.pages = kept
	}
}

func (h *Heap) retire(p *page.Page) {
	page.Unregister(p)
	h.mgr.FreeSlices(p.Memid)
	stats.Global.PagesFreed.Add(1)
}
