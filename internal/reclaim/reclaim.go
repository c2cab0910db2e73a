// Package reclaim implements the abandon/reclaim protocol (spec §4.5):
// when a thread-heap is abandoned (an Abandon-mode collect), its pages
// are marked unowned and handed to a shared pool instead of being torn
// down; a later allocation on any heap can claim one of those pages back
// instead of carving a fresh one from an arena. Claiming uses
// bitmap.TryFindAndClaim so two goroutines racing to reclaim the same
// slot never both win it.
package reclaim

import (
	"sync"
	"sync/atomic"

	"mazalloc/internal/bitmap"
	"mazalloc/internal/page"
	"mazalloc/internal/stats"
)

// poolCapacity bounds how many abandoned pages one bin's pool can hold
// at once; a pool at capacity simply stops accepting further
// abandonments for that bin (the caller's page is left owned by no one
// and is picked up again the next time that heap force-collects).
const poolCapacity = 4096

type binPool struct {
	mu      sync.Mutex
	pages   [poolCapacity]*page.Page
	claimed *bitmap.Bitmap // bit set = slot holds a page ready to be claimed
	next    int            // next free slot to try on Abandon
}

func newBinPool() *binPool {
	return &binPool{claimed: bitmap.New(poolCapacity)}
}

// Pool is the process-wide abandoned-page registry, one sub-pool per
// size-class bin.
type Pool struct {
	mu   sync.RWMutex
	bins map[int]*binPool
}

// Global is the singleton reclaim pool every Heap shares, matching the
// package-level singleton style internal/stats and the teacher's
// monitors use.
var Global = NewPool()

var tseq atomic.Uint64

// NewPool returns an empty reclaim pool.
func NewPool() *Pool {
	return &Pool{bins: make(map[int]*binPool)}
}

func (p *Pool) binFor(bin int) *binPool {
	p.mu.RLock()
	bp, ok := p.bins[bin]
	p.mu.RUnlock()
	if ok {
		return bp
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if bp, ok = p.bins[bin]; ok {
		return bp
	}
	bp = newBinPool()
	p.bins[bin] = bp
	return bp
}

// Abandon offers pg to the pool for bin, marking it unowned. It reports
// whether there was room; a false return means pg's owning heap should
// keep the page itself instead (it is left owned by nobody, which is
// safe: the next Collect(Force) on that heap will pick it back up).
func (p *Pool) Abandon(bin int, pg *page.Page) bool {
	pg.SetOwned(false)
	bp := p.binFor(bin)
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for i := 0; i < poolCapacity; i++ {
		slot := (bp.next + i) % poolCapacity
		if bp.pages[slot] == nil {
			bp.pages[slot] = pg
			bp.claimed.Set(slot)
			bp.next = (slot + 1) % poolCapacity
			stats.Global.PagesAbandoned.Add(1)
			return true
		}
	}
	return false
}

// TryReclaim claims one abandoned page for bin, if the pool has one. The
// page is re-marked owned and its remote free list drained before
// being handed back, so the caller's very next Malloc sees a clean
// local free list.
func (p *Pool) TryReclaim(bin int) (*page.Page, bool) {
	bp := p.binFor(bin)
	idx, ok := bp.claimed.TryFindAndClaim(tseq.Add(1), func(idx int) bool {
		return bp.pages[idx] != nil
	})
	if !ok {
		return nil, false
	}
	bp.mu.Lock()
	pg := bp.pages[idx]
	bp.pages[idx] = nil
	bp.mu.Unlock()
	if pg == nil {
		return nil, false
	}
	pg.SetOwned(true)
	pg.Collect(true)
	stats.Global.PagesReclaimed.Add(1)
	return pg, true
}
