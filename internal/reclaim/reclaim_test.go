package reclaim

import (
	"sync"
	"testing"
	"unsafe"

	"mazalloc/internal/memid"
	"mazalloc/internal/page"
)

func uintptrOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

func newTestPage() *page.Page {
	const blockSize = 32
	buf := make([]byte, 8*blockSize)
	base := uintptrOf(buf)
	p := page.New(memid.Memid{Kind: memid.KindArena}, base, blockSize, 8)
	p.ExtendFree(8)
	return p
}

func TestAbandonThenReclaimReturnsSamePage(t *testing.T) {
	pool := NewPool()
	pg := newTestPage()
	if !pool.Abandon(5, pg) {
		t.Fatalf("expected room in a fresh pool")
	}
	got, ok := pool.TryReclaim(5)
	if !ok {
		t.Fatalf("expected a page to be reclaimable")
	}
	if got != pg {
		t.Fatalf("expected to reclaim the same page abandoned")
	}
	if !got.IsOwned() {
		t.Fatalf("expected reclaimed page to be marked owned")
	}
}

func TestReclaimEmptyPoolFails(t *testing.T) {
	pool := NewPool()
	if _, ok := pool.TryReclaim(3); ok {
		t.Fatalf("expected no page available in an empty pool")
	}
}

func TestBinsAreIndependent(t *testing.T) {
	pool := NewPool()
	pg := newTestPage()
	pool.Abandon(1, pg)
	if _, ok := pool.TryReclaim(2); ok {
		t.Fatalf("expected bin 2 to have nothing abandoned")
	}
	if _, ok := pool.TryReclaim(1); !ok {
		t.Fatalf("expected bin 1 to hand back the abandoned page")
	}
}

func TestConcurrentReclaimNeverDoubleClaims(t *testing.T) {
	pool := NewPool()
	const n = 64
	pages := make([]*page.Page, n)
	for i := range pages {
		pages[i] = newTestPage()
		pool.Abandon(7, pages[i])
	}

	claimed := make(chan *page.Page, n)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				p, ok := pool.TryReclaim(7)
				if !ok {
					return
				}
				claimed <- p
			}
		}()
	}
	wg.Wait()
	close(claimed)

	seen := make(map[*page.Page]bool)
	count := 0
	for p := range claimed {
		if seen[p] {
			t.Fatalf("page claimed twice by concurrent reclaimers")
		}
		seen[p] = true
		count++
	}
	if count != n {
		t.Fatalf("expected all %d abandoned pages reclaimed, got %d", n, count)
	}
}
