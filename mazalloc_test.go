package mazalloc

import (
	"sync"
	"testing"
	"unsafe"

	"mazalloc/internal/options"
	"mazalloc/internal/osmem"
)

func testProcess(t *testing.T) *Process {
	t.Helper()
	opts := options.Default()
	opts.ArenaReserve = 64 * 64 * 1024
	p := NewProcessWithMemory(osmem.NewSim(), opts)
	t.Cleanup(p.Close)
	return p
}

func TestAllocWriteReadRoundTrip(t *testing.T) {
	p := testProcess(t)
	h := p.HeapNew(0)

	addr := h.Alloc(128)
	if addr == 0 {
		t.Fatalf("alloc failed")
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 128)
	for i := range buf {
		buf[i] = byte(i)
	}
	for i := range buf {
		if buf[i] != byte(i) {
			t.Fatalf("byte %d corrupted: got %d", i, buf[i])
		}
	}
	if !Free(addr) {
		t.Fatalf("free failed")
	}
}

func TestUsableSizeRoundsUpToBin(t *testing.T) {
	p := testProcess(t)
	h := p.HeapNew(0)
	addr := h.Alloc(10)
	if UsableSize(addr) < 10 {
		t.Fatalf("usable size %d smaller than requested 10", UsableSize(addr))
	}
}

func TestReallocGrowsAndPreservesContent(t *testing.T) {
	p := testProcess(t)
	h := p.HeapNew(0)

	addr := h.Alloc(16)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 16)
	for i := range buf {
		buf[i] = 0xAB
	}

	grown := h.Realloc(addr, 4096)
	if grown == 0 {
		t.Fatalf("realloc failed")
	}
	gbuf := unsafe.Slice((*byte)(unsafe.Pointer(grown)), 16)
	for i, b := range gbuf {
		if b != 0xAB {
			t.Fatalf("byte %d not preserved across realloc: got %#x", i, b)
		}
	}
}

func TestReallocShrinkWithinBinIsInPlace(t *testing.T) {
	p := testProcess(t)
	h := p.HeapNew(0)
	addr := h.Alloc(100)
	same := h.Realloc(addr, 90)
	if same != addr {
		t.Fatalf("expected shrink within the same bin to stay in place")
	}
}

func TestVisitBlocksSeesOnlyLiveAllocations(t *testing.T) {
	p := testProcess(t)
	h := p.HeapNew(0)

	a := h.Alloc(32)
	b := h.Alloc(32)
	Free(a)

	seen := map[uintptr]bool{}
	h.VisitBlocks(func(addr, size uintptr) bool {
		seen[addr] = true
		return true
	})
	if seen[a] {
		t.Fatalf("freed block %#x should not appear in VisitBlocks", a)
	}
	if !seen[b] {
		t.Fatalf("live block %#x should appear in VisitBlocks", b)
	}
}

func TestHeapDeleteAllowsReclaimByAnotherHeap(t *testing.T) {
	p := testProcess(t)
	h1 := p.HeapNew(0)
	addr := h1.Alloc(32)
	Free(addr)
	h1.Delete()

	h2 := p.HeapNew(0)
	if a := h2.Alloc(32); a == 0 {
		t.Fatalf("expected second heap to still be able to allocate after the first's delete")
	}
}

func TestConcurrentHeapsDoNotCorruptEachOther(t *testing.T) {
	p := testProcess(t)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := p.HeapNew(0)
			defer h.Delete()
			var addrs []uintptr
			for i := 0; i < 200; i++ {
				a := h.Alloc(48)
				if a == 0 {
					t.Errorf("alloc failed")
					return
				}
				addrs = append(addrs, a)
			}
			for _, a := range addrs {
				Free(a)
			}
		}()
	}
	wg.Wait()
}

func TestStatsReflectActivity(t *testing.T) {
	p := testProcess(t)
	h := p.HeapNew(0)
	before := p.Stats().BlocksAllocated
	h.Alloc(64)
	after := p.Stats().BlocksAllocated
	if after <= before {
		t.Fatalf("expected BlocksAllocated to increase, before=%d after=%d", before, after)
	}
}
