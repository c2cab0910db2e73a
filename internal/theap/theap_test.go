package theap

import (
	"sync"
	"testing"

	"mazalloc/internal/arena"
	"mazalloc/internal/options"
	"mazalloc/internal/osmem"
)

func testManager() *arena.Manager {
	sim := osmem.NewSim()
	opts := options.Default()
	opts.ArenaReserve = 64 * arena.SliceSize
	return arena.NewManager(sim, opts)
}

func TestMallocReturnsDistinctNonOverlappingBlocks(t *testing.T) {
	h := New(testManager(), options.Default(), 0)
	seen := make(map[uintptr]bool)
	for i := 0; i < 500; i++ {
		addr := h.Malloc(32)
		if addr == 0 {
			t.Fatalf("malloc %d failed", i)
		}
		if seen[addr] {
			t.Fatalf("address %#x handed out twice", addr)
		}
		seen[addr] = true
	}
}

func TestMallocFreeReusesBlock(t *testing.T) {
	h := New(testManager(), options.Default(), 0)
	a := h.Malloc(64)
	if a == 0 {
		t.Fatalf("malloc failed")
	}
	if !Free(a) {
		t.Fatalf("expected free to succeed")
	}
	b := h.Malloc(64)
	if b == 0 {
		t.Fatalf("second malloc failed")
	}
}

func TestFreeOfUnknownAddressReportsFalse(t *testing.T) {
	if Free(0xdeadbeef) {
		t.Fatalf("expected free of a never-allocated address to fail")
	}
}

func TestSingletonPathServesLargeRequests(t *testing.T) {
	h := New(testManager(), options.Default(), 0)
	addr := h.Malloc(4 * 1024 * 1024)
	if addr == 0 {
		t.Fatalf("expected large allocation to succeed")
	}
	if !Free(addr) {
		t.Fatalf("expected large block to free cleanly")
	}
}

func TestCrossGoroutineRemoteFreeIsSafe(t *testing.T) {
	h := New(testManager(), options.Default(), 0)
	var addrs []uintptr
	for i := 0; i < 128; i++ {
		addrs = append(addrs, h.Malloc(48))
	}

	var wg sync.WaitGroup
	for _, a := range addrs {
		wg.Add(1)
		go func(addr uintptr) {
			defer wg.Done()
			if !Free(addr) {
				t.Errorf("remote free of %#x failed", addr)
			}
		}(a)
	}
	wg.Wait()

	h.Collect(Force)
	for i := 0; i < 128; i++ {
		if addr := h.Malloc(48); addr == 0 {
			t.Fatalf("expected reclaimed blocks to be reusable after collect, iter %d", i)
		}
	}
}

func TestCollectAbandonDetachesPages(t *testing.T) {
	h := New(testManager(), options.Default(), 0)
	a := h.Malloc(32)
	Free(a)
	h.Collect(Abandon)
	for bin := range h.queues {
		if len(h.queues[bin].pages) != 0 {
			t.Fatalf("expected Abandon to detach all pages from bin %d", bin)
		}
	}
}
