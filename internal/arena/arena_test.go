package arena

import (
	"sync"
	"testing"
	"time"

	"mazalloc/internal/options"
	"mazalloc/internal/osmem"
)

func defaultTestOptions() options.Options {
	o := options.Default()
	o.ArenaReserve = 4 * SliceSize
	return o
}

func TestAllocFreeSlicesRoundTrip(t *testing.T) {
	sim := osmem.NewSim()
	base, _, err := sim.AllocAligned(64*SliceSize, SliceSize, true)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	a := New(0, sim, base, 64, 0, false, false)

	if free := a.FreeSliceCount(); free != 64 {
		t.Fatalf("expected 64 free slices, got %d", free)
	}

	_, id, ok := a.AllocSlices(4, 1, true)
	if !ok {
		t.Fatalf("expected allocation to succeed")
	}
	if !id.InitiallyZero {
		t.Fatalf("expected a fresh slice run to report zero")
	}
	if a.FreeSliceCount() != 60 {
		t.Fatalf("expected 60 free slices after alloc, got %d", a.FreeSliceCount())
	}

	a.FreeSlices(id, 0)
	if a.FreeSliceCount() != 64 {
		t.Fatalf("expected 64 free slices after free, got %d", a.FreeSliceCount())
	}
}

func TestAllocSlicesNoDoubleClaim(t *testing.T) {
	sim := osmem.NewSim()
	base, _, _ := sim.AllocAligned(512*SliceSize, SliceSize, true)
	a := New(0, sim, base, 512, 0, false, false)

	var mu sync.Mutex
	claimed := make(map[int]bool)
	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func(tseq uint64) {
			defer wg.Done()
			for i := 0; i < 16; i++ {
				_, id, ok := a.AllocSlices(1, tseq+uint64(i), true)
				if !ok {
					continue
				}
				mu.Lock()
				if claimed[int(id.SliceIndex)] {
					t.Errorf("slice %d claimed twice", id.SliceIndex)
				}
				claimed[int(id.SliceIndex)] = true
				mu.Unlock()
			}
		}(uint64(g * 97))
	}
	wg.Wait()
	if len(claimed) != 512 {
		t.Fatalf("expected all 512 slices claimed exactly once, got %d", len(claimed))
	}
}

func TestPurgeDecommitsAfterDelay(t *testing.T) {
	sim := osmem.NewSim()
	base, _, _ := sim.AllocAligned(8*SliceSize, SliceSize, true)
	a := New(0, sim, base, 8, 0, false, false)

	_, id, ok := a.AllocSlices(2, 1, true)
	if !ok {
		t.Fatalf("alloc failed")
	}
	a.FreeSlices(id, time.Millisecond)

	if n := a.Purge(time.Now()); n != 0 {
		t.Fatalf("expected no purge before deadline, got %d", n)
	}
	if n := a.Purge(time.Now().Add(10 * time.Millisecond)); n != 2 {
		t.Fatalf("expected 2 slices purged, got %d", n)
	}
}

func TestPurgeSkipsReallocatedSlices(t *testing.T) {
	sim := osmem.NewSim()
	base, _, _ := sim.AllocAligned(8*SliceSize, SliceSize, true)
	a := New(0, sim, base, 8, 0, false, false)

	_, id, _ := a.AllocSlices(2, 1, true)
	a.FreeSlices(id, time.Millisecond)
	// Reclaim the same range before the purge sweep runs.
	if _, _, ok := a.AllocSlices(2, 1, true); !ok {
		t.Fatalf("expected to reclaim the freed range")
	}

	n := a.Purge(time.Now().Add(10 * time.Millisecond))
	if n != 0 {
		t.Fatalf("expected reallocated slices to be skipped, purged %d", n)
	}
}

func TestPinnedArenaNeverPurges(t *testing.T) {
	sim := osmem.NewSim()
	base, _, _ := sim.AllocAligned(8*SliceSize, SliceSize, true)
	a := New(0, sim, base, 8, 0, true, false)

	_, id, _ := a.AllocSlices(2, 1, true)
	a.FreeSlices(id, time.Millisecond)
	if n := a.Purge(time.Now().Add(time.Second)); n != 0 {
		t.Fatalf("pinned arena must never purge, got %d", n)
	}
}

func TestManagerGrowsPoolOnDemand(t *testing.T) {
	sim := osmem.NewSim()
	mgr := NewManager(sim, defaultTestOptions())

	_, id, ok := mgr.AllocSlices(4, 1, true, 0)
	if !ok {
		t.Fatalf("expected manager to reserve a fresh arena and satisfy the request")
	}
	if len(mgr.Arenas()) != 1 {
		t.Fatalf("expected exactly one arena reserved, got %d", len(mgr.Arenas()))
	}
	mgr.FreeSlices(id)
}

func TestManagerReusesExistingArenaBeforeGrowing(t *testing.T) {
	sim := osmem.NewSim()
	mgr := NewManager(sim, defaultTestOptions())

	_, id1, _ := mgr.AllocSlices(2, 1, true, 0)
	_, _, ok := mgr.AllocSlices(2, 2, true, 0)
	if !ok {
		t.Fatalf("expected second allocation to succeed from the same arena")
	}
	if len(mgr.Arenas()) != 1 {
		t.Fatalf("expected no second arena reservation, got %d arenas", len(mgr.Arenas()))
	}
	mgr.FreeSlices(id1)
}
