package arena

import (
	"sync"

	"mazalloc/internal/diag"
	"mazalloc/internal/memid"
	"mazalloc/internal/options"
	"mazalloc/internal/osmem"
)

const maxArenaSlices = (16 << 30) / SliceSize // 16 GiB cap per arena, per spec §4.2

// Manager owns the set of reserved arenas and decides when to grow the
// pool with a freshly reserved one. Selection makes two passes over the
// existing arenas: first only those on the caller's NUMA node, then any
// arena with room.
type Manager struct {
	mem  osmem.Memory
	opts options.Options

	mu      sync.RWMutex
	arenas  []*Arena
	reserved int64 // total bytes reserved across all arenas
}

// NewManager returns an empty pool; arenas are created lazily on first
// allocation request.
func NewManager(mem osmem.Memory, opts options.Options) *Manager {
	return &Manager{mem: mem, opts: opts}
}

func (m *Manager) snapshotArenas() []*Arena {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Arena, len(m.arenas))
	copy(out, m.arenas)
	return out
}

// Arenas exposes the current pool, e.g. for a stats dump or visualizer.
func (m *Manager) Arenas() []*Arena { return m.snapshotArenas() }

// DefaultNUMANode reports the NUMA node the calling goroutine happens to
// be running on right now, used when a caller doesn't care which node a
// fresh Heap prefers.
func (m *Manager) DefaultNUMANode() int { return m.mem.NUMANode() }

// AllocSlices claims n slices from the pool, preferring an arena on
// numaNode, reserving a fresh arena if none has room and arena
// allocation is not disallowed by options.
func (m *Manager) AllocSlices(n int, tseq uint64, commit bool, numaNode int) (base uintptr, id memid.Memid, ok bool) {
	if base, id, ok = m.tryExisting(n, tseq, commit, numaNode, true); ok {
		return
	}
	if base, id, ok = m.tryExisting(n, tseq, commit, numaNode, false); ok {
		return
	}
	if m.opts.DisallowArenaAlloc {
		return 0, memid.None, false
	}
	a, err := m.growFor(n, numaNode)
	if err != nil {
		diag.Warn("arena manager: reservation failed", "err", err)
		return 0, memid.None, false
	}
	base, id, ok = a.AllocSlices(n, tseq, commit)
	return
}

func (m *Manager) tryExisting(n int, tseq uint64, commit bool, numaNode int, requireNUMA bool) (uintptr, memid.Memid, bool) {
	for _, a := range m.snapshotArenas() {
		if a.Exclusive {
			continue
		}
		if requireNUMA && a.NUMANode != numaNode {
			continue
		}
		if base, id, ok := a.AllocSlices(n, tseq, commit); ok {
			return base, id, true
		}
	}
	return 0, memid.None, false
}

// FreeSlices routes a free back to the arena named in id.
func (m *Manager) FreeSlices(id memid.Memid) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id.ArenaIndex < 0 || id.ArenaIndex >= len(m.arenas) {
		diag.Invariant("arena manager: free references unknown arena", "arena", id.ArenaIndex)
		return
	}
	m.arenas[id.ArenaIndex].FreeSlices(id, m.opts.PurgeDelay)
}

// growFor reserves a new arena sized to satisfy at least n slices,
// scaling the baseline reservation by the pool's existing size: each
// fresh arena is at least as large as the configured baseline, doubled
// once per already-reserved baseline up to an 8x clamp, and never larger
// than the per-arena cap.
func (m *Manager) growFor(n int, numaNode int) (*Arena, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	needBytes := int64(n) * SliceSize
	reserveBytes := m.opts.ArenaReserve
	if reserveBytes <= 0 {
		reserveBytes = 1 << 20
	}
	growthSteps := len(m.arenas)
	if growthSteps > 3 {
		growthSteps = 3 // clamp to 8x baseline
	}
	for i := 0; i < growthSteps; i++ {
		reserveBytes *= 2
	}
	if needBytes > reserveBytes {
		reserveBytes = needBytes
	}
	if reserveBytes > maxArenaSlices*SliceSize {
		reserveBytes = maxArenaSlices * SliceSize
	}

	base, isZero, err := m.mem.AllocAligned(uintptr(reserveBytes), SliceSize, false)
	_ = isZero
	if err != nil {
		return nil, err
	}
	slices := int(reserveBytes / SliceSize)
	a := New(len(m.arenas), m.mem, base, slices, numaNode, false, false)
	m.arenas = append(m.arenas, a)
	m.reserved += reserveBytes
	diag.Stats("arena manager: reserved fresh arena", "index", a.Index, "slices", slices, "numa", numaNode)
	return a, nil
}
