// Package mazalloc is a thread-safe, NUMA-aware general-purpose memory
// allocator core: arenas of 64 KiB slices back size-classed pages, and
// per-goroutine Heaps hand out and reclaim blocks from them without a
// shared lock on the common path. It is organized the way the teacher
// module organizes a bare-metal runtime into focused internal packages
// plus a small public surface (main/kernel.go's boot sequence becomes
// this package's Process/Heap lifecycle).
package mazalloc

import (
	"sync"
	"time"

	"mazalloc/internal/arena"
	"mazalloc/internal/diag"
	"mazalloc/internal/options"
	"mazalloc/internal/osmem"
	"mazalloc/internal/stats"
	"mazalloc/internal/theap"
)

// Process owns the arena pool and the background purge daemon; exactly
// one should exist per OS process, mirroring spec §9's process_init
// lifecycle (and, in miniature, the teacher's single kernel_main
// bootstrap in main/kernel.go).
type Process struct {
	opts options.Options
	mgr  *arena.Manager
	purg *arena.PurgeDaemon

	mu    sync.Mutex
	heaps map[*Heap]struct{}
}

// NewProcess starts a Process backed by real OS memory (mmap on
// linux/darwin), applying opts. The background purge daemon starts
// immediately; call Close when the process is shutting down.
func NewProcess(opts options.Options) *Process {
	return NewProcessWithMemory(osmem.Unix{}, opts)
}

// NewProcessWithMemory starts a Process over a caller-supplied Memory
// backend — production code uses osmem.Unix{}; tests use osmem.NewSim().
func NewProcessWithMemory(mem osmem.Memory, opts options.Options) *Process {
	p := &Process{
		opts:  opts,
		mgr:   arena.NewManager(mem, opts),
		heaps: make(map[*Heap]struct{}),
	}
	p.purg = arena.NewPurgeDaemon(p.mgr, opts.PurgeDelay/2+time.Millisecond)
	p.purg.Start()
	diag.Stats("process: started", "arena_reserve", opts.ArenaReserve, "purge_delay", opts.PurgeDelay)
	return p
}

// HeapNew creates a fresh Heap bound to this process, preferring
// allocations from arenas on numaNode (pass -1 to let the allocator pick
// the node the calling goroutine is currently scheduled on).
func (p *Process) HeapNew(numaNode int) *Heap {
	if numaNode < 0 {
		numaNode = p.mgr.DefaultNUMANode()
	}
	h := &Heap{th: theap.New(p.mgr, p.opts, numaNode), proc: p}
	p.mu.Lock()
	p.heaps[h] = struct{}{}
	p.mu.Unlock()
	return h
}

// Stats returns a snapshot of the process-wide allocator counters.
func (p *Process) Stats() stats.Snapshot {
	return stats.Global.Snapshot()
}

// Arenas exposes the current arena pool, e.g. for a stats dump or the
// debug visualizer.
func (p *Process) Arenas() []*arena.Arena { return p.mgr.Arenas() }

// Close stops the purge daemon. Outstanding Heaps remain individually
// usable but will no longer have their freed slices purged in the
// background.
func (p *Process) Close() {
	p.purg.Stop()
}

func (p *Process) removeHeap(h *Heap) {
	p.mu.Lock()
	delete(p.heaps, h)
	p.mu.Unlock()
}
