// Package stats holds the allocator's relaxed-atomic counters
// (supplemented from original_source/src/stats.c), grounded on the
// teacher's own atomic trigger counters (gcTriggerCount atomic.Uint64
// in main/gc_monitor.go, timerTickCount in main/scavenger_monitor.go).
package stats

import "sync/atomic"

// Counters tracks allocator-wide activity. All fields use relaxed
// atomics per spec §5 ("Statistics use relaxed atomics on 64-bit
// counters").
type Counters struct {
	PagesAllocated   atomic.Uint64
	PagesFreed       atomic.Uint64
	PagesRetired     atomic.Uint64
	PagesAbandoned   atomic.Uint64
	PagesReclaimed   atomic.Uint64
	SlicesCommitted  atomic.Uint64
	SlicesPurged     atomic.Uint64
	ArenasReserved   atomic.Uint64
	BlocksAllocated  atomic.Uint64
	BlocksFreed      atomic.Uint64
	DoubleFrees      atomic.Uint64
	InvalidFrees      atomic.Uint64
	OSBytesReserved  atomic.Uint64
}

// Global is the process-wide counter set, mirroring the package-level
// singleton style the teacher uses for its monitors.
var Global Counters

// Snapshot is a point-in-time, non-atomic copy of Counters suitable for
// logging or a stats dump.
type Snapshot struct {
	PagesAllocated  uint64
	PagesFreed      uint64
	PagesRetired    uint64
	PagesAbandoned  uint64
	PagesReclaimed  uint64
	SlicesCommitted uint64
	SlicesPurged    uint64
	ArenasReserved  uint64
	BlocksAllocated uint64
	BlocksFreed     uint64
	DoubleFrees     uint64
	InvalidFrees    uint64
	OSBytesReserved uint64
}

// Snapshot reads every counter once and returns a plain struct.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		PagesAllocated:  c.PagesAllocated.Load(),
		PagesFreed:      c.PagesFreed.Load(),
		PagesRetired:    c.PagesRetired.Load(),
		PagesAbandoned:  c.PagesAbandoned.Load(),
		PagesReclaimed:  c.PagesReclaimed.Load(),
		SlicesCommitted: c.SlicesCommitted.Load(),
		SlicesPurged:    c.SlicesPurged.Load(),
		ArenasReserved:  c.ArenasReserved.Load(),
		BlocksAllocated: c.BlocksAllocated.Load(),
		BlocksFreed:     c.BlocksFreed.Load(),
		DoubleFrees:     c.DoubleFrees.Load(),
		InvalidFrees:    c.InvalidFrees.Load(),
		OSBytesReserved: c.OSBytesReserved.Load(),
	}
}
