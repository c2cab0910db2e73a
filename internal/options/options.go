// Package options implements the option table spec §6 names
// (arena_reserve, purge_delay, page_reclaim_on_free, ...). It is read
// once at process_init and is otherwise immutable, matching "Persisted
// state: none" in §6 — nothing here survives past the process. It
// generalizes the teacher's package-level enable flags
// (gcMonitorEnabled, scavengerMonitorEnabled in main/gc_monitor.go,
// main/scavenger_monitor.go) into a single typed struct bound to
// environment variables.
package options

import (
	"os"
	"strconv"
	"time"
)

// Tri is a tri-state option: Auto lets the allocator decide.
type Tri int

const (
	Auto Tri = iota
	Off
	On
)

// Options holds every tunable named in spec §6.
type Options struct {
	ArenaReserve          int64 // bytes reserved per fresh arena baseline
	ArenaPurgeMult        int   // purge_delay multiplier applied per retry
	PurgeDelay            time.Duration
	PageReclaimOnFree     Tri
	PageFullRetain        int // retire countdown: collects an empty page survives before returning to the arena; <= 0 never retires; does not limit full pages kept per bin
	UseNUMANodes          int // 0 = autodetect
	ReserveHugeOSPages    int
	ReserveHugeOSPagesAt  int // NUMA node to reserve huge pages on, -1 = any
	DestroyOnExit         bool
	VisitAbandoned        bool
	AllowLargeOSPages     bool
	PageCommitOnDemand    int // 0, 1, or 2
	DisallowArenaAlloc    bool
	DisallowOSAlloc       bool
}

// Default matches mimalloc's documented defaults, adapted to the sizes
// this core uses (64 KiB slice, 16 GiB max arena).
func Default() Options {
	return Options{
		ArenaReserve:         1 << 30, // 1 GiB baseline
		ArenaPurgeMult:       2,
		PurgeDelay:           10 * time.Second,
		PageReclaimOnFree:    Auto,
		PageFullRetain:       4,
		UseNUMANodes:         0,
		ReserveHugeOSPages:   0,
		ReserveHugeOSPagesAt: -1,
		DestroyOnExit:        false,
		VisitAbandoned:       false,
		AllowLargeOSPages:    true,
		PageCommitOnDemand:   1,
		DisallowArenaAlloc:   false,
		DisallowOSAlloc:      false,
	}
}

// FromEnviron overlays MAZALLOC_* environment variables onto defaults.
// Unset or malformed variables are ignored (falling back to the
// default), matching the spec's "best-effort continue" error posture.
func FromEnviron() Options {
	o := Default()
	if v, ok := envInt64("MAZALLOC_ARENA_RESERVE"); ok {
		o.ArenaReserve = v
	}
	if v, ok := envInt("MAZALLOC_ARENA_PURGE_MULT"); ok {
		o.ArenaPurgeMult = v
	}
	if v, ok := envDuration("MAZALLOC_PURGE_DELAY"); ok {
		o.PurgeDelay = v
	}
	if v, ok := envTri("MAZALLOC_PAGE_RECLAIM_ON_FREE"); ok {
		o.PageReclaimOnFree = v
	}
	if v, ok := envInt("MAZALLOC_PAGE_FULL_RETAIN"); ok {
		o.PageFullRetain = v
	}
	if v, ok := envInt("MAZALLOC_USE_NUMA_NODES"); ok {
		o.UseNUMANodes = v
	}
	if v, ok := envInt("MAZALLOC_RESERVE_HUGE_OS_PAGES"); ok {
		o.ReserveHugeOSPages = v
	}
	if v, ok := envInt("MAZALLOC_RESERVE_HUGE_OS_PAGES_AT"); ok {
		o.ReserveHugeOSPagesAt = v
	}
	if v, ok := envBool("MAZALLOC_DESTROY_ON_EXIT"); ok {
		o.DestroyOnExit = v
	}
	if v, ok := envBool("MAZALLOC_VISIT_ABANDONED"); ok {
		o.VisitAbandoned = v
	}
	if v, ok := envBool("MAZALLOC_ALLOW_LARGE_OS_PAGES"); ok {
		o.AllowLargeOSPages = v
	}
	if v, ok := envInt("MAZALLOC_PAGE_COMMIT_ON_DEMAND"); ok {
		o.PageCommitOnDemand = v
	}
	if v, ok := envBool("MAZALLOC_DISALLOW_ARENA_ALLOC"); ok {
		o.DisallowArenaAlloc = v
	}
	if v, ok := envBool("MAZALLOC_DISALLOW_OS_ALLOC"); ok {
		o.DisallowOSAlloc = v
	}
	return o
}

func envInt64(name string) (int64, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

func envInt(name string) (int, bool) {
	v, ok := envInt64(name)
	return int(v), ok
}

func envBool(name string) (bool, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(s)
	return v, err == nil
}

func envDuration(name string) (time.Duration, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := time.ParseDuration(s)
	return v, err == nil
}

func envTri(name string) (Tri, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return Auto, false
	}
	switch s {
	case "-1":
		return Off, true
	case "0":
		return Auto, true
	case "1":
		return On, true
	default:
		return Auto, false
	}
}
