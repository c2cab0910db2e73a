// Package osmem is the external collaborator spec §6 names: the OS
// primitives (reserve/commit/decommit/protect/huge-pages/numa-node) that
// the arena and allocator core treat as out-of-scope adapters. The
// default implementation (osmem_unix.go) backs them with
// golang.org/x/sys/unix mmap/mprotect/madvise, grounded on the
// uffd/mmap calling convention in
// other_examples/0c4a8d71_dsmmcken-dh-cli__src-internal-vm-uffd_linux.go.go
// and on the teacher's raw-address read/write helper shape in
// main/memory.go.
package osmem

import (
	"time"
)

// Memory is the OS-primitives surface the core depends on. It is a
// narrow interface so tests can swap in an in-process simulator.
type Memory interface {
	// AllocAligned reserves size bytes aligned to align, optionally
	// committing immediately. It returns the base address, whether the
	// OS guarantees the memory is already zero, and an error on failure.
	AllocAligned(size, align uintptr, commit bool) (base uintptr, isZero bool, err error)
	// Commit ensures RAM backs [addr, addr+size). isZero reports whether
	// the OS guarantees fresh-zero on first commit.
	Commit(addr, size uintptr) (isZero bool, err error)
	// Decommit releases RAM backing [addr, addr+size); the range stays
	// reserved and may be recommitted later.
	Decommit(addr, size uintptr) error
	// Reset advises the OS that [addr, addr+size) may be discarded.
	Reset(addr, size uintptr) error
	// Protect toggles read/write access for guard-page debug modes.
	Protect(addr, size uintptr, readWrite bool) error
	// Free releases [addr, size) back to the OS entirely.
	Free(addr, size uintptr) error
	// NUMANode returns the NUMA node the calling thread is currently
	// running on.
	NUMANode() int
	// NUMANodeCount returns the number of NUMA nodes visible to the
	// process.
	NUMANodeCount() int
	// ReserveHugePages best-effort reserves `pages` huge (e.g. 2 MiB/1
	// GiB) pages on the given NUMA node, aborting between pages once
	// timeout elapses. It returns how many pages were actually obtained.
	ReserveHugePages(pages int, numaNode int, timeout time.Duration) (base uintptr, gotPages int, err error)
}

// PageSize is the OS page size primitives are expected to operate in
// multiples of.
const PageSize = 4096
