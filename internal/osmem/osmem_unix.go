//go:build linux || darwin

package osmem

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Unix backs Memory with golang.org/x/sys/unix mmap/mprotect/madvise,
// the same calling convention the dh-cli uffd example and the asm/cmd
// modules' x/sys dependency use elsewhere in the corpus.
type Unix struct{}

var _ Memory = Unix{}

// AllocAligned reserves an over-sized anonymous mapping and trims the
// unaligned head/tail back to the OS, the standard mmap-align trick.
func (Unix) AllocAligned(size, align uintptr, commit bool) (uintptr, bool, error) {
	if size == 0 {
		return 0, false, fmt.Errorf("osmem: zero-size allocation")
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	if !commit {
		prot = unix.PROT_NONE
	}
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	total := size + align
	data, err := unix.Mmap(-1, 0, int(total), prot, flags)
	if err != nil {
		return 0, false, fmt.Errorf("osmem: mmap reserve %d bytes: %w", total, err)
	}
	base := uintptr(unsafe.Pointer(&data[0]))
	aligned := (base + align - 1) &^ (align - 1)

	headTrim := aligned - base
	if headTrim > 0 {
		_ = unix.Munmap(data[:headTrim])
	}
	tailStart := headTrim + size
	if tailStart < uintptr(len(data)) {
		_ = unix.Munmap(data[tailStart:])
	}
	// Linux anonymous mmap guarantees zero-filled pages.
	return aligned, true, nil
}

func slice(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
}

func (Unix) Commit(addr, size uintptr) (bool, error) {
	if err := unix.Mprotect(slice(addr, size), unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return false, fmt.Errorf("osmem: commit %d bytes at %#x: %w", size, addr, err)
	}
	return true, nil
}

func (Unix) Decommit(addr, size uintptr) error {
	if err := unix.Mprotect(slice(addr, size), unix.PROT_NONE); err != nil {
		return fmt.Errorf("osmem: decommit %d bytes at %#x: %w", size, addr, err)
	}
	return unix.Madvise(slice(addr, size), unix.MADV_DONTNEED)
}

func (Unix) Reset(addr, size uintptr) error {
	return unix.Madvise(slice(addr, size), unix.MADV_FREE)
}

func (Unix) Protect(addr, size uintptr, readWrite bool) error {
	prot := unix.PROT_READ
	if readWrite {
		prot |= unix.PROT_WRITE
	}
	return unix.Mprotect(slice(addr, size), prot)
}

func (Unix) Free(addr, size uintptr) error {
	return unix.Munmap(slice(addr, size))
}

func (Unix) NUMANode() int {
	cpu, node, err := unix.Getcpu()
	_ = cpu
	if err != nil {
		return 0
	}
	return int(node)
}

func (Unix) NUMANodeCount() int {
	n := numaNodeCountFromSysfs()
	if n <= 0 {
		return 1
	}
	return n
}

// ReserveHugePages attempts MAP_HUGETLB allocations one at a time,
// stopping once timeout elapses between pages (spec §5's one
// timer-driven core code path). numaNode is not used: the pages are not
// bound to any particular node.
func (Unix) ReserveHugePages(pages int, numaNode int, timeout time.Duration) (uintptr, int, error) {
	const hugePageSize = 2 << 20
	flags := unix.MAP_PRIVATE | unix.MAP_ANON | unix.MAP_HUGETLB
	deadline := time.Now().Add(timeout)
	var base uintptr
	got := 0
	for i := 0; i < pages; i++ {
		if timeout > 0 && time.Now().After(deadline) {
			break
		}
		data, err := unix.Mmap(-1, 0, hugePageSize, unix.PROT_READ|unix.PROT_WRITE, flags)
		if err != nil {
			break
		}
		addr := uintptr(unsafe.Pointer(&data[0]))
		if got == 0 {
			base = addr
		}
		got++
	}
	if got == 0 {
		return 0, 0, fmt.Errorf("osmem: could not reserve any huge pages")
	}
	return base, got, nil
}
