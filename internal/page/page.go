// Package page implements the page layer (spec §4.3): a pool of
// equal-size blocks carved from an arena's slice run, tracked by three
// free lists (free, localFree, threadFree) so the owning thread and
// remote freeing threads never contend on the same list. It generalizes
// the teacher's heapSegment block-list walk in main/heap.go into a
// three-list design with encoded next pointers, the XOR-cookie
// convention grounded on original_source/src/free.c's
// mi_block_nextx/mi_block_set_nextx.
package page

import (
	"sync/atomic"
	"unsafe"

	"mazalloc/internal/memid"
	"mazalloc/internal/stats"
)

// xthreadFreeOwnedBit marks, in the low bit of xthreadFree, whether the
// page is currently owned by some thread (1) or abandoned (0). Remote
// frees test this bit to decide whether they must trigger a reclaim scan.
const xthreadFreeOwnedBit = uintptr(1)

// block is the in-place header-free layout of a free block: its first
// word (the encoded next pointer) is the only metadata, written directly
// into block storage the same way original_source's block_t does.
type block struct {
	next uintptr
}

func blockAt(addr uintptr) *block {
	return (*block)(unsafe.Pointer(addr))
}

// keys is the per-page XOR cookie pair used to encode free-list next
// pointers, so a corrupted/attacker-controlled "next" value decodes to a
// wild pointer rather than a plausible block address. Decoded values are
// not checked against the page's bounds before they are followed.
type keys [2]uintptr

func encode(k keys, addr uintptr, next uintptr) uintptr {
	if next == 0 {
		return 0
	}
	return (next ^ k[0]) + k[1]*addr
}

func decode(k keys, addr uintptr, encoded uintptr) uintptr {
	if encoded == 0 {
		return 0
	}
	return (encoded - k[1]*addr) ^ k[0]
}

// Page is one pool of fixed-size blocks. It is never moved once
// allocated; the only growth is extending how much of its storage is
// carved into blocks (extendFree).
type Page struct {
	Memid     memid.Memid
	Base      uintptr
	BlockSize uintptr
	Capacity  uint32 // blocks carved so far
	Reserved  uint32 // max blocks this page's storage can ever hold

	keys keys

	free      uintptr // local free list: owning thread only
	localFree uintptr // blocks freed by the owning thread, plus remote frees drained by CollectRemote; Collect moves them onto free

	// xthreadFree packs the cross-thread free-list head in its upper
	// bits and the owned flag in its low bit, so a CAS can update both
	// atomically — the same trick original_source's xthread_free field
	// uses to avoid a second atomic for the ownership handoff.
	xthreadFree atomic.Uintptr

	usedCount atomic.Uint32 // blocks currently handed to the caller

	retireExpire int32 // collect() countdown before a mostly-empty page is retired
	isInFull     bool
}

// New carves a fresh page over an arena slice run. The run's bytes must
// already be committed; blocks are only materialized as extendFree is
// called (lazily, matching original_source's "only touch what you use").
func New(id memid.Memid, base, blockSize uintptr, reserved uint32) *Page {
	p := &Page{
		Memid:     id,
		Base:      base,
		BlockSize: blockSize,
		Reserved:  reserved,
		keys:      keys{randWord(base), randWord(base ^ 0x9e3779b97f4a7c15)},
	}
	p.xthreadFree.Store(xthreadFreeOwnedBit)
	return p
}

// randWord derives a page-local cookie from its base address and a
// fixed mixing constant; it need not be cryptographically random, only
// unpredictable enough that a stray value fails to decode to a
// plausible pointer.
func randWord(seed uintptr) uintptr {
	x := uint64(seed)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return uintptr(x)
}

// ExtendFree carves up to n additional fresh blocks from the page's
// reserved storage onto the free list. It returns how many were added.
func (p *Page) ExtendFree(n uint32) uint32 {
	room := p.Reserved - p.Capacity
	if n > room {
		n = room
	}
	for i := uint32(0); i < n; i++ {
		addr := p.Base + uintptr(p.Capacity+i)*p.BlockSize
		b := blockAt(addr)
		b.next = encode(p.keys, addr, p.free)
		p.free = addr
	}
	p.Capacity += n
	return n
}

// Malloc pops one block off the local free list, the three-read/
// one-write/one-increment fast path spec §4.3 describes. It returns 0
// if the local free list is empty (the caller must Collect first).
func (p *Page) Malloc() uintptr {
	addr := p.free
	if addr == 0 {
		return 0
	}
	b := blockAt(addr)
	p.free = decode(p.keys, addr, b.next)
	p.usedCount.Add(1)
	stats.Global.BlocksAllocated.Add(1)
	return addr
}

// FreeLocal returns a block to the page from the owning thread, onto the
// localFree list; the next Collect moves it onto the fast `free` list.
func (p *Page) FreeLocal(addr uintptr) {
	b := blockAt(addr)
	b.next = encode(p.keys, addr, p.localFree)
	p.localFree = addr
	p.usedCount.Add(^uint32(0)) // usedCount--
	stats.Global.BlocksFreed.Add(1)
}

// FreeRemote pushes a block onto the cross-thread free list via CAS; any
// thread may call this, including one that does not own the page. It
// reports whether the page was observed unowned (abandoned) at the time
// of the push, which the caller uses to decide whether to trigger a
// reclaim scan. usedCount is left untouched here; CollectRemote accounts
// for the pushed block once it is safely on the owning thread's side.
func (p *Page) FreeRemote(addr uintptr) (wasUnowned bool) {
	b := blockAt(addr)
	for {
		old := p.xthreadFree.Load()
		oldHead := old &^ xthreadFreeOwnedBit
		owned := old&xthreadFreeOwnedBit != 0
		b.next = encode(p.keys, addr, oldHead)
		next := (addr &^ xthreadFreeOwnedBit) | (old & xthreadFreeOwnedBit)
		if p.xthreadFree.CompareAndSwap(old, next) {
			stats.Global.BlocksFreed.Add(1)
			return !owned
		}
	}
}

// CollectRemote drains the cross-thread free list into localFree. The
// owning thread calls this before a Malloc that finds `free` empty.
// Since FreeRemote cannot safely decrement usedCount itself (the pushing
// thread doesn't own the page's non-atomic fields), the blocks it pushed
// are still counted as in-use until a collect drains them here — the
// same place original_source's page_free_collect does the accounting,
// by counting the chain it drains rather than decrementing on push.
func (p *Page) CollectRemote() {
	old := p.xthreadFree.Load()
	head := old &^ xthreadFreeOwnedBit
	if head == 0 {
		return
	}
	for {
		old = p.xthreadFree.Load()
		head = old &^ xthreadFreeOwnedBit
		if head == 0 {
			return
		}
		ownedBit := old & xthreadFreeOwnedBit
		if p.xthreadFree.CompareAndSwap(old, ownedBit) {
			break
		}
	}
	// Splice the drained chain onto localFree by walking to its tail,
	// counting blocks along the way so usedCount can drop by the whole
	// chain length in one update.
	n := uint32(1)
	addr := head
	for {
		b := blockAt(addr)
		nextEnc := b.next
		next := decode(p.keys, addr, nextEnc)
		if next == 0 {
			b.next = encode(p.keys, addr, p.localFree)
			p.localFree = head
			p.usedCount.Add(^(n - 1)) // usedCount -= n
			return
		}
		addr = next
		n++
	}
}

// Collect merges localFree (and, if force, a remote drain) into free so
// Malloc can resume the fast path. It returns the number of blocks
// currently in use after the merge.
func (p *Page) Collect(force bool) uint32 {
	if force {
		p.CollectRemote()
	}
	if p.localFree != 0 {
		if p.free == 0 {
			p.free = p.localFree
		} else {
			tail := p.free
			for {
				b := blockAt(tail)
				n := decode(p.keys, tail, b.next)
				if n == 0 {
					b.next = encode(p.keys, tail, p.localFree)
					break
				}
				tail = n
			}
		}
		p.localFree = 0
	}
	return p.usedCount.Load()
}

// IsFull reports whether every carved block is currently in use and the
// local free list has nothing to offer without a Collect.
func (p *Page) IsFull() bool {
	return p.free == 0 && p.usedCount.Load() >= p.Capacity
}

// IsEmpty reports whether the page holds no live blocks at all (modulo
// an uncollected remote free list, which the caller should drain first
// via Collect(true) before trusting this).
func (p *Page) IsEmpty() bool {
	return p.usedCount.Load() == 0
}

// UsedCount reports blocks currently considered in-use.
func (p *Page) UsedCount() uint32 { return p.usedCount.Load() }

// SetOwned toggles the ownership bit in xthreadFree; false marks the
// page abandoned so a remote free can detect it must trigger reclaim.
func (p *Page) SetOwned(owned bool) {
	for {
		old := p.xthreadFree.Load()
		head := old &^ xthreadFreeOwnedBit
		var next uintptr
		if owned {
			next = head | xthreadFreeOwnedBit
		} else {
			next = head
		}
		if p.xthreadFree.CompareAndSwap(old, next) {
			return
		}
	}
}

// IsOwned reports the current state of the ownership bit.
func (p *Page) IsOwned() bool {
	return p.xthreadFree.Load()&xthreadFreeOwnedBit != 0
}

// TickRetire advances the retirement countdown a mostly-empty page
// carries before Collect decides to hand its slices back to the arena
// instead of keeping it around for reuse (spec §4.3 "retire_expire").
func (p *Page) TickRetire(threshold int32) bool {
	if p.retireExpire <= 0 {
		p.retireExpire = threshold
		return false
	}
	p.retireExpire--
	if p.retireExpire == 0 {
		stats.Global.PagesRetired.Add(1)
		return true
	}
	return false
}

// CancelRetire resets the countdown, called whenever the page regains
// live blocks.
func (p *Page) CancelRetire() { p.retireExpire = 0 }

// ForEachBlock visits every carved block in address order, reporting
// whether it is currently in use. It is read-only debug/visitor
// machinery (spec's visit_blocks), not on any allocation fast path, so
// walking all three free lists here is acceptable.
func (p *Page) ForEachBlock(visit func(addr uintptr, used bool) bool) {
	free := make(map[uintptr]bool)
	walk := func(head uintptr) {
		addr := head
		for addr != 0 {
			free[addr] = true
			b := blockAt(addr)
			addr = decode(p.keys, addr, b.next)
		}
	}
	walk(p.free)
	walk(p.localFree)
	walk(p.xthreadFree.Load() &^ xthreadFreeOwnedBit)

	for i := uint32(0); i < p.Capacity; i++ {
		addr := p.Base + uintptr(i)*p.BlockSize
		if !visit(addr, !free[addr]) {
			return
		}
	}
}
