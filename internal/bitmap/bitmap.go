// Package bitmap implements the concurrent bit-array primitive described
// in the allocator core: a flat array of fixed-size chunks, each chunk
// backed by atomic words, plus a chunkmap hint bitmap used to skip chunks
// that are known (or plausibly) all-zero.
package bitmap

import (
	"math/bits"
	"sync/atomic"
)

const (
	// WordBits is the width of one atomic word.
	WordBits = 64
	// WordsPerChunk makes a chunk exactly 512 bits, one cache-line-aligned
	// group of atomics.
	WordsPerChunk = 8
	// ChunkBits is the number of bits addressed by a single chunk.
	ChunkBits = WordBits * WordsPerChunk

	maxChunkFindAttempts = 64
)

// chunk is one 512-bit atomic unit of a Bitmap.
type chunk struct {
	words [WordsPerChunk]atomic.Uint64
}

func (c *chunk) load() [WordsPerChunk]uint64 {
	var snap [WordsPerChunk]uint64
	for i := range snap {
		snap[i] = c.words[i].Load()
	}
	return snap
}

func (c *chunk) isZero() bool {
	for i := range c.words {
		if c.words[i].Load() != 0 {
			return false
		}
	}
	return true
}

// rangeMasks splits the bit range [start, start+n) into per-word masks.
// start and n must describe a range that fits inside one chunk.
func rangeMasks(start, n int) [WordsPerChunk]uint64 {
	var masks [WordsPerChunk]uint64
	end := start + n
	for b := start; b < end; {
		w := b / WordBits
		wordStart := w * WordBits
		hi := wordStart + WordBits
		if hi > end {
			hi = end
		}
		cnt := hi - b
		shift := uint(b - wordStart)
		var m uint64
		if cnt == WordBits {
			m = ^uint64(0)
		} else {
			m = ((uint64(1) << uint(cnt)) - 1) << shift
		}
		masks[w] |= m
		b = hi
	}
	return masks
}

// setN sets the run and reports how many of its bits were already set.
func (c *chunk) setN(start, n int) int {
	masks := rangeMasks(start, n)
	alreadySet := 0
	for w, m := range masks {
		if m == 0 {
			continue
		}
		old := c.words[w].Or(m)
		alreadySet += bits.OnesCount64(old & m)
	}
	return alreadySet
}

func (c *chunk) clearN(start, n int) {
	masks := rangeMasks(start, n)
	for w, m := range masks {
		if m == 0 {
			continue
		}
		c.words[w].And(^m)
	}
}

// tryClearN atomically clears the run only if every bit in it was set;
// otherwise it rolls back any word it already cleared and returns false.
func (c *chunk) tryClearN(start, n int) bool {
	masks := rangeMasks(start, n)
	var touched [WordsPerChunk]bool
	ok := true
wordLoop:
	for w, m := range masks {
		if m == 0 {
			continue
		}
		for {
			old := c.words[w].Load()
			if old&m != m {
				ok = false
				break wordLoop
			}
			if c.words[w].CompareAndSwap(old, old&^m) {
				touched[w] = true
				break
			}
		}
	}
	if !ok {
		for w, didTouch := range touched {
			if didTouch {
				c.words[w].Or(masks[w])
			}
		}
		return false
	}
	return true
}

func (c *chunk) isSetN(start, n int) bool {
	masks := rangeMasks(start, n)
	for w, m := range masks {
		if m == 0 {
			continue
		}
		if c.words[w].Load()&m != m {
			return false
		}
	}
	return true
}

func (c *chunk) isClearN(start, n int) bool {
	masks := rangeMasks(start, n)
	for w, m := range masks {
		if m == 0 {
			continue
		}
		if c.words[w].Load()&m != 0 {
			return false
		}
	}
	return true
}

func (c *chunk) popcountN(start, n int) int {
	masks := rangeMasks(start, n)
	total := 0
	for w, m := range masks {
		if m == 0 {
			continue
		}
		total += bits.OnesCount64(c.words[w].Load() & m)
	}
	return total
}

// findRun looks for n contiguous set bits in the chunk snapshot, starting
// the scan at rotate to spread contention across concurrent callers.
func findRun(snap [WordsPerChunk]uint64, n, rotate int) (int, bool) {
	if n <= 0 || n > ChunkBits {
		return 0, false
	}
	get := func(i int) bool {
		return snap[i/WordBits]&(uint64(1)<<uint(i%WordBits)) != 0
	}
	run := 0
	runStart := 0
	prev := -2
	for k := 0; k < ChunkBits; k++ {
		i := (rotate + k) % ChunkBits
		// A rotated scan wraps from bit ChunkBits-1 back to bit 0, which is
		// not a real adjacency in the flat bitmap; only accumulate a run
		// across steps that are truly consecutive indices.
		if i != prev+1 {
			run = 0
		}
		if get(i) {
			if run == 0 {
				runStart = i
			}
			run++
			if run >= n {
				return runStart, true
			}
		} else {
			run = 0
		}
		prev = i
	}
	return 0, false
}

func (c *chunk) tryFindAndClearN(n int, tseq uint64) (int, bool) {
	// The start offset is rounded down to a multiple of n so that
	// equal-size claims tile the chunk instead of fragmenting it.
	rotate := 0
	if n > 0 {
		rotate = int(tseq%ChunkBits) / n * n
	}
	for attempt := 0; attempt < maxChunkFindAttempts; attempt++ {
		snap := c.load()
		start, found := findRun(snap, n, rotate)
		if !found {
			return 0, false
		}
		if c.tryClearN(start, n) {
			return start, true
		}
	}
	return 0, false
}

// Bitmap is a linear bit-array divided into fixed-size chunks, with a
// chunkmap hint bitmap (itself a sequence of chunks) marking chunks that
// plausibly hold at least one set bit.
type Bitmap struct {
	nbits     int
	chunks    []chunk
	chunkmaps []chunk
}

// New allocates a Bitmap with room for at least nbits bits.
func New(nbits int) *Bitmap {
	if nbits <= 0 {
		nbits = 1
	}
	nchunks := (nbits + ChunkBits - 1) / ChunkBits
	nchunkmaps := (nchunks + ChunkBits - 1) / ChunkBits
	if nchunkmaps == 0 {
		nchunkmaps = 1
	}
	return &Bitmap{
		nbits:     nbits,
		chunks:    make([]chunk, nchunks),
		chunkmaps: make([]chunk, nchunkmaps),
	}
}

// Bits reports the addressable bit count.
func (b *Bitmap) Bits() int { return b.nbits }

// Chunks reports the number of 512-bit chunks backing the bitmap.
func (b *Bitmap) Chunks() int { return len(b.chunks) }

func (b *Bitmap) chunkOf(i int) (chunkIdx, localIdx int) {
	return i / ChunkBits, i % ChunkBits
}

func (b *Bitmap) markChunkMaybeSet(chunkIdx int) {
	cm := &b.chunkmaps[chunkIdx/ChunkBits]
	local := chunkIdx % ChunkBits
	cm.setN(local, 1)
}

// maybeClearChunkHint clears the chunkmap bit for chunkIdx only if the
// chunk is confirmed all-zero at the time of the check; a concurrent
// setter can still race in right after, which is the permitted
// false-positive (never a false-negative).
func (b *Bitmap) maybeClearChunkHint(chunkIdx int) {
	if !b.chunks[chunkIdx].isZero() {
		return
	}
	cm := &b.chunkmaps[chunkIdx/ChunkBits]
	local := chunkIdx % ChunkBits
	cm.clearN(local, 1)
}

// Set sets bit i and reports whether it transitioned from clear to set.
func (b *Bitmap) Set(i int) bool {
	ci, li := b.chunkOf(i)
	already := b.chunks[ci].setN(li, 1)
	b.markChunkMaybeSet(ci)
	return already == 0
}

// Clear clears bit i and reports whether it transitioned from set to clear.
func (b *Bitmap) Clear(i int) bool {
	ci, li := b.chunkOf(i)
	wasSet := b.chunks[ci].isSetN(li, 1)
	b.chunks[ci].clearN(li, 1)
	b.maybeClearChunkHint(ci)
	return wasSet
}

// SetN sets a run of n bits starting at i (must fit in one chunk) and
// reports how many of those bits were already set.
func (b *Bitmap) SetN(i, n int) (alreadySet int) {
	ci, li := b.chunkOf(i)
	alreadySet = b.chunks[ci].setN(li, n)
	b.markChunkMaybeSet(ci)
	return alreadySet
}

// ClearN clears a run of n bits starting at i (must fit in one chunk).
func (b *Bitmap) ClearN(i, n int) {
	ci, li := b.chunkOf(i)
	b.chunks[ci].clearN(li, n)
	b.maybeClearChunkHint(ci)
}

// TryClearN clears the run only if every bit was set; it reports whether
// the clear happened.
func (b *Bitmap) TryClearN(i, n int) bool {
	ci, li := b.chunkOf(i)
	ok := b.chunks[ci].tryClearN(li, n)
	if ok {
		b.maybeClearChunkHint(ci)
	}
	return ok
}

// IsSetN reports whether every bit in [i, i+n) is set.
func (b *Bitmap) IsSetN(i, n int) bool {
	ci, li := b.chunkOf(i)
	return b.chunks[ci].isSetN(li, n)
}

// IsClearN reports whether every bit in [i, i+n) is clear.
func (b *Bitmap) IsClearN(i, n int) bool {
	ci, li := b.chunkOf(i)
	return b.chunks[ci].isClearN(li, n)
}

// PopcountN counts the set bits in [i, i+n).
func (b *Bitmap) PopcountN(i, n int) int {
	ci, li := b.chunkOf(i)
	return b.chunks[ci].popcountN(li, n)
}

// TryFindAndClearN finds any run of n set bits within one chunk and
// atomically clears it, scanning chunks in tseq-rotated order via the
// chunkmap hint. It reports the global start index on success.
func (b *Bitmap) TryFindAndClearN(n int, tseq uint64) (idx int, ok bool) {
	if n <= 0 || n > ChunkBits {
		return 0, false
	}
	nchunks := len(b.chunks)
	if nchunks == 0 {
		return 0, false
	}
	start := int(tseq % uint64(nchunks))
	for k := 0; k < nchunks; k++ {
		ci := (start + k) % nchunks
		if !b.chunkHintSet(ci) {
			continue
		}
		if li, found := b.chunks[ci].tryFindAndClearN(n, tseq); found {
			b.maybeClearChunkHint(ci)
			return ci*ChunkBits + li, true
		}
	}
	return 0, false
}

func (b *Bitmap) chunkHintSet(chunkIdx int) bool {
	cm := &b.chunkmaps[chunkIdx/ChunkBits]
	local := chunkIdx % ChunkBits
	return cm.isSetN(local, 1)
}

// ClearOnceSet busy-waits until bit i is observed set, then atomically
// clears it. It is the only blocking primitive in the bitmap.
func (b *Bitmap) ClearOnceSet(i int) {
	ci, li := b.chunkOf(i)
	for {
		if b.chunks[ci].tryClearN(li, 1) {
			b.maybeClearChunkHint(ci)
			return
		}
		yield()
	}
}

// ForallSet visits every set bit exactly once, clearing and re-setting
// around the visit so concurrent readers never observe a torn state.
func (b *Bitmap) ForallSet(visit func(idx int) bool) {
	for ci := range b.chunks {
		if !b.chunkHintSet(ci) {
			continue
		}
		snap := b.chunks[ci].load()
		for li := 0; li < ChunkBits; li++ {
			if snap[li/WordBits]&(uint64(1)<<uint(li%WordBits)) == 0 {
				continue
			}
			idx := ci*ChunkBits + li
			if !b.chunks[ci].tryClearN(li, 1) {
				continue
			}
			keep := visit(idx)
			if keep {
				b.chunks[ci].setN(li, 1)
				b.markChunkMaybeSet(ci)
			} else {
				b.maybeClearChunkHint(ci)
			}
		}
	}
}

// ForallSetcRanges visits maximal contiguous ranges of set bits that are
// at least minslices long, reporting (start, length) pairs.
func (b *Bitmap) ForallSetcRanges(minslices int, visit func(start, n int) bool) {
	if minslices <= 0 {
		minslices = 1
	}
	n := b.nbits
	i := 0
	for i < n {
		if !b.IsSetAt(i) {
			i++
			continue
		}
		start := i
		for i < n && b.IsSetAt(i) {
			i++
		}
		if length := i - start; length >= minslices {
			visit(start, length)
		}
	}
}

// IsSetAt reports whether a single bit is set.
func (b *Bitmap) IsSetAt(i int) bool {
	ci, li := b.chunkOf(i)
	return b.chunks[ci].isSetN(li, 1)
}

// ClaimFunc decides whether a bit found by TryFindAndClaim should stay
// cleared (return true) or be restored (return false).
type ClaimFunc func(idx int) bool

// TryFindAndClaim finds a set bit, clears it, and calls claim; if claim
// returns false the bit is reset.
func (b *Bitmap) TryFindAndClaim(tseq uint64, claim ClaimFunc) (idx int, ok bool) {
	nchunks := len(b.chunks)
	if nchunks == 0 {
		return 0, false
	}
	start := int(tseq % uint64(nchunks))
	for k := 0; k < nchunks; k++ {
		ci := (start + k) % nchunks
		if !b.chunkHintSet(ci) {
			continue
		}
		snap := b.chunks[ci].load()
		for li := 0; li < ChunkBits; li++ {
			if snap[li/WordBits]&(uint64(1)<<uint(li%WordBits)) == 0 {
				continue
			}
			if !b.chunks[ci].tryClearN(li, 1) {
				continue
			}
			gidx := ci*ChunkBits + li
			if claim(gidx) {
				b.maybeClearChunkHint(ci)
				return gidx, true
			}
			b.chunks[ci].setN(li, 1)
			b.markChunkMaybeSet(ci)
		}
	}
	return 0, false
}
