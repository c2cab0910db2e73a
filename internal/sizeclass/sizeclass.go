// Package sizeclass implements the allocator's size-class bin schedule
// (spec §4.4) and the supplemented good_size canonicalization
// (original_source/src/alloc.c, mimalloc.h): tiny exact words, then a
// pseudo-logarithmic schedule of quarter-subdivided powers of two, up
// to the large-object threshold.
package sizeclass

const (
	// WordSize is the allocator's minimum alignment/granularity unit.
	WordSize = 8
	// SmallMax is the largest size served via the thread-heap's dense
	// direct-lookup array (spec §4.4).
	SmallMax = 1024
	// MediumMax is the upper bound of the medium size range; sizes above
	// it, up to LargeMax, are still served by multi-block bin pages.
	MediumMax = 512 * 1024
	// LargeMax is the largest size handled by the large-object path
	// before falling to a singleton huge page sized to exactly fit.
	LargeMax = 2 * 1024 * 1024

	tinyBins = 8 // exact-word bins: 8, 16, 24, ..., 64 bytes
)

// bins holds the canonical block size for every bin, built once at
// package init. Bin 0 is unused (sizes start at one word).
var bins []uint64

func init() {
	bins = buildBins()
}

// buildBins generates the 68-bin schedule: tinyBins exact-word bins,
// then each power-of-two octave subdivided into quarters up to LargeMax.
func buildBins() []uint64 {
	b := make([]uint64, 0, 80)
	b = append(b, 0) // bin 0 sentinel, never addressed
	for i := 1; i <= tinyBins; i++ {
		b = append(b, uint64(i*WordSize))
	}
	last := b[len(b)-1]
	for last < uint64(LargeMax) {
		base := last
		// next octave's four quarter-points: base*5/4, *6/4, *7/4, *8/4
		for q := 5; q <= 8; q++ {
			v := base * uint64(q) / 4
			v = alignUp(v, WordSize)
			if v <= last {
				v = last + WordSize
			}
			b = append(b, v)
			last = v
			if last >= uint64(LargeMax) {
				break
			}
		}
	}
	return b
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// BinCount reports the number of addressable bins (excluding the
// sentinel bin 0).
func BinCount() int { return len(bins) - 1 }

// BinSize returns the canonical block size served by bin (1-indexed).
func BinSize(bin int) uint64 {
	if bin <= 0 || bin >= len(bins) {
		return 0
	}
	return bins[bin]
}

// BinFor maps a requested size (already including any header/alignment
// padding) to the smallest bin whose canonical size is >= size. It
// returns 0 (and false) if size exceeds every bin, meaning the request
// belongs to the singleton/huge path instead.
func BinFor(size uint64) (bin int, ok bool) {
	if size == 0 {
		size = 1
	}
	lo, hi := 1, len(bins)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if bins[mid] >= size {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if bins[lo] >= size {
		return lo, true
	}
	return 0, false
}

// GoodSize rounds size up to the canonical representative of its bin —
// the quantum at which realloc can claim "still fits, no copy" (spec
// §4.4). Sizes beyond every bin round up to the nearest page-size
// multiple instead.
func GoodSize(size uint64) uint64 {
	if bin, ok := BinFor(size); ok {
		return BinSize(bin)
	}
	const pageSize = 64 * 1024
	return alignUp(size, pageSize)
}

// IsSmall reports whether size qualifies for the thread-heap's dense
// direct-lookup fast path.
func IsSmall(size uint64) bool { return size <= SmallMax }

// IsSingleton reports whether size is large enough that it must be
// served by a dedicated one-block (reserved == 1) page.
func IsSingleton(size uint64) bool { return size > LargeMax }
