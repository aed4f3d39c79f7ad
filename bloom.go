// ═══════════════════════════════════════════════════════════════════════════════
// TERM MEMBERSHIP FILTER
// ═══════════════════════════════════════════════════════════════════════════════
// Before a query term touches a partition's vocabulary it passes through a
// membership filter. Most terms of a multi-word query are absent from most
// partitions, and the filter answers "definitely absent" for nearly all of
// them without a vocabulary probe or posting decode.
//
// STRUCTURE:
// ----------
// A classical Bloom filter: a bit array of m bits, k probe positions per
// term. The k positions are derived from two 64-bit xxhash bases by double
// hashing:
//
//	position_i = (h1 + i·h2) mod m        i = 0..k-1
//
// Insert sets all k bits; a test reads them back. One clear bit proves the
// term was never inserted; all bits set means "possibly present" (false
// positives happen at roughly the configured rate, false negatives never).
//
// SIZING:
// -------
// For n inserted terms and target false-positive rate p:
//
//	m = ceil(-n·ln(p) / ln(2)²)       bits
//	k = round((m/n)·ln(2))            probes
//
// THE COMMON-TERM SIDE SET:
// -------------------------
// Only "rare" terms (corpus df ≤ BloomDFThreshold) enter the bit array; the
// few high-df terms that remain after max-df pruning go into an exact side
// set instead. mayContain consults both, so no indexed term can ever be
// reported absent: the filter only shrinks, never lies.
// ═══════════════════════════════════════════════════════════════════════════════

package ember

import (
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// bloomSeed salts the second hash base so h1 and h2 are independent.
var bloomSeed = []byte{0xe5, 0x1a, 0xb9, 0x2f, 0x44, 0x83, 0xc7, 0x60}

type termFilter struct {
	bits   *bitset.BitSet
	m      uint64
	k      uint32
	common map[string]struct{} // terms tracked exactly, not in the bit array
}

// newTermFilter sizes a filter for n rare terms at false-positive rate fpr.
func newTermFilter(n uint64, fpr float64) *termFilter {
	if n == 0 {
		n = 1
	}
	m := uint64(math.Ceil(-float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2)))
	if m == 0 {
		m = 1
	}
	k := uint32(math.Round(float64(m) / float64(n) * math.Ln2))
	if k == 0 {
		k = 1
	}
	return &termFilter{
		bits:   bitset.New(uint(m)),
		m:      m,
		k:      k,
		common: make(map[string]struct{}),
	}
}

// hashBases derives the two 64-bit bases for double hashing. The second is
// forced odd so the probe stride never collapses to zero.
func hashBases(term string) (uint64, uint64) {
	h1 := xxhash.Sum64String(term)
	d := xxhash.New()
	d.Write(bloomSeed)
	d.WriteString(term)
	h2 := d.Sum64() | 1
	return h1, h2
}

// add inserts a rare term into the bit array.
func (f *termFilter) add(term string) {
	h1, h2 := hashBases(term)
	for i := uint64(0); i < uint64(f.k); i++ {
		f.bits.Set(uint((h1 + i*h2) % f.m))
	}
}

// addCommon records a high-df term in the exact side set.
func (f *termFilter) addCommon(term string) {
	f.common[term] = struct{}{}
}

// mayContain reports whether the term could be present in this partition.
// A false return is definitive; a true return must be confirmed against the
// vocabulary. Reads are lock-free: the frozen filter is never mutated.
func (f *termFilter) mayContain(term string) bool {
	if _, ok := f.common[term]; ok {
		return true
	}
	h1, h2 := hashBases(term)
	for i := uint64(0); i < uint64(f.k); i++ {
		if !f.bits.Test(uint((h1 + i*h2) % f.m)) {
			return false
		}
	}
	return true
}
