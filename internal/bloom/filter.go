// Package bloom provides a bloom filter over sensor identifiers so a query
// for one sensor can skip partitions that never saw it.
package bloom

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// DefaultFPR is the target false positive rate for per-partition filters.
const DefaultFPR = 0.01

// Filter is a fixed-size bloom filter. It is built once and then only read,
// so it carries no lock.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     int
}

// New creates an empty filter sized for expected items at the target
// false positive rate.
func New(expected int, fpr float64) *Filter {
	numBits, numHashes := OptimalParameters(expected, fpr)
	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// FromSensors builds a filter containing every given sensor ID.
func FromSensors(ids []string, fpr float64) *Filter {
	f := New(len(ids), fpr)
	for _, id := range ids {
		f.Add(id)
	}
	return f
}

// OptimalParameters returns the bit and hash counts for n items at rate p:
// m = -n*ln(p)/ln(2)^2, k = (m/n)*ln(2).
func OptimalParameters(expected int, fpr float64) (numBits, numHashes int) {
	if expected <= 0 {
		expected = 1
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = DefaultFPR
	}

	n := float64(expected)
	m := -n * math.Log(fpr) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add inserts a sensor ID.
func (f *Filter) Add(id string) {
	h1, h2 := murmur3.Sum128([]byte(id))
	for i := uint64(0); i < f.numHashes; i++ {
		// Double hashing: h(i) = h1 + i*h2
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MayContain reports whether id might have been added. A false result is
// definitive.
func (f *Filter) MayContain(id string) bool {
	h1, h2 := murmur3.Sum128([]byte(id))
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of IDs added.
func (f *Filter) Count() int {
	return f.count
}

// NumBits returns the number of bits in the filter.
func (f *Filter) NumBits() int {
	return int(f.numBits)
}

// NumHashes returns the number of hash functions used.
func (f *Filter) NumHashes() int {
	return int(f.numHashes)
}

// FalsePositiveRate estimates the current rate as (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
