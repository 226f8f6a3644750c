// Package bloomfilter
//
// (C) Copyright Alex Gaetano Padula
//
// Licensed under the Mozilla Public License, v. 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.mozilla.org/en-US/MPL/2.0/
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package bloomfilter

import (
	"math"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// BloomFilter is a concurrent Bloom filter.  Add and Contains may run from
// any number of goroutines.
type BloomFilter struct {
	bitset    []atomic.Uint64 // Bits, 64 per word
	size      uint64          // Number of bits
	hashCount uint64          // Number of bit positions per item
	added     atomic.Uint64   // Items added so far
}

// New creates a filter sized for expectedItems at falsePositiveRate
func New(expectedItems uint, falsePositiveRate float64) (*BloomFilter, error) {
	if expectedItems == 0 {
		return nil, errors.New("expectedItems must be greater than 0")
	}

	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return nil, errors.New("falsePositiveRate must be between 0 and 1")
	}

	size := optimalSize(expectedItems, falsePositiveRate)
	if falsePositiveRate < 0.01 {
		// Add 20% extra space for very low FPR targets
		size = uint(float64(size) * 1.2)
	}

	// Odd sizes spread the double hashing positions better
	size = nextOddNumber(size)

	return &BloomFilter{
		bitset:    make([]atomic.Uint64, (size+63)/64),
		size:      uint64(size),
		hashCount: uint64(optimalHashCount(size, expectedItems)),
	}, nil
}

// Add adds an item to the filter
func (bf *BloomFilter) Add(data []byte) {
	h1, h2 := hashes(data)
	for i := uint64(0); i < bf.hashCount; i++ {
		pos := (h1 + i*h2) % bf.size
		word := &bf.bitset[pos/64]
		mask := uint64(1) << (pos % 64)
		for {
			old := word.Load()
			if old&mask != 0 || word.CompareAndSwap(old, old|mask) {
				break
			}
		}
	}
	bf.added.Add(1)
}

// Contains reports whether data might have been added.  False is definite.
func (bf *BloomFilter) Contains(data []byte) bool {
	h1, h2 := hashes(data)
	for i := uint64(0); i < bf.hashCount; i++ {
		pos := (h1 + i*h2) % bf.size
		if bf.bitset[pos/64].Load()&(uint64(1)<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Size returns the number of bits in the filter
func (bf *BloomFilter) Size() uint64 {
	return bf.size
}

// HashCount returns the number of bit positions per item
func (bf *BloomFilter) HashCount() uint64 {
	return bf.hashCount
}

// Added returns how many items were added
func (bf *BloomFilter) Added() uint64 {
	return bf.added.Load()
}

// hashes derives the two double hashing bases from one xxhash, h2 is odd
func hashes(data []byte) (uint64, uint64) {
	h1 := xxhash.Sum64(data)

	// fmix64 finalizer
	h2 := h1
	h2 ^= h2 >> 33
	h2 *= 0xff51afd7ed558ccd
	h2 ^= h2 >> 33
	h2 *= 0xc4ceb9fe1a85ec53
	h2 ^= h2 >> 33

	return h1, h2 | 1
}

// optimalSize calculates the optimal size of the bit array
func optimalSize(n uint, p float64) uint {
	return uint(math.Ceil(-float64(n) * math.Log(p) / math.Pow(math.Log(2), 2)))
}

// optimalHashCount calculates the optimal number of hash functions
func optimalHashCount(size uint, n uint) uint {
	return uint(math.Ceil(float64(size) / float64(n) * math.Log(2)))
}

// nextOddNumber returns the next odd number >= n
func nextOddNumber(n uint) uint {
	if n%2 == 0 {
		return n + 1
	}
	return n
}

// TheoreticalFPP returns the false positive probability after itemsAdded items
func (bf *BloomFilter) TheoreticalFPP(itemsAdded uint64) float64 {
	if itemsAdded == 0 {
		return 0.0
	}

	// (1 - e^(-kn/m))^k
	k := float64(bf.hashCount)
	m := float64(bf.size)
	n := float64(itemsAdded)

	return math.Pow(1.0-math.Exp(-k*n/m), k)
}
