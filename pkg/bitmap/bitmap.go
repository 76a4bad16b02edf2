// Copyright 2026 The rvkernel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bitmap provides a fixed-size bitmap used to track page frames.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a fixed-size set of bits. The zero value is an empty bitmap of
// size zero.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// size is the number of usable bits. Bits at and above size in the last
	// block are never set.
	size uint32

	// bitBlock holds the bits, 64 per block.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// Size returns the number of bits in the bitmap.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// GetNumOnes returns the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

// IsSet returns true if bit i is set.
func (b *Bitmap) IsSet(i uint32) bool {
	if i >= b.size {
		return false
	}
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets bit i. It panics if i is out of range.
func (b *Bitmap) Add(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.size))
	}
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if old := b.bitBlock[blockNum]; old&mask == 0 {
		b.bitBlock[blockNum] = old | mask
		b.numOnes++
	}
}

// Remove clears bit i. It panics if i is out of range.
func (b *Bitmap) Remove(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.size))
	}
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if old := b.bitBlock[blockNum]; old&mask != 0 {
		b.bitBlock[blockNum] = old &^ mask
		b.numOnes--
	}
}

// AddRange sets bits within [begin, end).
func (b *Bitmap) AddRange(begin, end uint32) {
	for i := begin; i < end; i++ {
		b.Add(i)
	}
}

// ClearRange clears bits within [begin, end).
func (b *Bitmap) ClearRange(begin, end uint32) {
	for i := begin; i < end; i++ {
		b.Remove(i)
	}
}

// FirstZero returns the first unset bit from the range [start, size).
func (b *Bitmap) FirstZero(start uint32) (bit uint32, err error) {
	if start >= b.size {
		return 0, fmt.Errorf("given start of range exceeds bitmap size")
	}
	i, nbit := int(start/64), start%64
	w := b.bitBlock[i] | ((1 << nbit) - 1)
	for {
		if w != ^uint64(0) {
			if r := uint32(bits.TrailingZeros64(^w) + i*64); r < b.size {
				return r, nil
			}
			break
		}
		i++
		if i == len(b.bitBlock) {
			break
		}
		w = b.bitBlock[i]
	}
	return 0, fmt.Errorf("bitmap has no unset bits")
}

// ZeroRun returns the first bit of the lowest run of n consecutive unset bits
// at or after start.
func (b *Bitmap) ZeroRun(start, n uint32) (uint32, error) {
	if n == 0 {
		return 0, fmt.Errorf("empty run requested")
	}
	for start < b.size {
		first, err := b.FirstZero(start)
		if err != nil {
			return 0, err
		}
		if first+n > b.size || first+n < first {
			break
		}
		run := uint32(1)
		for run < n && !b.IsSet(first+run) {
			run++
		}
		if run == n {
			return first, nil
		}
		start = first + run
	}
	return 0, fmt.Errorf("bitmap has no run of %d unset bits", n)
}

// ToSlice returns the set bits in ascending order. For example, a bitmap of
// [0, 1, 0, 1] returns [1, 3].
func (b *Bitmap) ToSlice() []uint32 {
	out := make([]uint32, 0, b.numOnes)
	for i, block := range b.bitBlock {
		for block != 0 {
			j := block & -block
			out = append(out, uint32(i*64+bits.TrailingZeros64(j)))
			block ^= j
		}
	}
	return out
}
