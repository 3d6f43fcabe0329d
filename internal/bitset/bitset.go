// Copyright 2021 The ikvblob Authors and Caleb Spare. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bitset tracks which slots of a cuckoo table are occupied.
package bitset

// Bitset is an in-memory bitmap that is conceptually similar to []bool, but more memory efficient.
type Bitset struct {
	words  []uint64
	length uint64
	count  uint64
}

func offsets(off uint64) (word uint64, mask uint64) {
	return off / 64, 1 << (off % 64)
}

// Set sets the bit at position `off` to 1.  Out of range positions are ignored.
func (b *Bitset) Set(off uint64) {
	if off >= b.length {
		return
	}
	w, mask := offsets(off)
	if b.words[w]&mask == 0 {
		b.words[w] |= mask
		b.count++
	}
}

// IsSet returns true if the bit at position `off` is 1.
func (b *Bitset) IsSet(off uint64) bool {
	if off >= b.length {
		return false
	}
	w, mask := offsets(off)
	return b.words[w]&mask != 0
}

// Len is the number of addressable bits.
func (b *Bitset) Len() uint64 {
	return b.length
}

// Count is the number of bits currently set.
func (b *Bitset) Count() uint64 {
	return b.count
}

// New returns a new in-memory bitset where you can set, clear and test for individual bits.
func New(length uint64) *Bitset {
	return &Bitset{
		words:  make([]uint64, (length+63)/64),
		length: length,
	}
}
