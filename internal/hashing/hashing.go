// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package hashing provides the seeded hash functions used to place keys
// into cuckoo buckets.  Hashes are computed over the canonical serialized
// bytes of a key, never over an in-memory representation, so a given key
// hashes identically across processes, architectures and Go versions.
package hashing

import (
	"fmt"

	"github.com/dgryski/go-farm"
	"github.com/spaolacci/murmur3"
)

// Family identifies a keyed hash algorithm.  The family used to build a
// table is recorded in the file so readers hash keys the same way.
type Family uint8

const (
	Farm64 Family = iota
	Murmur3
)

const (
	farm64Name  = "farm64"
	murmur3Name = "murmur3"
)

// Hasher is a single member of a hash family, fixed to one parameter.
type Hasher interface {
	Hash(key []byte) uint64
}

type farmHasher uint64

func (h farmHasher) Hash(key []byte) uint64 {
	return farm.Hash64WithSeed(key, uint64(h))
}

type murmurHasher uint32

func (h murmurHasher) Hash(key []byte) uint64 {
	return murmur3.Sum64WithSeed(key, uint32(h))
}

// New returns the member of the family selected by param.
func (f Family) New(param uint64) Hasher {
	switch f {
	case Murmur3:
		return murmurHasher(uint32(param))
	default:
		return farmHasher(param)
	}
}

// NewN returns n hashers with the distinct parameters 1..n.
func (f Family) NewN(n int) []Hasher {
	hashers := make([]Hasher, n)
	for i := range hashers {
		hashers[i] = f.New(uint64(i + 1))
	}
	return hashers
}

func (f Family) String() string {
	switch f {
	case Farm64:
		return farm64Name
	case Murmur3:
		return murmur3Name
	default:
		return fmt.Sprintf("Family(%d)", uint8(f))
	}
}

// ParseFamily maps a family name as stored in file metadata back to a
// Family.  The empty string means the default, Farm64.
func ParseFamily(name string) (Family, error) {
	switch name {
	case "", farm64Name:
		return Farm64, nil
	case murmur3Name:
		return Murmur3, nil
	default:
		return 0, fmt.Errorf("unknown hash family %q", name)
	}
}
