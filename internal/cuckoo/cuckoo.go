// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package cuckoo implements a static, bucketized cuckoo hash table
// mapping fixed-width byte keys to value locators.
//
// The table has NumBuckets buckets of BucketSize slots each.  A key may
// live in any slot of the buckets chosen by its HasherCount hash
// functions, so a lookup probes at most HasherCount*BucketSize slots no
// matter how large the table is.
package cuckoo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/bpowers/ikvblob/internal/bitset"
	"github.com/bpowers/ikvblob/internal/hashing"
)

const (
	DefaultRatio            = 1.5
	DefaultBucketSize       = 2
	DefaultHasherCount      = 2
	DefaultMaxDisplacements = 1000

	// MaxHasherCount bounds the number of hash functions, and so the
	// number of buckets a lookup probes.
	MaxHasherCount = 64
)

// ErrCollisionBoundExceeded is returned (wrapped in a *CollisionError)
// when a key could not be placed within the displacement bound.  Building
// again with a larger ratio or more hashers usually succeeds.
var ErrCollisionBoundExceeded = errors.New("cuckoo: displacement bound exceeded")

// CollisionError describes a failed insert.
type CollisionError struct {
	Key           []byte
	Displacements int
	// Inserted is the number of entries placed before the failure.
	Inserted int
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("cuckoo: key %x not placed after %d displacements (%d entries inserted); retry with a higher ratio or more hashers",
		e.Key, e.Displacements, e.Inserted)
}

func (e *CollisionError) Unwrap() error {
	return ErrCollisionBoundExceeded
}

// Locator addresses a value inside the value blob.
type Locator struct {
	Offset uint64
	Length uint64
}

// Entry is a key and the locator of its value.
type Entry struct {
	Key     []byte
	Locator Locator
}

// Params configures a table.  Zero fields take the package defaults,
// except KeySize which is required.
type Params struct {
	KeySize          int
	BucketSize       int
	HasherCount      int
	Ratio            float64
	MaxDisplacements int
	Family           hashing.Family
	Logger           *slog.Logger
}

func (p Params) withDefaults() Params {
	if p.BucketSize == 0 {
		p.BucketSize = DefaultBucketSize
	}
	if p.HasherCount == 0 {
		p.HasherCount = DefaultHasherCount
	}
	if p.Ratio == 0 {
		p.Ratio = DefaultRatio
	}
	if p.MaxDisplacements == 0 {
		p.MaxDisplacements = DefaultMaxDisplacements
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p
}

func (p Params) validate() error {
	switch {
	case p.KeySize <= 0:
		return fmt.Errorf("cuckoo: key size must be positive (got %d)", p.KeySize)
	case p.BucketSize < 0 || p.HasherCount < 0 || p.MaxDisplacements < 0:
		return errors.New("cuckoo: negative bucket size, hasher count or displacement bound")
	case p.HasherCount > MaxHasherCount:
		return fmt.Errorf("cuckoo: %d hashers exceeds the maximum of %d", p.HasherCount, MaxHasherCount)
	case p.Ratio < 0 || math.IsNaN(p.Ratio) || math.IsInf(p.Ratio, 0):
		return fmt.Errorf("cuckoo: invalid ratio %v", p.Ratio)
	}
	return nil
}

// NumBuckets returns ceil(ratio*n/bucketSize), and never less than one
// bucket so that lookups in a table built from no entries are well defined.
func NumBuckets(n int, ratio float64, bucketSize int) uint64 {
	buckets := uint64(math.Ceil(ratio * float64(n) / float64(bucketSize)))
	if buckets == 0 {
		buckets = 1
	}
	return buckets
}

// Table is a static cuckoo hash table.  It is built once and then only
// read; reads are safe for concurrent use.
type Table struct {
	keySize          int
	bucketSize       int
	numBuckets       uint64
	maxDisplacements int
	hashers          []hashing.Hasher

	keys     []byte // numBuckets*bucketSize keys of keySize bytes
	locators []Locator
	occupied *bitset.Bitset

	scratch [2][]byte
	logger  *slog.Logger
}

// New allocates an empty table sized for n entries.
func New(n int, p Params) (*Table, error) {
	if n < 0 {
		return nil, fmt.Errorf("cuckoo: negative entry count %d", n)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p = p.withDefaults()

	numBuckets := NumBuckets(n, p.Ratio, p.BucketSize)
	slots := numBuckets * uint64(p.BucketSize)
	if slots > math.MaxInt/uint64(p.KeySize) {
		return nil, fmt.Errorf("cuckoo: table of %d slots too large", slots)
	}

	return &Table{
		keySize:          p.KeySize,
		bucketSize:       p.BucketSize,
		numBuckets:       numBuckets,
		maxDisplacements: p.MaxDisplacements,
		hashers:          p.Family.NewN(p.HasherCount),
		keys:             make([]byte, slots*uint64(p.KeySize)),
		locators:         make([]Locator, slots),
		occupied:         bitset.New(slots),
		scratch:          [2][]byte{make([]byte, p.KeySize), make([]byte, p.KeySize)},
		logger:           p.Logger,
	}, nil
}

// Build builds a Table from entries, in order.  A key that appears more
// than once keeps the locator of its last occurrence.
func Build(entries []Entry, p Params) (*Table, error) {
	t, err := New(len(entries), p)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		if i > 0 && i%1000000 == 0 {
			t.logger.Debug("cuckoo insert progress", "entries", i)
		}
		if err := t.Insert(e.Key, e.Locator); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) KeySize() int       { return t.keySize }
func (t *Table) BucketSize() int    { return t.bucketSize }
func (t *Table) HasherCount() int   { return len(t.hashers) }
func (t *Table) NumBuckets() uint64 { return t.numBuckets }

// Len returns the number of occupied slots.
func (t *Table) Len() int {
	return int(t.occupied.Count())
}

// BucketIndex returns the bucket hasher h assigns to key.
func (t *Table) BucketIndex(h int, key []byte) uint64 {
	return t.hashers[h].Hash(key) % t.numBuckets
}

func (t *Table) keyAt(slot uint64) []byte {
	off := slot * uint64(t.keySize)
	return t.keys[off : off+uint64(t.keySize)]
}

// Slot returns the contents of slot i of bucket b.  ok is false for an
// empty slot.
func (t *Table) Slot(b uint64, i int) (key []byte, loc Locator, ok bool) {
	slot := b*uint64(t.bucketSize) + uint64(i)
	if !t.occupied.IsSet(slot) {
		return nil, Locator{}, false
	}
	return t.keyAt(slot), t.locators[slot], true
}

func (t *Table) find(key []byte) (uint64, bool) {
	for h := range t.hashers {
		start := t.BucketIndex(h, key) * uint64(t.bucketSize)
		for slot := start; slot < start+uint64(t.bucketSize); slot++ {
			if t.occupied.IsSet(slot) && bytes.Equal(t.keyAt(slot), key) {
				return slot, true
			}
		}
	}
	return 0, false
}

// Lookup returns the locator stored for key.  Every hasher is tried, as
// displacement may have moved an entry into any of its eligible buckets.
func (t *Table) Lookup(key []byte) (Locator, bool) {
	if len(key) != t.keySize {
		return Locator{}, false
	}
	slot, ok := t.find(key)
	if !ok {
		return Locator{}, false
	}
	return t.locators[slot], true
}

func (t *Table) emptySlot(b uint64) (uint64, bool) {
	start := b * uint64(t.bucketSize)
	for slot := start; slot < start+uint64(t.bucketSize); slot++ {
		if !t.occupied.IsSet(slot) {
			return slot, true
		}
	}
	return 0, false
}

func (t *Table) place(slot uint64, key []byte, loc Locator) {
	copy(t.keyAt(slot), key)
	t.locators[slot] = loc
	t.occupied.Set(slot)
}

// Insert adds key to the table, overwriting the locator if key is
// already present.  Insert is not safe for concurrent use.
func (t *Table) Insert(key []byte, loc Locator) error {
	if len(key) != t.keySize {
		return fmt.Errorf("cuckoo: key of %d bytes, table holds %d-byte keys", len(key), t.keySize)
	}
	if slot, ok := t.find(key); ok {
		t.locators[slot] = loc
		return nil
	}

	cur, spare := t.scratch[0], t.scratch[1]
	copy(cur, key)
	curLoc := loc

	// slot choice is pseudo-random but seeded from the key, so building
	// from the same input always produces the same file.
	rng := splitmix64(t.hashers[0].Hash(key))
	from := t.numBuckets // no bucket
	next := 0

	for i := 0; ; i++ {
		for h := range t.hashers {
			if slot, ok := t.emptySlot(t.BucketIndex(h, cur)); ok {
				t.place(slot, cur, curLoc)
				return nil
			}
		}

		if i >= t.maxDisplacements {
			return &CollisionError{
				Key:           append([]byte(nil), key...),
				Displacements: i,
				Inserted:      t.Len(),
			}
		}

		// rotate through the hashers, skipping the bucket the current
		// item was just evicted from when it has an alternative.
		var b uint64
		for tries := 0; tries < len(t.hashers); tries++ {
			b = t.BucketIndex(next, cur)
			next = (next + 1) % len(t.hashers)
			if b != from {
				break
			}
		}
		slot := b*uint64(t.bucketSize) + rng.next()%uint64(t.bucketSize)

		copy(spare, t.keyAt(slot))
		evictedLoc := t.locators[slot]
		t.place(slot, cur, curLoc)
		cur, spare = spare, cur
		curLoc = evictedLoc
		from = b
	}
}

type splitmix64 uint64

func (s *splitmix64) next() uint64 {
	*s += 0x9e3779b97f4a7c15
	z := uint64(*s)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
