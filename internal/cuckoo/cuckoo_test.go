// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package cuckoo

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/ikvblob/internal/hashing"
)

const testKeySize = 33

func randomKeys(rng *rand.Rand, n int) [][]byte {
	seen := make(map[string]struct{}, n)
	keys := make([][]byte, 0, n)
	for len(keys) < n {
		k := make([]byte, testKeySize)
		_, _ = rng.Read(k[:testKeySize-1])
		k[testKeySize-1] = 1
		if _, ok := seen[string(k)]; ok {
			continue
		}
		seen[string(k)] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func testTable(t *testing.T, keys [][]byte, extra [][]byte, p Params) *Table {
	entries := make([]Entry, len(keys))
	for i, key := range keys {
		entries[i] = Entry{Key: key, Locator: Locator{Offset: uint64(i) * 16, Length: 16}}
	}
	table, err := Build(entries, p)
	require.NoError(t, err)
	require.Equal(t, len(keys), table.Len())

	for i, key := range keys {
		loc, ok := table.Lookup(key)
		require.True(t, ok, "Lookup(%x)", key)
		require.Equal(t, uint64(i)*16, loc.Offset)
	}
	for _, key := range extra {
		_, ok := table.Lookup(key)
		require.False(t, ok, "Lookup(%x) for key not in table", key)
	}
	return table
}

func TestBuild_simple(t *testing.T) {
	t.Parallel()

	keys := make([][]byte, 4)
	for i := range keys {
		keys[i] = make([]byte, testKeySize)
		keys[i][0] = byte(i)
		keys[i][testKeySize-1] = 1
	}
	extra := [][]byte{make([]byte, testKeySize)}
	testTable(t, keys, extra, Params{KeySize: testKeySize})
}

func TestBuild_roundTrip(t *testing.T) {
	t.Parallel()

	for _, testcase := range []struct {
		n      int
		ratio  float64
		family hashing.Family
	}{
		{0, 1.5, hashing.Farm64},
		{1, 1.5, hashing.Farm64},
		{1000, 1.5, hashing.Farm64},
		{20000, 1.5, hashing.Farm64},
		{5000, 1.2, hashing.Farm64},
		{5000, 1.5, hashing.Murmur3},
	} {
		rng := rand.New(rand.NewSource(int64(testcase.n)))
		all := randomKeys(rng, testcase.n+1000)
		testTable(t, all[:testcase.n], all[testcase.n:], Params{
			KeySize:     testKeySize,
			BucketSize:  2,
			HasherCount: 2,
			Ratio:       testcase.ratio,
			Family:      testcase.family,
		})
	}
}

func TestBuild_duplicateKeys(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	keys := randomKeys(rng, 100)
	var entries []Entry
	for i, k := range keys {
		entries = append(entries, Entry{Key: k, Locator: Locator{Offset: uint64(i), Length: 1}})
	}
	dup := keys[42]
	entries = append(entries, Entry{Key: dup, Locator: Locator{Offset: 9999, Length: 7}})

	table, err := Build(entries, Params{KeySize: testKeySize})
	require.NoError(t, err)
	require.Equal(t, len(keys), table.Len())

	loc, ok := table.Lookup(dup)
	require.True(t, ok)
	assert.Equal(t, Locator{Offset: 9999, Length: 7}, loc)

	occurrences := 0
	for b := uint64(0); b < table.NumBuckets(); b++ {
		for i := 0; i < table.BucketSize(); i++ {
			if k, _, ok := table.Slot(b, i); ok && string(k) == string(dup) {
				occurrences++
			}
		}
	}
	assert.Equal(t, 1, occurrences)
}

func TestBuild_slotInvariant(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(11))
	keys := randomKeys(rng, 3000)
	table := testTable(t, keys, nil, Params{KeySize: testKeySize, HasherCount: 3, BucketSize: 4})

	// every occupied slot lives in one of its key's eligible buckets
	for b := uint64(0); b < table.NumBuckets(); b++ {
		for i := 0; i < table.BucketSize(); i++ {
			k, _, ok := table.Slot(b, i)
			if !ok {
				continue
			}
			eligible := false
			for h := 0; h < table.HasherCount(); h++ {
				if table.BucketIndex(h, k) == b {
					eligible = true
				}
			}
			require.True(t, eligible, "key %x in bucket %d", k, b)
		}
	}
}

func TestBuild_collisionBound(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(5))
	keys := randomKeys(rng, 1000)
	entries := make([]Entry, len(keys))
	for i, k := range keys {
		entries[i] = Entry{Key: k}
	}

	table, err := Build(entries, Params{KeySize: testKeySize, BucketSize: 2, HasherCount: 2, Ratio: 0.5})
	require.Error(t, err)
	require.Nil(t, table)
	require.True(t, errors.Is(err, ErrCollisionBoundExceeded))

	var collisionErr *CollisionError
	require.True(t, errors.As(err, &collisionErr))
	assert.Equal(t, DefaultMaxDisplacements, collisionErr.Displacements)
	assert.Len(t, collisionErr.Key, testKeySize)
	assert.LessOrEqual(t, collisionErr.Inserted, int(NumBuckets(len(keys), 0.5, 2))*2)
}

func TestNew_errors(t *testing.T) {
	t.Parallel()

	_, err := New(10, Params{})
	assert.Error(t, err)
	_, err = New(-1, Params{KeySize: 4})
	assert.Error(t, err)
	_, err = New(10, Params{KeySize: 4, Ratio: -1})
	assert.Error(t, err)
	_, err = New(10, Params{KeySize: 4, HasherCount: MaxHasherCount + 1})
	assert.Error(t, err)

	table, err := New(10, Params{KeySize: 4})
	require.NoError(t, err)
	assert.Error(t, table.Insert([]byte{1, 2, 3}, Locator{}))
	_, ok := table.Lookup([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestNumBuckets(t *testing.T) {
	t.Parallel()

	for _, testcase := range []struct {
		n          int
		ratio      float64
		bucketSize int
		expected   uint64
	}{
		{0, 1.5, 2, 1},
		{1, 1.5, 2, 1},
		{4, 1.5, 2, 3},
		{5000, 1.5, 2, 3750},
		{7, 1.2, 4, 3},
	} {
		assert.Equal(t, testcase.expected, NumBuckets(testcase.n, testcase.ratio, testcase.bucketSize))
	}
}

func BenchmarkLookup(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	keys := randomKeys(rng, 100000)
	entries := make([]Entry, len(keys))
	for i, k := range keys {
		entries[i] = Entry{Key: k, Locator: Locator{Offset: binary.LittleEndian.Uint64(k)}}
	}
	table, err := Build(entries, Params{KeySize: testKeySize})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % len(keys)
		if _, ok := table.Lookup(keys[j]); !ok {
			b.Fatal("missing key")
		}
	}
}
