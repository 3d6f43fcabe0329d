// Copyright 2021 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitset

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitset(t *testing.T) {
	b := New(128)

	require.Equal(t, 2, len(b.words))
	require.Equal(t, uint64(128), b.Len())

	// should do nothing
	b.Set(132)

	zero := []uint64{0, 0}
	require.Equal(t, zero, b.words)
	require.Equal(t, uint64(0), b.Count())

	require.False(t, b.IsSet(7))
	b.Set(7)
	require.True(t, b.IsSet(7))
	b.Set(7)
	require.Equal(t, uint64(1), b.Count())
	b.Set(8)
	require.True(t, b.IsSet(8))
	require.Equal(t, uint64(2), b.Count())
	require.False(t, b.IsSet(9))

	for i := uint64(0); i < 128; i++ {
		b.Set(i)
	}

	full := []uint64{^uint64(0), ^uint64(0)}
	require.Equal(t, full, b.words)
	require.Equal(t, uint64(128), b.Count())
	require.Equal(t, b.recount(), b.Count())

	// should do nothing
	b.Set(137)
	require.Equal(t, full, b.words)
	require.False(t, b.IsSet(137))
}

func TestBitset_OddLength(t *testing.T) {
	b := New(65)
	require.Equal(t, 2, len(b.words))
	b.Set(64)
	require.True(t, b.IsSet(64))
	require.False(t, b.IsSet(65))
	require.Equal(t, b.recount(), b.Count())
}

// recount recomputes count from the underlying words.
func (b *Bitset) recount() uint64 {
	var n int
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return uint64(n)
}
