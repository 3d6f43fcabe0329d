// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"errors"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/ikvblob/internal/cuckoo"
)

func TestSlot_roundTrip(t *testing.T) {
	fz := fuzz.NewWithSeed(11)
	for _, digestSize := range []int{20, 32, 64} {
		buf := make([]byte, SlotSize(digestSize))
		for i := 0; i < 100; i++ {
			key := make([]byte, digestSize+1)
			for j := range key {
				var b byte
				fz.Fuzz(&b)
				key[j] = b
			}
			if key[digestSize] == 0 {
				key[digestSize] = 1
			}
			var loc cuckoo.Locator
			fz.Fuzz(&loc)
			loc.Offset &= MaxOffset

			s := Slot{Key: key, Locator: loc}
			require.NoError(t, EncodeSlot(buf, digestSize, s))

			decoded, err := DecodeSlot(buf, digestSize)
			require.NoError(t, err)
			require.Equal(t, s, decoded)

			matched, ok := MatchSlot(buf, key)
			require.True(t, ok)
			require.Equal(t, loc, matched)
		}
	}
}

func TestSlot_layout(t *testing.T) {
	const digestSize = 32
	require.Equal(t, 48, SlotSize(digestSize))

	key := make([]byte, digestSize+1)
	for i := range key {
		key[i] = byte(i + 1)
	}
	key[digestSize] = 7
	buf := make([]byte, SlotSize(digestSize))
	require.NoError(t, EncodeSlot(buf, digestSize, Slot{Key: key, Locator: cuckoo.Locator{Offset: 0x0102, Length: 9}}))

	require.Equal(t, key[:digestSize], buf[:digestSize])
	// little-endian code<<56 | offset, then length
	require.Equal(t, []byte{0x02, 0x01, 0, 0, 0, 0, 0, 7}, buf[32:40])
	require.Equal(t, []byte{9, 0, 0, 0, 0, 0, 0, 0}, buf[40:48])
}

func TestSlot_empty(t *testing.T) {
	const digestSize = 20
	buf := make([]byte, SlotSize(digestSize))
	for i := range buf {
		buf[i] = 0xff
	}
	require.NoError(t, EncodeSlot(buf, digestSize, Slot{}))
	for _, b := range buf {
		require.Zero(t, b)
	}

	decoded, err := DecodeSlot(buf, digestSize)
	require.NoError(t, err)
	require.True(t, decoded.Empty())

	_, ok := MatchSlot(buf, make([]byte, digestSize+1))
	require.False(t, ok, "code 0 never matches")
}

func TestSlot_offsetBound(t *testing.T) {
	const digestSize = 32
	key := make([]byte, digestSize+1)
	key[digestSize] = 0xff
	buf := make([]byte, SlotSize(digestSize))

	require.NoError(t, EncodeSlot(buf, digestSize, Slot{Key: key, Locator: cuckoo.Locator{Offset: 1<<56 - 1}}))
	decoded, err := DecodeSlot(buf, digestSize)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<56-1), decoded.Locator.Offset)
	require.Equal(t, byte(0xff), decoded.Key[digestSize])

	err = EncodeSlot(buf, digestSize, Slot{Key: key, Locator: cuckoo.Locator{Offset: 1 << 56}})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOffsetTooLarge))
}

func TestSlot_errors(t *testing.T) {
	const digestSize = 20
	buf := make([]byte, SlotSize(digestSize))

	assert.Error(t, EncodeSlot(buf[:10], digestSize, Slot{}))
	assert.Error(t, EncodeSlot(buf, digestSize, Slot{Key: make([]byte, digestSize)}))
	assert.Error(t, EncodeSlot(buf, digestSize, Slot{Key: make([]byte, digestSize+1)}), "reserved code")

	_, err := DecodeSlot(buf[:10], digestSize)
	assert.True(t, errors.Is(err, ErrFormat))

	key := make([]byte, digestSize+1)
	key[digestSize] = 1
	require.NoError(t, EncodeSlot(buf, digestSize, Slot{Key: key}))
	other := append([]byte(nil), key...)
	other[0] = 1
	_, ok := MatchSlot(buf, other)
	assert.False(t, ok)
	other = append([]byte(nil), key...)
	other[digestSize] = 2
	_, ok = MatchSlot(buf, other)
	assert.False(t, ok)
}
