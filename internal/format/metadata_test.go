// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/ikvblob/internal/hashing"
)

func TestMetadata_roundTrip(t *testing.T) {
	for _, m := range []Metadata{
		{},
		{IndexHash: "murmur3"},
		{CompressionType: CompressionZstd, CompressionDict: []byte("a dictionary")},
		{CompressionType: CompressionZstd, CompressionDict: []byte{0, 1, 2}, IndexHash: "farm64"},
	} {
		b, err := m.MarshalBinary()
		require.NoError(t, err)
		decoded, err := ParseMetadata(b)
		require.NoError(t, err)
		require.Equal(t, m, decoded)
	}
}

func TestMetadata_empty(t *testing.T) {
	b, err := Metadata{}.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, []byte{0xa0}, b, "empty CBOR map")

	m, err := ParseMetadata(nil)
	require.NoError(t, err)
	require.False(t, m.Compressed())
	f, err := m.Family()
	require.NoError(t, err)
	require.Equal(t, hashing.Farm64, f)
}

func TestMetadata_unknownKeysIgnored(t *testing.T) {
	b, err := cbor.Marshal(map[string]interface{}{
		"index_hash": "murmur3",
		"future_key": []int{1, 2, 3},
	})
	require.NoError(t, err)
	m, err := ParseMetadata(b)
	require.NoError(t, err)
	f, err := m.Family()
	require.NoError(t, err)
	require.Equal(t, hashing.Murmur3, f)
}

func TestMetadata_errors(t *testing.T) {
	for name, md := range map[string]interface{}{
		"type without dict": map[string]interface{}{"compression_type": "zstd"},
		"dict without type": map[string]interface{}{"compression_dict": []byte("d")},
		"unknown codec":     map[string]interface{}{"compression_type": "lz4", "compression_dict": []byte("d")},
		"unknown hash":      map[string]interface{}{"index_hash": "sha1"},
		"type not a string": map[string]interface{}{"compression_type": 3, "compression_dict": []byte("d")},
		"not a map":         []int{1, 2},
	} {
		t.Run(name, func(t *testing.T) {
			b, err := cbor.Marshal(md)
			require.NoError(t, err)
			_, err = ParseMetadata(b)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrFormat))
		})
	}

	_, err := ParseMetadata([]byte{0xff, 0x00})
	require.True(t, errors.Is(err, ErrFormat))
}

func TestPadLen(t *testing.T) {
	for n, expected := range map[uint64]uint64{0: 0, 1: 7, 7: 1, 8: 0, 9: 7, 16: 0} {
		require.Equal(t, expected, padLen(n), "n=%d", n)
	}
}
