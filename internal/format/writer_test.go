// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpowers/ikvblob/internal/cuckoo"
)

func testIndex(t *testing.T, n int) (*cuckoo.Table, []byte) {
	const digestSize = 32
	var values bytes.Buffer
	entries := make([]cuckoo.Entry, 0, n)
	for i := 0; i < n; i++ {
		key := make([]byte, digestSize+1)
		binary.LittleEndian.PutUint64(key, uint64(i)*0x9e3779b97f4a7c15)
		key[digestSize] = 1
		value := []byte{byte(i), byte(i >> 8), 'v'}
		entries = append(entries, cuckoo.Entry{
			Key:     key,
			Locator: cuckoo.Locator{Offset: uint64(values.Len()), Length: uint64(len(value))},
		})
		values.Write(value)
	}
	idx, err := cuckoo.Build(entries, cuckoo.Params{KeySize: digestSize + 1})
	require.NoError(t, err)
	return idx, values.Bytes()
}

func TestWrite(t *testing.T) {
	idx, values := testIndex(t, 500)
	meta := Metadata{IndexHash: "farm64"}

	var out bytes.Buffer
	h, err := Write(&out, idx, meta, bytes.NewReader(values), uint64(len(values)))
	require.NoError(t, err)
	file := out.Bytes()
	require.Equal(t, h.TotalSize(), uint64(len(file)))

	var decoded Header
	require.NoError(t, decoded.UnmarshalBytes(file))
	require.Equal(t, h, decoded)
	require.NoError(t, decoded.Validate())
	require.Equal(t, uint64(HeaderSize), decoded.MetadataOffset)
	require.Zero(t, decoded.IndexOffset%8)
	require.Equal(t, idx.NumBuckets(), decoded.NumBuckets())
	require.Equal(t, uint64(48), decoded.EntrySize)
	require.Equal(t, uint64(2), decoded.BucketSize)
	require.Equal(t, uint64(2), decoded.HasherCount)

	md, err := ParseMetadata(file[decoded.MetadataOffset : decoded.MetadataOffset+decoded.MetadataSize])
	require.NoError(t, err)
	require.Equal(t, meta, md)
	for _, b := range file[decoded.MetadataOffset+decoded.MetadataSize : decoded.IndexOffset] {
		require.Zero(t, b, "metadata padding")
	}

	require.Equal(t, values, file[decoded.ValuesOffset:decoded.ValuesOffset+decoded.ValuesSize])

	body := file[:len(file)-ChecksumSize]
	require.Equal(t, crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(file[len(file)-ChecksumSize:]))

	// every bucket on disk matches the in-memory index
	digestSize := idx.KeySize() - 1
	occupied := 0
	for b := uint64(0); b < decoded.NumBuckets(); b++ {
		for i := 0; i < int(decoded.BucketSize); i++ {
			off := decoded.IndexOffset + b*decoded.BucketBytes() + uint64(i)*decoded.EntrySize
			s, err := DecodeSlot(file[off:off+decoded.EntrySize], digestSize)
			require.NoError(t, err)
			key, loc, ok := idx.Slot(b, i)
			require.Equal(t, ok, !s.Empty())
			if ok {
				occupied++
				require.Equal(t, key, s.Key)
				require.Equal(t, loc, s.Locator)
			}
		}
	}
	require.Equal(t, 500, occupied)
}

func TestWrite_empty(t *testing.T) {
	idx, _ := testIndex(t, 0)
	var out bytes.Buffer
	h, err := Write(&out, idx, Metadata{}, bytes.NewReader(nil), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), h.NumBuckets())
	require.Equal(t, h.TotalSize(), uint64(out.Len()))
}

func TestWrite_shortValues(t *testing.T) {
	idx, values := testIndex(t, 10)
	var out bytes.Buffer
	_, err := Write(&out, idx, Metadata{}, bytes.NewReader(values[:len(values)-1]), uint64(len(values)))
	require.Error(t, err)
}

func TestWrite_invalidMetadata(t *testing.T) {
	idx, values := testIndex(t, 10)
	var out bytes.Buffer
	_, err := Write(&out, idx, Metadata{CompressionType: CompressionZstd}, bytes.NewReader(values), uint64(len(values)))
	require.True(t, errors.Is(err, ErrFormat))
}
