// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ikvblob

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/bpowers/ikvblob/internal/format"
	"github.com/bpowers/ikvblob/internal/hashing"
	"github.com/bpowers/ikvblob/internal/zstdict"
	"github.com/bpowers/ikvblob/memory"
)

const verifyChunkSize = 1024 * 1024

// Table is a read-only view of a file.  It is safe for concurrent use.
type Table struct {
	mem    memory.Memory
	closer io.Closer

	h            format.Header
	meta         format.Metadata
	size         int64
	digestSize   int
	hashers      []hashing.Hasher
	decompressor *zstdict.Decompressor
	logger       *slog.Logger

	isClosed atomic.Bool
}

// Stats describes an open file.
type Stats struct {
	Version     uint64
	FileSize    int64
	DigestSize  int
	Buckets     uint64
	BucketSize  int
	HasherCount int
	IndexHash   string
	IndexSize   uint64
	ValuesSize  uint64
	Compressed  bool
	DictSize    int
}

// OpenFile memory-maps the file at path and opens it.  Closing the
// Table unmaps the file.
func OpenFile(ctx context.Context, path string, opts ...TableOption) (*Table, error) {
	m, err := memory.OpenMMap(path)
	if err != nil {
		return nil, fmt.Errorf("memory.OpenMMap: %w", err)
	}
	t, err := Open(ctx, m, opts...)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	t.closer = m
	return t, nil
}

// Open reads and checks the header and metadata of the file in mem.
// The checksum is not verified; see VerifyIntegrity.
func Open(ctx context.Context, mem memory.Memory, opts ...TableOption) (*Table, error) {
	o := newTableOptions(opts)

	size, err := mem.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("mem.Len: %w", err)
	}
	if size < int64(format.HeaderSize+format.ChecksumSize) {
		return nil, fmt.Errorf("%w: file of %d bytes is too short", ErrFormat, size)
	}

	headerBytes, err := mem.ReadSlice(ctx, 0, format.HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	var h format.Header
	if err := h.UnmarshalBytes(headerBytes); err != nil {
		return nil, fmt.Errorf("Header.UnmarshalBytes: %w", err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if expected := uint64(format.SlotSize(o.digestSize)); h.EntrySize != expected {
		return nil, fmt.Errorf("%w: index entries are %d bytes, expected %d for %d-byte digests",
			ErrFormat, h.EntrySize, expected, o.digestSize)
	}
	if h.TotalSize() != uint64(size) {
		return nil, fmt.Errorf("%w: header describes %d bytes but the file has %d", ErrFormat, h.TotalSize(), size)
	}

	mdBytes, err := mem.ReadSlice(ctx, int64(h.MetadataOffset), int64(h.MetadataSize))
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	meta, err := format.ParseMetadata(mdBytes)
	if err != nil {
		return nil, err
	}
	family, err := meta.Family()
	if err != nil {
		return nil, err
	}

	t := &Table{
		mem:        mem,
		h:          h,
		meta:       meta,
		size:       size,
		digestSize: o.digestSize,
		hashers:    family.NewN(int(h.HasherCount)),
		logger:     o.logger,
	}
	if meta.Compressed() {
		if t.decompressor, err = zstdict.NewDecompressor(meta.CompressionDict, o.initialBufSize, o.attempts); err != nil {
			return nil, fmt.Errorf("%w: compression dictionary: %s", ErrFormat, err)
		}
	}
	return t, nil
}

// Locate returns where the value for k is stored, probing one bucket
// per hasher.
func (t *Table) Locate(ctx context.Context, k Key) (Locator, bool, error) {
	var keyBuf [65]byte
	key, err := canonicalKey(keyBuf[:0], k, t.digestSize)
	if err != nil {
		return Locator{}, false, err
	}

	numBuckets := t.h.NumBuckets()
	bucketBytes := t.h.BucketBytes()
	for i, hasher := range t.hashers {
		b := hasher.Hash(key) % numBuckets
		t.logger.Debug("probe", "key", k, "hasher", i, "bucket", b)

		bucket, err := t.mem.ReadSlice(ctx, int64(t.h.IndexOffset+b*bucketBytes), int64(bucketBytes))
		if err != nil {
			return Locator{}, false, fmt.Errorf("reading bucket %d: %w", b, err)
		}
		for off := uint64(0); off < bucketBytes; off += t.h.EntrySize {
			if loc, ok := format.MatchSlot(bucket[off:off+t.h.EntrySize], key); ok {
				return loc, true, nil
			}
		}
	}
	return Locator{}, false, nil
}

// Get returns the value stored for k.  A missing key is reported as
// ok == false with a nil error.  For uncompressed files the result may
// alias the underlying memory and must not be modified.
func (t *Table) Get(ctx context.Context, k Key) (value []byte, ok bool, err error) {
	loc, ok, err := t.Locate(ctx, k)
	if err != nil || !ok {
		return nil, false, err
	}
	if loc.Offset > t.h.ValuesSize || loc.Length > t.h.ValuesSize-loc.Offset {
		return nil, false, fmt.Errorf("%w: value [%d, +%d) outside the %d-byte value blob",
			ErrFormat, loc.Offset, loc.Length, t.h.ValuesSize)
	}

	raw, err := t.mem.ReadSlice(ctx, int64(t.h.ValuesOffset+loc.Offset), int64(loc.Length))
	if err != nil {
		return nil, false, fmt.Errorf("reading value: %w", err)
	}
	if t.decompressor == nil {
		return raw, true, nil
	}
	value, err = t.decompressor.Decompress(raw)
	if err != nil {
		return nil, false, fmt.Errorf("key %v: %w", k, err)
	}
	return value, true, nil
}

// VerifyIntegrity reads the whole file and checks it against its
// trailing checksum.
func (t *Table) VerifyIntegrity(ctx context.Context) error {
	crc := format.NewChecksum()
	end := t.size - format.ChecksumSize
	for off := int64(0); off < end; off += verifyChunkSize {
		n := min(int64(verifyChunkSize), end-off)
		chunk, err := t.mem.ReadSlice(ctx, off, n)
		if err != nil {
			return fmt.Errorf("reading [%d, +%d): %w", off, n, err)
		}
		_, _ = crc.Write(chunk)
	}

	trailer, err := t.mem.ReadSlice(ctx, end, format.ChecksumSize)
	if err != nil {
		return fmt.Errorf("reading checksum: %w", err)
	}
	if expected, actual := binary.LittleEndian.Uint32(trailer), crc.Sum32(); expected != actual {
		return fmt.Errorf("%w: stored %08x, computed %08x", ErrChecksum, expected, actual)
	}
	return nil
}

// Buckets reads back the whole index, one slice of slots per bucket.
func (t *Table) Buckets(ctx context.Context) ([][]Slot, error) {
	index, err := t.mem.ReadSlice(ctx, int64(t.h.IndexOffset), int64(t.h.IndexSize))
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	buckets := make([][]Slot, t.h.NumBuckets())
	for b := range buckets {
		buckets[b] = make([]Slot, t.h.BucketSize)
		for i := range buckets[b] {
			off := uint64(b)*t.h.BucketBytes() + uint64(i)*t.h.EntrySize
			if buckets[b][i], err = format.DecodeSlot(index[off:off+t.h.EntrySize], t.digestSize); err != nil {
				return nil, fmt.Errorf("bucket %d slot %d: %w", b, i, err)
			}
		}
	}
	return buckets, nil
}

func (t *Table) Stats() Stats {
	family, _ := t.meta.Family()
	return Stats{
		Version:     t.h.Version,
		FileSize:    t.size,
		DigestSize:  t.digestSize,
		Buckets:     t.h.NumBuckets(),
		BucketSize:  int(t.h.BucketSize),
		HasherCount: int(t.h.HasherCount),
		IndexHash:   family.String(),
		IndexSize:   t.h.IndexSize,
		ValuesSize:  t.h.ValuesSize,
		Compressed:  t.meta.Compressed(),
		DictSize:    len(t.meta.CompressionDict),
	}
}

// Close releases the decompressor and, for tables from OpenFile, the
// mapping.  Memory passed to Open is left for the caller to close.
func (t *Table) Close() error {
	if t.isClosed.Swap(true) {
		return nil
	}
	if t.decompressor != nil {
		t.decompressor.Close()
	}
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
