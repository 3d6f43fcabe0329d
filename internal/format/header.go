// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/bpowers/ikvblob/internal/cuckoo"
)

const (
	Magic         = "\x00Ikvblob"
	FormatVersion = 1

	HeaderSize   = len(Magic) + 10*8
	ChecksumSize = 4
)

// ErrFormat is the root of every error caused by a malformed or
// unsupported file.
var ErrFormat = errors.New("ikvblob: invalid file format")

func formatErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

// Header describes where each region of the file lives and how the
// index is shaped, so a reader can configure itself before reading
// anything else.
type Header struct {
	Version uint64

	MetadataOffset uint64
	MetadataSize   uint64

	IndexOffset uint64
	IndexSize   uint64
	EntrySize   uint64
	BucketSize  uint64
	HasherCount uint64

	ValuesOffset uint64
	ValuesSize   uint64
}

// NumBuckets is the number of buckets in the index.
func (h *Header) NumBuckets() uint64 {
	bucketBytes := h.BucketSize * h.EntrySize
	if bucketBytes == 0 {
		return 0
	}
	return h.IndexSize / bucketBytes
}

// BucketBytes is the size of one serialized bucket.
func (h *Header) BucketBytes() uint64 {
	return h.BucketSize * h.EntrySize
}

// TotalSize is the size of the whole file, checksum included.
func (h *Header) TotalSize() uint64 {
	return h.ValuesOffset + h.ValuesSize + ChecksumSize
}

// Validate checks that the header describes a usable layout: the
// metadata, index and value regions follow the header in that order and
// do not overlap, and the index is a whole number of buckets.
func (h *Header) Validate() error {
	if h.EntrySize == 0 || h.BucketSize == 0 || h.HasherCount == 0 {
		return formatErrorf("entry size (%d), bucket size (%d) and hasher count (%d) must be non-zero",
			h.EntrySize, h.BucketSize, h.HasherCount)
	}
	if h.BucketSize > math.MaxUint32 || h.EntrySize > math.MaxUint32 || h.HasherCount > math.MaxUint32 {
		return formatErrorf("implausible index shape (entry size %d, bucket size %d, %d hashers)",
			h.EntrySize, h.BucketSize, h.HasherCount)
	}
	if h.HasherCount > cuckoo.MaxHasherCount {
		return formatErrorf("%d hashers exceeds the maximum of %d", h.HasherCount, cuckoo.MaxHasherCount)
	}
	if h.IndexSize%h.BucketBytes() != 0 {
		return formatErrorf("index size %d is not a multiple of the bucket size %d", h.IndexSize, h.BucketBytes())
	}
	if h.NumBuckets() == 0 {
		return formatErrorf("index has no buckets")
	}

	type region struct {
		name      string
		off, size uint64
	}
	regions := []region{
		{"metadata", h.MetadataOffset, h.MetadataSize},
		{"index", h.IndexOffset, h.IndexSize},
		{"value blob", h.ValuesOffset, h.ValuesSize},
	}
	end := uint64(HeaderSize)
	for _, r := range regions {
		if r.off > math.MaxUint64-r.size {
			return formatErrorf("%s region [%d, +%d) overflows", r.name, r.off, r.size)
		}
		if r.off < end {
			return formatErrorf("%s region at %d overlaps the preceding region ending at %d", r.name, r.off, end)
		}
		end = r.off + r.size
	}
	if end > math.MaxUint64-ChecksumSize {
		return formatErrorf("file size overflows")
	}
	return nil
}

// MarshalTo encodes the header into headerBytes, which must be at
// least HeaderSize bytes long.
func (h *Header) MarshalTo(headerBytes []byte) error {
	if len(headerBytes) < HeaderSize {
		return fmt.Errorf("headerBytes too short: %d < %d", len(headerBytes), HeaderSize)
	}
	copy(headerBytes[:len(Magic)], Magic)
	fields := h.fields()
	for i, f := range fields {
		off := len(Magic) + 8*i
		binary.LittleEndian.PutUint64(headerBytes[off:off+8], *f)
	}
	return nil
}

// WriteTo writes the encoded header to w.
func (h *Header) WriteTo(w io.Writer) (n int64, err error) {
	var headerBuf [HeaderSize]byte
	if err := h.MarshalTo(headerBuf[:]); err != nil {
		return 0, err
	}
	written, err := w.Write(headerBuf[:])
	if err != nil {
		return int64(written), fmt.Errorf("write: %w", err)
	}
	return int64(written), nil
}

// UnmarshalBytes decodes a header, checking the magic number and that
// the format version is one this package can read.  It does not check
// the layout; see Validate.
func (h *Header) UnmarshalBytes(headerBytes []byte) error {
	if len(headerBytes) < HeaderSize {
		return formatErrorf("header too short: %d < %d", len(headerBytes), HeaderSize)
	}
	if string(headerBytes[:len(Magic)]) != Magic {
		return formatErrorf("bad magic number (%x): not an ikvblob file or corrupted", headerBytes[:len(Magic)])
	}

	var decoded Header
	for i, f := range decoded.fields() {
		off := len(Magic) + 8*i
		*f = binary.LittleEndian.Uint64(headerBytes[off : off+8])
	}
	if decoded.Version == 0 || decoded.Version > FormatVersion {
		return formatErrorf("this version of the ikvblob library can only read v%d files; found v%d", FormatVersion, decoded.Version)
	}

	*h = decoded
	return nil
}

func (h *Header) fields() [10]*uint64 {
	return [10]*uint64{
		&h.Version,
		&h.MetadataOffset,
		&h.MetadataSize,
		&h.IndexOffset,
		&h.IndexSize,
		&h.EntrySize,
		&h.BucketSize,
		&h.HasherCount,
		&h.ValuesOffset,
		&h.ValuesSize,
	}
}
