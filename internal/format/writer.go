// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/bpowers/ikvblob/internal/cuckoo"
)

const defaultBufferSize = 4 * 1024 * 1024

// ErrChecksum is returned when a file's trailing checksum does not match
// its contents.
var ErrChecksum = errors.New("ikvblob: checksum mismatch")

// NewChecksum returns the hash used for the file trailer.
func NewChecksum() hash.Hash32 {
	return crc32.NewIEEE()
}

// checksumWriter forwards writes to w while hashing every byte.
type checksumWriter struct {
	w   io.Writer
	crc hash.Hash32
	n   int64
}

func (c *checksumWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	// hash.Hash.Write never returns an error
	_, _ = c.crc.Write(p[:n])
	c.n += int64(n)
	return n, err
}

// NewHeader computes the header for a file holding idx, metadata of
// mdSize (unpadded) bytes and valuesLen bytes of values.
func NewHeader(idx *cuckoo.Table, mdSize, valuesLen uint64) Header {
	entrySize := uint64(SlotSize(idx.KeySize() - 1))
	indexSize := idx.NumBuckets() * uint64(idx.BucketSize()) * entrySize
	indexOffset := uint64(HeaderSize) + mdSize + padLen(mdSize)
	return Header{
		Version:        FormatVersion,
		MetadataOffset: uint64(HeaderSize),
		MetadataSize:   mdSize,
		IndexOffset:    indexOffset,
		IndexSize:      indexSize,
		EntrySize:      entrySize,
		BucketSize:     uint64(idx.BucketSize()),
		HasherCount:    uint64(idx.HasherCount()),
		ValuesOffset:   indexOffset + indexSize,
		ValuesSize:     valuesLen,
	}
}

// Write serializes a complete file to w: header, metadata, every bucket
// of idx, valuesLen bytes read from values, and the checksum trailer.
// It returns the header that was written.
func Write(w io.Writer, idx *cuckoo.Table, meta Metadata, values io.Reader, valuesLen uint64) (Header, error) {
	if err := meta.Validate(); err != nil {
		return Header{}, err
	}
	if idx.KeySize() < 2 {
		return Header{}, fmt.Errorf("index key size %d too small for a digest and code", idx.KeySize())
	}
	md, err := meta.MarshalBinary()
	if err != nil {
		return Header{}, fmt.Errorf("meta.MarshalBinary: %w", err)
	}
	h := NewHeader(idx, uint64(len(md)), valuesLen)
	if err := h.Validate(); err != nil {
		return Header{}, fmt.Errorf("invariant broken: %w", err)
	}

	bw := bufio.NewWriterSize(w, defaultBufferSize)
	cw := &checksumWriter{w: bw, crc: NewChecksum()}

	if _, err := h.WriteTo(cw); err != nil {
		return Header{}, fmt.Errorf("Header.WriteTo: %w", err)
	}
	md = append(md, make([]byte, padLen(uint64(len(md))))...)
	if _, err := cw.Write(md); err != nil {
		return Header{}, fmt.Errorf("write metadata: %w", err)
	}

	if err := writeIndex(cw, idx); err != nil {
		return Header{}, err
	}

	if n, err := io.CopyN(cw, values, int64(valuesLen)); err != nil {
		return Header{}, fmt.Errorf("copy values (%d of %d bytes): %w", n, valuesLen, err)
	}

	if uint64(cw.n) != h.TotalSize()-ChecksumSize {
		return Header{}, fmt.Errorf("invariant broken: wrote %d bytes, expected %d", cw.n, h.TotalSize()-ChecksumSize)
	}

	var trailer [ChecksumSize]byte
	binary.LittleEndian.PutUint32(trailer[:], cw.crc.Sum32())
	if _, err := bw.Write(trailer[:]); err != nil {
		return Header{}, fmt.Errorf("write checksum: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return Header{}, fmt.Errorf("bufio.Flush: %w", err)
	}
	return h, nil
}

func writeIndex(w io.Writer, idx *cuckoo.Table) error {
	digestSize := idx.KeySize() - 1
	slotSize := SlotSize(digestSize)
	buf := make([]byte, slotSize*idx.BucketSize())
	for b := uint64(0); b < idx.NumBuckets(); b++ {
		for i := 0; i < idx.BucketSize(); i++ {
			var s Slot
			if key, loc, ok := idx.Slot(b, i); ok {
				s = Slot{Key: key, Locator: loc}
			}
			if err := EncodeSlot(buf[i*slotSize:], digestSize, s); err != nil {
				return fmt.Errorf("bucket %d slot %d: %w", b, i, err)
			}
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write bucket %d: %w", b, err)
		}
	}
	return nil
}
