// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

func readRecordHeader(header []byte) (expectedChecksum uint32, keyLen, valueLen int64) {
	_ = header[recordHeaderSize-1]

	expectedChecksum = binary.LittleEndian.Uint32(header[:4])
	keyLen = int64(header[headerKeyLenOff])
	valueLen = int64(binary.LittleEndian.Uint32(header[headerValueLenOff : headerValueLenOff+4]))
	return
}

// Reader streams the records of a finished staging log in the order
// they were written.  Several Readers may share one io.ReaderAt.
type Reader struct {
	h    fileHeader
	r    *bufio.Reader
	off  int64
	read uint64

	header [recordHeaderSize]byte
}

func NewReader(f io.ReaderAt) (*Reader, error) {
	var headerBuf [fileHeaderSize]byte
	if _, err := f.ReadAt(headerBuf[:], 0); err != nil {
		return nil, fmt.Errorf("f.ReadAt header: %w", err)
	}
	var h fileHeader
	if err := h.UnmarshalBytes(headerBuf[:]); err != nil {
		return nil, fmt.Errorf("fileHeader.UnmarshalBytes: %w", err)
	}

	sr := io.NewSectionReader(f, fileHeaderSize, 1<<62)
	return &Reader{
		h:   h,
		r:   bufio.NewReaderSize(sr, defaultBufferSize),
		off: fileHeaderSize,
	}, nil
}

// Len is the number of records in the log.
func (r *Reader) Len() uint64 {
	return r.h.recordCount
}

// Next returns the next record, or io.EOF after the last one.  The
// returned slices are freshly allocated.
func (r *Reader) Next() (key, value []byte, err error) {
	if r.read >= r.h.recordCount {
		return nil, nil, io.EOF
	}

	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		return nil, nil, fmt.Errorf("record %d at off %d: header: %w", r.read, r.off, noEOF(err))
	}
	expectedChecksum, keyLen, valueLen := readRecordHeader(r.header[:])

	buf := make([]byte, keyLen+valueLen)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, nil, fmt.Errorf("record %d at off %d: body: %w", r.read, r.off, noEOF(err))
	}
	key, value = buf[:keyLen:keyLen], buf[keyLen:]

	if checksum := recordChecksum(key, value); checksum != expectedChecksum {
		return nil, nil, fmt.Errorf("off %d checksum failed (%d != %d): staging file corrupted", r.off, expectedChecksum, checksum)
	}

	r.off += recordHeaderSize + keyLen + valueLen
	r.read++
	return key, value, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
