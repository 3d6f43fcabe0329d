// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package datafile implements the append-only staging log a Builder
// spools raw (key, value) pairs into before the final file is built.
//
// A staging log is a 16-byte file header followed by records:
//
//	checksum  uint32  farmhash of key and value, truncated
//	keyLen    uint8
//	valueLen  uint32
//	key       [keyLen]byte
//	value     [valueLen]byte
//
// The record count lives in the header and is only written by Finish, so
// a log that was never finished reads as empty.
package datafile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dgryski/go-farm"
)

const (
	magicDataHeader   = uint32(0x6b767374) // "tsvk"
	fileFormatVersion = uint32(1)
	fileHeaderSize    = 16

	recordHeaderSize  = 4 + 1 + 4
	headerKeyLenOff   = 4
	headerValueLenOff = 5

	MaxKeyLen   = (1 << 8) - 1
	MaxValueLen = (1 << 32) - 1

	defaultBufferSize = 4 * 1024 * 1024
)

type fileHeader struct {
	magic         uint32
	formatVersion uint32
	recordCount   uint64
}

func newFileHeader() *fileHeader {
	return &fileHeader{
		magic:         magicDataHeader,
		formatVersion: fileFormatVersion,
	}
}

func (h *fileHeader) WriteTo(w io.Writer) (n int64, err error) {
	var headerBuf [fileHeaderSize]byte
	binary.LittleEndian.PutUint32(headerBuf[:4], h.magic)
	binary.LittleEndian.PutUint32(headerBuf[4:8], h.formatVersion)
	binary.LittleEndian.PutUint64(headerBuf[8:16], h.recordCount)

	if _, err = w.Write(headerBuf[:]); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	return int64(fileHeaderSize), nil
}

func (h *fileHeader) UpdateRecordCount(n uint64, w io.WriterAt) error {
	h.recordCount = n

	var recordCountBuf [8]byte
	binary.LittleEndian.PutUint64(recordCountBuf[:], h.recordCount)
	if _, err := w.WriteAt(recordCountBuf[:], 8); err != nil {
		return fmt.Errorf("f.WriteAt: %w", err)
	}

	return nil
}

func (h *fileHeader) UnmarshalBytes(headerBytes []byte) error {
	if len(headerBytes) < fileHeaderSize {
		return fmt.Errorf("headerBytes too short: %d < %d", len(headerBytes), fileHeaderSize)
	}

	h.magic = binary.LittleEndian.Uint32(headerBytes[:4])
	if h.magic != magicDataHeader {
		return fmt.Errorf("bad magic number on staging file (%x): not a staging log or corrupted", h.magic)
	}

	h.formatVersion = binary.LittleEndian.Uint32(headerBytes[4:8])
	if h.formatVersion != fileFormatVersion {
		return fmt.Errorf("can only read v%d staging files; found v%d", fileFormatVersion, h.formatVersion)
	}

	h.recordCount = binary.LittleEndian.Uint64(headerBytes[8:16])

	return nil
}

func recordChecksum(key, value []byte) uint32 {
	return uint32(farm.Hash64WithSeed(value, farm.Hash64(key)))
}
