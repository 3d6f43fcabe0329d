// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

type nopWriter struct{}

func (nopWriter) Write([]byte) (int, error) {
	return 0, io.EOF
}

// FileWriter is usually an *os.File, but specified as an interface for easier testing.
type FileWriter interface {
	io.Writer
	io.WriterAt
}

type Writer struct {
	f        FileWriter
	h        *fileHeader
	w        *bufio.Writer
	off      uint64
	count    uint64
	finished atomic.Bool
}

func NewWriter(f FileWriter) (*Writer, error) {
	w := &Writer{
		f: f,
		h: newFileHeader(),
		w: bufio.NewWriterSize(f, defaultBufferSize),
	}

	if headerLen, err := w.h.WriteTo(w.w); err != nil {
		return nil, fmt.Errorf("fileHeader.WriteTo: %w", err)
	} else {
		w.off = uint64(headerLen)
	}

	// try to expose errors when writing to the backing file early
	if err := w.w.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	return w, nil
}

func (w *Writer) writeRecordHeader(key, value []byte) (int, error) {
	if len(key) == 0 {
		return 0, fmt.Errorf("empty key not supported")
	}
	if len(key) > MaxKeyLen {
		return 0, fmt.Errorf("key of %d bytes too long", len(key))
	}
	if uint64(len(value)) > MaxValueLen {
		return 0, fmt.Errorf("value of %d bytes too long", len(value))
	}

	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], recordChecksum(key, value))
	header[headerKeyLenOff] = uint8(len(key))
	binary.LittleEndian.PutUint32(header[headerValueLenOff:headerValueLenOff+4], uint32(len(value)))

	return w.w.Write(header[:])
}

// Write appends a record, returning its offset in the file.
func (w *Writer) Write(key, value []byte) (off uint64, err error) {
	if w.finished.Load() {
		return 0, errors.New("write after Finish")
	}
	off = w.off

	headerWritten, err := w.writeRecordHeader(key, value)
	if err != nil {
		return 0, fmt.Errorf("writeRecordHeader: %w", err)
	}
	keyWritten, err := w.w.Write(key)
	if err != nil {
		return 0, fmt.Errorf("bufio.Write key: %w", err)
	}
	valueWritten, err := w.w.Write(value)
	if err != nil {
		return 0, fmt.Errorf("bufio.Write value: %w", err)
	}

	w.off += uint64(headerWritten + keyWritten + valueWritten)
	w.count++

	return off, nil
}

// Count is the number of records written so far.
func (w *Writer) Count() uint64 {
	return w.count
}

// Finish flushes buffered records and records the final count in the
// file header.  Calling Finish more than once is a no-op.
func (w *Writer) Finish() error {
	if alreadyFinished := w.finished.Swap(true); alreadyFinished {
		return nil
	}

	defer func() {
		w.w.Reset(&nopWriter{})
		w.w = nil
	}()

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}

	return w.h.UpdateRecordCount(w.count, w.f)
}
