// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package memory provides the random-access byte sources an ikvblob
// file can be read from: a byte slice, a memory-mapped or plain local
// file, an HTTP URL fetched with range requests, or an S3 object.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrOutOfRange is returned for a read that extends past the end of
// the underlying data.
var ErrOutOfRange = errors.New("memory: read out of range")

// Memory is a fixed-length sequence of bytes supporting random reads.
// Both methods may block, for example on network I/O, and must be safe
// for concurrent use.
type Memory interface {
	// ReadSlice returns the n bytes starting at off.  The result may
	// alias internal storage and must not be modified.  A read past the
	// end of the data returns an error wrapping ErrOutOfRange or
	// io.ErrUnexpectedEOF, never a short slice.
	ReadSlice(ctx context.Context, off, n int64) ([]byte, error)
	// Len returns the total length of the data.
	Len(ctx context.Context) (int64, error)
}

func checkRange(off, n, size int64) error {
	if off < 0 || n < 0 || off > size || n > size-off {
		return fmt.Errorf("%w: [%d, +%d) of %d bytes", ErrOutOfRange, off, n, size)
	}
	return nil
}

// Bytes is a Memory backed by an in-memory slice.
type Bytes []byte

func (b Bytes) ReadSlice(_ context.Context, off, n int64) ([]byte, error) {
	if err := checkRange(off, n, int64(len(b))); err != nil {
		return nil, err
	}
	return b[off : off+n : off+n], nil
}

func (b Bytes) Len(context.Context) (int64, error) {
	return int64(len(b)), nil
}

// ReadFunc reads n bytes at off.
type ReadFunc func(ctx context.Context, off, n int64) ([]byte, error)

type funcMemory struct {
	size int64
	read ReadFunc
}

// Func adapts a caller-supplied read function over size bytes into a
// Memory.  Ranges are checked before read is called, and a short
// result is reported as io.ErrUnexpectedEOF.
func Func(size int64, read ReadFunc) Memory {
	return &funcMemory{size: size, read: read}
}

func (m *funcMemory) ReadSlice(ctx context.Context, off, n int64) ([]byte, error) {
	if err := checkRange(off, n, m.size); err != nil {
		return nil, err
	}
	b, err := m.read(ctx, off, n)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) != n {
		return nil, fmt.Errorf("read of %d bytes at %d returned %d: %w", n, off, len(b), io.ErrUnexpectedEOF)
	}
	return b, nil
}

func (m *funcMemory) Len(context.Context) (int64, error) {
	return m.size, nil
}
