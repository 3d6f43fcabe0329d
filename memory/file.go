// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package memory

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// MMap is a read-only memory mapping of a local file.
type MMap struct {
	data     []byte
	isClosed atomic.Bool
}

// OpenMMap maps the file at path into memory.  Lookups touch pages
// at random, so the kernel is told not to read ahead.
func OpenMMap(path string) (*MMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}
	defer func() { _ = f.Close() }()

	stats, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	size := stats.Size()
	if size == 0 {
		return &MMap{}, nil
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("file %s too large to map (%d bytes)", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap(%s): %w", path, err)
	}
	if err := unix.Madvise(data, syscall.MADV_RANDOM); err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("madvise: %w", err)
	}

	return &MMap{data: data}, nil
}

func (m *MMap) ReadSlice(_ context.Context, off, n int64) ([]byte, error) {
	if m.isClosed.Load() {
		return nil, os.ErrClosed
	}
	if err := checkRange(off, n, int64(len(m.data))); err != nil {
		return nil, err
	}
	return m.data[off : off+n : off+n], nil
}

func (m *MMap) Len(context.Context) (int64, error) {
	return int64(len(m.data)), nil
}

// Close unmaps the file.  Slices returned by ReadSlice must not be used
// afterwards.
func (m *MMap) Close() error {
	if m.isClosed.Swap(true) || m.data == nil {
		return nil
	}
	return unix.Munmap(m.data)
}

// File reads a local file with pread, copying each slice onto the heap.
type File struct {
	f        *os.File
	size     int64
	isClosed atomic.Bool
}

func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}

	stats, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("f.Stat: %w", err)
	}

	return &File{f: f, size: stats.Size()}, nil
}

func (m *File) ReadSlice(_ context.Context, off, n int64) ([]byte, error) {
	if err := checkRange(off, n, m.size); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, err := m.f.ReadAt(buf, off)
	if int64(read) == n {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("f.ReadAt(%d, len: %d): %w", off, n, err)
}

func (m *File) Len(context.Context) (int64, error) {
	return m.size, nil
}

func (m *File) Close() error {
	if m.isClosed.Swap(true) {
		return nil
	}
	return m.f.Close()
}
