// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (s *safeBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *safeBuffer) WriteAt(p []byte, off int64) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(off)+len(p) > len(s.buf) {
		return 0, errors.New("writeAt out of bounds")
	}

	return copy(s.buf[off:int(off)+len(p)], p), nil
}

func (s *safeBuffer) ReadAt(p []byte, off int64) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(off) >= len(s.buf) {
		return 0, io.EOF
	}
	n = copy(p, s.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

var _ FileWriter = &safeBuffer{}

type testWriter struct {
	inner            FileWriter
	writeShouldError bool
}

func (c *testWriter) Write(p []byte) (n int, err error) {
	if c.writeShouldError {
		return 0, errors.New("write failed")
	}
	return c.inner.Write(p)
}

func (c *testWriter) WriteAt(p []byte, off int64) (n int, err error) {
	return c.inner.WriteAt(p, off)
}

func readAll(t *testing.T, f io.ReaderAt) (keys, values [][]byte) {
	r, err := NewReader(f)
	require.NoError(t, err)
	for {
		k, v, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		keys = append(keys, k)
		values = append(values, v)
	}
	require.Equal(t, uint64(len(keys)), r.Len())
	return keys, values
}

func TestWriter_roundTrip(t *testing.T) {
	var buf safeBuffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	const n = 1000
	for i := 0; i < n; i++ {
		key := []byte("key-" + strconv.Itoa(i))
		value := bytes.Repeat([]byte{byte(i)}, i%300)
		off, err := w.Write(key, value)
		require.NoError(t, err)
		require.True(t, off >= fileHeaderSize)
	}
	require.Equal(t, uint64(n), w.Count())
	require.NoError(t, w.Finish())
	require.NoError(t, w.Finish())

	_, err = w.Write([]byte("late"), nil)
	require.Error(t, err)

	keys, values := readAll(t, &buf)
	require.Len(t, keys, n)
	for i := range keys {
		require.Equal(t, "key-"+strconv.Itoa(i), string(keys[i]))
		require.Equal(t, bytes.Repeat([]byte{byte(i)}, i%300), values[i])
	}

	// a second pass over the same bytes sees the same records
	keys2, _ := readAll(t, &buf)
	require.Equal(t, keys, keys2)
}

func TestWriter_unfinishedIsEmpty(t *testing.T) {
	var buf safeBuffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte("k"), []byte("v"))
	require.NoError(t, err)

	keys, _ := readAll(t, &buf)
	require.Empty(t, keys)
}

func TestWriter_invalidRecords(t *testing.T) {
	var buf safeBuffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	_, err = w.Write(nil, []byte("v"))
	assert.Error(t, err)
	_, err = w.Write(make([]byte, MaxKeyLen+1), []byte("v"))
	assert.Error(t, err)
	_, err = w.Write(make([]byte, MaxKeyLen), nil)
	assert.NoError(t, err)
}

func TestWriter_writeError(t *testing.T) {
	tw := &testWriter{inner: &safeBuffer{}, writeShouldError: true}
	_, err := NewWriter(tw)
	require.Error(t, err)
}

func TestReader_corruption(t *testing.T) {
	var buf safeBuffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte("key"), []byte("some value"))
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	// flip a value byte
	buf.buf[len(buf.buf)-1] ^= 0xff
	r, err := NewReader(&buf)
	require.NoError(t, err)
	_, _, err = r.Next()
	require.Error(t, err)

	// truncate the record
	buf.buf[len(buf.buf)-1] ^= 0xff
	buf.buf = buf.buf[:len(buf.buf)-3]
	r, err = NewReader(&buf)
	require.NoError(t, err)
	_, _, err = r.Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = NewReader(bytes.NewReader([]byte("not a staging file")))
	require.Error(t, err)
}

func TestWriter_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staging")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := NewWriter(f)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := w.Write([]byte{byte(i + 1)}, []byte(strconv.Itoa(i)))
		require.NoError(t, err)
	}
	require.NoError(t, w.Finish())

	keys, values := readAll(t, f)
	require.Len(t, keys, 10)
	require.Equal(t, "9", string(values[9]))
}
