// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package lineinput reads the text input format of the command line
// tools: one pair per line, a hex-encoded key digest and a
// base64-encoded value separated by a comma.  Input may be
// zstd-compressed.
package lineinput

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultBufferSize = 4 * 1024 * 1024
	maxLineLen        = 64 * 1024 * 1024
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// special case of SplitN that doesn't require allocation
func split2(s []byte, sep byte) (l []byte, r []byte, ok bool) {
	m := bytes.IndexByte(s, sep)
	if m < 0 {
		return nil, nil, false
	}

	l = s[:m]
	r = s[m+1:]
	ok = true
	return
}

// ParseLine decodes one input line into a digest and a value.
func ParseLine(line []byte) (digest, value []byte, err error) {
	hexKey, b64Value, ok := split2(bytes.TrimRight(line, "\r"), ',')
	if !ok {
		return nil, nil, fmt.Errorf("missing ',' separator")
	}
	digest = make([]byte, hex.DecodedLen(len(hexKey)))
	if _, err := hex.Decode(digest, hexKey); err != nil {
		return nil, nil, fmt.Errorf("key: %w", err)
	}
	value = make([]byte, base64.StdEncoding.DecodedLen(len(b64Value)))
	n, err := base64.StdEncoding.Decode(value, b64Value)
	if err != nil {
		return nil, nil, fmt.Errorf("value: %w", err)
	}
	return digest, value[:n], nil
}

// AppendLine appends the encoded form of a pair, newline included.
func AppendLine(dst, digest, value []byte) []byte {
	dst = hex.AppendEncode(dst, digest)
	dst = append(dst, ',')
	dst = base64.StdEncoding.AppendEncode(dst, value)
	return append(dst, '\n')
}

// Reader reads pairs from a file.
type Reader struct {
	f    *os.File
	dec  *zstd.Decoder
	s    *bufio.Scanner
	line int
}

// Open opens the input at path, transparently decompressing it if it
// starts with a zstd frame.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}

	br := bufio.NewReaderSize(f, defaultBufferSize)
	r := &Reader{f: f}
	var in io.Reader = br
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		if r.dec, err = zstd.NewReader(br); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd.NewReader: %w", err)
		}
		in = r.dec
	}

	r.s = bufio.NewScanner(in)
	r.s.Buffer(make([]byte, 0, 64*1024), maxLineLen)
	return r, nil
}

// Next returns the next pair, or io.EOF at the end of the input.  Blank
// lines are skipped.
func (r *Reader) Next() (digest, value []byte, err error) {
	for r.s.Scan() {
		r.line++
		line := r.s.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		digest, value, err := ParseLine(line)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		return digest, value, nil
	}
	if err := r.s.Err(); err != nil {
		return nil, nil, fmt.Errorf("line %d: %w", r.line+1, err)
	}
	return nil, nil, io.EOF
}

func (r *Reader) Close() error {
	if r.dec != nil {
		r.dec.Close()
	}
	return r.f.Close()
}
