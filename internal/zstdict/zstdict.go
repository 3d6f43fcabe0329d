// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package zstdict trains a shared zstd dictionary from a sample of
// values and compresses or decompresses individual values with it.
package zstdict

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/dict"
	"github.com/klauspost/compress/zstd"
)

const (
	DefaultMaxDictSize = 110 * 1024
	DefaultSampleCount = 100000

	DefaultInitialBufferSize = 4 * 1024
	DefaultAttempts          = 6

	// MaxBufferSize bounds the largest output buffer a Decompressor
	// allocates.
	MaxBufferSize = 1 << 30

	// dictionary IDs below 32768 are reserved by the zstd format.
	dictID   = 0x1cb10b
	hashSize = 6
)

// ErrDecompression is returned when a value cannot be decompressed, either
// because it is corrupt or because it is larger than the largest output
// buffer tried.
var ErrDecompression = errors.New("ikvblob: decompression failed")

// Train builds a zstd dictionary of at most maxSize bytes from samples.
func Train(samples [][]byte, maxSize int, level zstd.EncoderLevel) ([]byte, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples to train a dictionary from")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxDictSize
	}
	d, err := dict.BuildZstdDict(samples, dict.Options{
		MaxDictSize: maxSize,
		HashBytes:   hashSize,
		ZstdDictID:  dictID,
		ZstdLevel:   level,
	})
	if err != nil {
		return nil, fmt.Errorf("dict.BuildZstdDict: %w", err)
	}
	return d, nil
}

// Compressor compresses values against a dictionary.  It is safe for
// concurrent use, but the ordered pipeline gives each worker its own.
type Compressor struct {
	enc *zstd.Encoder
}

func NewCompressor(d []byte, level zstd.EncoderLevel) (*Compressor, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderDict(d),
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd.NewWriter: %w", err)
	}
	return &Compressor{enc: enc}, nil
}

// Compress appends the compressed form of src to dst.
func (c *Compressor) Compress(dst, src []byte) []byte {
	return c.enc.EncodeAll(src, dst)
}

func (c *Compressor) Close() error {
	return c.enc.Close()
}

// Decompressor decompresses values produced by a Compressor with the
// same dictionary.  Output buffers start at the initial size and double
// on each of a bounded number of attempts, up to MaxBufferSize; a value
// that does not fit in the last buffer is a decompression failure.
type Decompressor struct {
	dec      *zstd.Decoder
	initial  int
	attempts int
}

func NewDecompressor(d []byte, initial, attempts int) (*Decompressor, error) {
	if initial <= 0 {
		initial = DefaultInitialBufferSize
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if initial > MaxBufferSize/2 {
		initial = MaxBufferSize / 2
	}
	for attempts > 1 && initial > MaxBufferSize>>attempts {
		attempts--
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderDicts(d),
		zstd.WithDecodeAllCapLimit(true),
		zstd.WithDecoderConcurrency(0),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd.NewReader: %s", ErrDecompression, err)
	}
	return &Decompressor{
		dec:      dec,
		initial:  initial,
		attempts: attempts,
	}, nil
}

// MaxSize is the largest decompressed value this decompressor accepts.
func (d *Decompressor) MaxSize() int {
	return d.bufferSize(d.attempts - 1)
}

func (d *Decompressor) bufferSize(attempt int) int {
	return d.initial * (2 << attempt)
}

// Decompress returns the decompressed form of src.  It is safe for
// concurrent use.
func (d *Decompressor) Decompress(src []byte) ([]byte, error) {
	var lastErr error
	for i := 0; i < d.attempts; i++ {
		out, err := d.dec.DecodeAll(src, make([]byte, 0, d.bufferSize(i)))
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !errors.Is(err, zstd.ErrDecoderSizeExceeded) {
			break
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDecompression, lastErr)
}

func (d *Decompressor) Close() {
	d.dec.Close()
}
