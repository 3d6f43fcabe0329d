// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ikvblob

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bpowers/ikvblob/internal/cuckoo"
	"github.com/bpowers/ikvblob/internal/format"
	"github.com/bpowers/ikvblob/internal/ordered"
	"github.com/bpowers/ikvblob/internal/zstdict"
)

const spoolBufferSize = 4 * 1024 * 1024

// Pair is a key and its value.
type Pair struct {
	Key   Key
	Value []byte
}

// Iterator yields pairs until Next returns io.EOF.  Values returned by
// Next must stay valid after later calls.
type Iterator interface {
	Next() (Pair, error)
}

// Source is the input to Build.  Iter is called once per pass over the
// data: once without compression, twice with it.
type Source interface {
	Iter() (Iterator, error)
}

// SliceSource is a Source over pairs held in memory.
type SliceSource []Pair

func (s SliceSource) Iter() (Iterator, error) {
	return &sliceIter{pairs: s}, nil
}

type sliceIter struct {
	pairs []Pair
	i     int
}

func (it *sliceIter) Next() (Pair, error) {
	if it.i >= len(it.pairs) {
		return Pair{}, io.EOF
	}
	it.i++
	return it.pairs[it.i-1], nil
}

// BuildResult summarizes a written file.
type BuildResult struct {
	// Entries is the number of distinct keys in the index.
	Entries    int
	Pairs      int
	Buckets    uint64
	RawSize    uint64
	ValuesSize uint64
	DictSize   int
	FileSize   uint64
}

// stagedValue travels through the compression pipeline.
type stagedValue struct {
	key   []byte
	value []byte
}

// Build writes a complete file holding every pair in src to w.  A key
// that appears more than once maps to its last value.
//
// Values are streamed through a temporary spool file, so memory use is
// bounded by the index rather than by the data.  When the index cannot
// place every key Build returns a *CollisionError; building again with
// a larger ratio or more hashers usually succeeds.
func Build(ctx context.Context, w io.Writer, src Source, opts ...BuilderOption) (*BuildResult, error) {
	o := newBuilderOptions(opts)
	return build(ctx, w, src, &o)
}

func build(ctx context.Context, w io.Writer, src Source, o *builderOptions) (*BuildResult, error) {
	switch o.digestSize {
	case 20, 32, 64:
	default:
		return nil, fmt.Errorf("%w: %d-byte digests", ErrKeySize, o.digestSize)
	}

	var dict []byte
	if o.compress {
		var err error
		if dict, err = trainDictionary(src, o); err != nil {
			return nil, err
		}
	}

	spool, err := os.CreateTemp(o.spoolDir, "ikvblob-values.*")
	if err != nil {
		return nil, fmt.Errorf("os.CreateTemp: %w", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	result := &BuildResult{DictSize: len(dict)}
	entries, err := spoolValues(ctx, src, dict, spool, o, result)
	if err != nil {
		return nil, err
	}
	o.logger.Info("values spooled", "pairs", result.Pairs, "raw_bytes", result.RawSize, "stored_bytes", result.ValuesSize)

	idx, err := cuckoo.Build(entries, cuckoo.Params{
		KeySize:          o.digestSize + 1,
		BucketSize:       o.bucketSize,
		HasherCount:      o.hasherCount,
		Ratio:            o.ratio,
		MaxDisplacements: o.maxDisplacements,
		Family:           o.family,
		Logger:           o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("cuckoo.Build: %w", err)
	}
	result.Entries = idx.Len()
	result.Buckets = idx.NumBuckets()
	o.logger.Info("index built", "entries", result.Entries, "buckets", result.Buckets)

	var meta format.Metadata
	if dict != nil {
		meta.CompressionType = format.CompressionZstd
		meta.CompressionDict = dict
	}
	if o.family != HashFarm64 {
		meta.IndexHash = o.family.String()
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("spool.Seek: %w", err)
	}
	h, err := format.Write(w, idx, meta, bufio.NewReaderSize(spool, spoolBufferSize), result.ValuesSize)
	if err != nil {
		return nil, fmt.Errorf("format.Write: %w", err)
	}
	result.FileSize = h.TotalSize()
	o.logger.Info("file written", "bytes", result.FileSize)

	return result, nil
}

// trainDictionary samples values from one pass over src and trains a
// dictionary from them.  A nil dictionary with a nil error means there
// was too little data to train on and values are stored uncompressed.
func trainDictionary(src Source, o *builderOptions) ([]byte, error) {
	it, err := src.Iter()
	if err != nil {
		return nil, fmt.Errorf("src.Iter: %w", err)
	}
	reservoir := zstdict.NewReservoir[[]byte](o.sampleCount, o.rng)
	for {
		p, err := it.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("sampling: it.Next: %w", err)
		}
		reservoir.Add(p.Value)
	}
	o.logger.Info("sampling done", "values", reservoir.Seen(), "samples", len(reservoir.Samples()))

	dict, err := zstdict.Train(reservoir.Samples(), o.maxDictSize, o.level)
	if err != nil {
		o.logger.Warn("could not train a compression dictionary, storing values uncompressed", "error", err)
		return nil, nil
	}
	o.logger.Info("dictionary trained", "bytes", len(dict))
	return dict, nil
}

// spoolValues streams src through the ordered compression pipeline into
// spool, recording where each value landed.
func spoolValues(ctx context.Context, src Source, dict []byte, spool io.Writer, o *builderOptions, result *BuildResult) ([]cuckoo.Entry, error) {
	it, err := src.Iter()
	if err != nil {
		return nil, fmt.Errorf("src.Iter: %w", err)
	}

	var (
		mu          sync.Mutex
		compressors []*zstdict.Compressor
	)
	defer func() {
		for _, c := range compressors {
			_ = c.Close()
		}
	}()
	newStage := func() (ordered.Stage[stagedValue, stagedValue], error) {
		if dict == nil {
			return func(v stagedValue) (stagedValue, error) { return v, nil }, nil
		}
		c, err := zstdict.NewCompressor(dict, o.level)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		compressors = append(compressors, c)
		mu.Unlock()
		return func(v stagedValue) (stagedValue, error) {
			v.value = c.Compress(nil, v.value)
			return v, nil
		}, nil
	}

	var keyBuf []byte
	next := func() (stagedValue, error) {
		p, err := it.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stagedValue{}, io.EOF
			}
			return stagedValue{}, fmt.Errorf("it.Next: %w", err)
		}
		if keyBuf, err = canonicalKey(keyBuf, p.Key, o.digestSize); err != nil {
			return stagedValue{}, err
		}
		result.Pairs++
		result.RawSize += uint64(len(p.Value))
		return stagedValue{key: append([]byte(nil), keyBuf...), value: p.Value}, nil
	}

	bw := bufio.NewWriterSize(spool, spoolBufferSize)
	var entries []cuckoo.Entry
	emit := func(v stagedValue) error {
		off := result.ValuesSize
		if off > format.MaxOffset {
			return fmt.Errorf("%w: value for key %x would start at %d", ErrOffsetTooLarge, v.key, off)
		}
		if _, err := bw.Write(v.value); err != nil {
			return fmt.Errorf("spool write: %w", err)
		}
		entries = append(entries, cuckoo.Entry{
			Key:     v.key,
			Locator: cuckoo.Locator{Offset: off, Length: uint64(len(v.value))},
		})
		result.ValuesSize += uint64(len(v.value))
		return nil
	}

	err = ordered.Map(ctx, ordered.Options{
		Workers:   o.workers,
		Capacity:  o.capacity,
		ChunkSize: o.chunkSize,
	}, next, newStage, emit)
	if err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("spool flush: %w", err)
	}
	return entries, nil
}
