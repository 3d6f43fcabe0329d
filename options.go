// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ikvblob

import (
	"io"
	"log/slog"
	"math/rand/v2"

	"github.com/klauspost/compress/zstd"

	"github.com/bpowers/ikvblob/internal/cuckoo"
	"github.com/bpowers/ikvblob/internal/hashing"
	"github.com/bpowers/ikvblob/internal/zstdict"
)

const DefaultDigestSize = 32

// HashFamily selects the keyed hash functions the index is built with.
// The choice is recorded in the file, so readers need no configuration.
type HashFamily = hashing.Family

const (
	HashFarm64  = hashing.Farm64
	HashMurmur3 = hashing.Murmur3
)

// ParseHashFamily returns the family named "farm64" or "murmur3".
func ParseHashFamily(name string) (HashFamily, error) {
	return hashing.ParseFamily(name)
}

// BuilderOption configures Build and the Builder.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	logger     *slog.Logger
	digestSize int

	ratio            float64
	bucketSize       int
	hasherCount      int
	maxDisplacements int
	family           HashFamily

	compress    bool
	maxDictSize int
	sampleCount int
	level       zstd.EncoderLevel
	rng         *rand.Rand

	workers   int
	capacity  int
	chunkSize int
	spoolDir  string
}

func newBuilderOptions(opts []BuilderOption) builderOptions {
	options := builderOptions{
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		digestSize:       DefaultDigestSize,
		ratio:            cuckoo.DefaultRatio,
		bucketSize:       cuckoo.DefaultBucketSize,
		hasherCount:      cuckoo.DefaultHasherCount,
		maxDisplacements: cuckoo.DefaultMaxDisplacements,
		family:           HashFarm64,
		maxDictSize:      zstdict.DefaultMaxDictSize,
		sampleCount:      zstdict.DefaultSampleCount,
		level:            zstd.SpeedDefault,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithBuilderLogger sets an optional logger for the builder to use for progress updates.
// If not provided, no logging output will be produced.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(opts *builderOptions) {
		opts.logger = logger
	}
}

// WithBuilderDigestSize sets the digest size of the keys in the file:
// 20, 32 (the default) or 64.
func WithBuilderDigestSize(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.digestSize = n
	}
}

// WithRatio sets the ratio of index slots to entries.  Larger ratios
// make construction more likely to succeed at the cost of a larger index.
func WithRatio(ratio float64) BuilderOption {
	return func(opts *builderOptions) {
		opts.ratio = ratio
	}
}

// WithBucketSize sets the number of slots per index bucket.
func WithBucketSize(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.bucketSize = n
	}
}

// WithHasherCount sets the number of hash functions, and so the number
// of buckets a lookup may probe.
func WithHasherCount(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.hasherCount = n
	}
}

func WithMaxDisplacements(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.maxDisplacements = n
	}
}

func WithHashFamily(f HashFamily) BuilderOption {
	return func(opts *builderOptions) {
		opts.family = f
	}
}

// WithCompression turns on zstd compression of values against a
// dictionary of at most maxDictSize bytes trained from a sample of the
// values.  A non-positive size uses the default of 110 KiB.
func WithCompression(maxDictSize int) BuilderOption {
	return func(opts *builderOptions) {
		opts.compress = true
		if maxDictSize > 0 {
			opts.maxDictSize = maxDictSize
		}
	}
}

// WithSampleCount sets how many values are sampled to train the
// compression dictionary.
func WithSampleCount(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.sampleCount = n
	}
}

func WithCompressionLevel(level zstd.EncoderLevel) BuilderOption {
	return func(opts *builderOptions) {
		opts.level = level
	}
}

// WithRand sets the random source used to sample values.
func WithRand(rng *rand.Rand) BuilderOption {
	return func(opts *builderOptions) {
		opts.rng = rng
	}
}

// WithWorkers sets the number of goroutines compressing values.  The
// default is GOMAXPROCS.
func WithWorkers(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.workers = n
	}
}

// WithChannelCapacity bounds how many compressed chunks may wait for
// the writer.  The default is the number of workers.
func WithChannelCapacity(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.capacity = n
	}
}

// WithChunkSize sets how many values a worker compresses at a time.
func WithChunkSize(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.chunkSize = n
	}
}

// WithSpoolDir sets the directory temporary files are created in.  The
// default for Build is os.TempDir; the Builder uses the directory of
// its output file.
func WithSpoolDir(dir string) BuilderOption {
	return func(opts *builderOptions) {
		opts.spoolDir = dir
	}
}

// TableOption configures Open.
type TableOption func(*tableOptions)

type tableOptions struct {
	logger         *slog.Logger
	digestSize     int
	initialBufSize int
	attempts       int
}

func newTableOptions(opts []TableOption) tableOptions {
	options := tableOptions{
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		digestSize:     DefaultDigestSize,
		initialBufSize: zstdict.DefaultInitialBufferSize,
		attempts:       zstdict.DefaultAttempts,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithLogger sets an optional logger for lookups.  Probes are logged at
// debug level.
func WithLogger(logger *slog.Logger) TableOption {
	return func(opts *tableOptions) {
		opts.logger = logger
	}
}

// WithDigestSize sets the digest size of the keys the caller will look
// up.  Opening a file built for another size fails.
func WithDigestSize(n int) TableOption {
	return func(opts *tableOptions) {
		opts.digestSize = n
	}
}

// WithDecompressBuffer sets the first output buffer size tried when
// decompressing a value and how many times it may double.
func WithDecompressBuffer(initial, attempts int) TableOption {
	return func(opts *tableOptions) {
		opts.initialBufSize = initial
		opts.attempts = attempts
	}
}
