// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// ikvblob builds and queries ikvblob files.
//
//	ikvblob build [flags] -o OUT INPUT    build a file from hexkey,base64value lines
//	ikvblob get [flags] FILE HEXDIGEST    print the value stored for a key
//	ikvblob verify FILE                   check a file's checksum
//	ikvblob stats FILE                    describe a file
//
// FILE may be a local path, an http(s):// URL or an s3://bucket/key URL.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/bpowers/ikvblob"
	"github.com/bpowers/ikvblob/internal/lineinput"
	"github.com/bpowers/ikvblob/memory"
)

const usage = `usage: ikvblob <command> [flags]

commands:
  build   build a file from hexkey,base64value lines
  get     print the value stored for a key
  verify  check a file's checksum
  stats   describe a file
`

// lineSource reopens the input file for every pass Build makes.
type lineSource struct {
	path string
	code uint8
}

type lineIter struct {
	r    *lineinput.Reader
	code uint8
}

func (s lineSource) Iter() (ikvblob.Iterator, error) {
	r, err := lineinput.Open(s.path)
	if err != nil {
		return nil, err
	}
	return &lineIter{r: r, code: s.code}, nil
}

func (it *lineIter) Next() (ikvblob.Pair, error) {
	digest, value, err := it.r.Next()
	if err != nil {
		_ = it.r.Close()
		return ikvblob.Pair{}, err
	}
	k, err := ikvblob.NewKey(it.code, digest)
	if err != nil {
		_ = it.r.Close()
		return ikvblob.Pair{}, err
	}
	return ikvblob.Pair{Key: k, Value: value}, nil
}

func runBuild(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	out := fs.String("o", "", "output `file` (required)")
	code := fs.Uint("code", 0x12, "key code applied to every digest")
	digestSize := fs.Int("digest-size", ikvblob.DefaultDigestSize, "digest size in bytes (20, 32 or 64)")
	ratio := fs.Float64("ratio", 1.5, "index slots per entry")
	bucketSize := fs.Int("bucket-size", 2, "slots per bucket")
	hashers := fs.Int("hashers", 2, "number of hash functions")
	family := fs.String("hash", "farm64", "index hash family (farm64 or murmur3)")
	compress := fs.Bool("compress", false, "compress values with a trained zstd dictionary")
	dictSize := fs.Int("dict-size", 110*1024, "maximum dictionary size in bytes")
	samples := fs.Int("samples", 100000, "values sampled to train the dictionary")
	level := fs.String("level", "default", "zstd level: fastest, default, better or best")
	workers := fs.Int("workers", 0, "compression workers (0 means GOMAXPROCS)")
	_ = fs.Parse(args)

	if *out == "" || fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("build needs -o and exactly one input file")
	}
	if *code == 0 || *code > 255 {
		return fmt.Errorf("-code must be in [1, 255]")
	}
	f, err := ikvblob.ParseHashFamily(*family)
	if err != nil {
		return err
	}
	ok, lvl := zstd.EncoderLevelFromString(*level)
	if !ok {
		return fmt.Errorf("unknown zstd level %q", *level)
	}

	opts := []ikvblob.BuilderOption{
		ikvblob.WithBuilderLogger(logger),
		ikvblob.WithBuilderDigestSize(*digestSize),
		ikvblob.WithRatio(*ratio),
		ikvblob.WithBucketSize(*bucketSize),
		ikvblob.WithHasherCount(*hashers),
		ikvblob.WithHashFamily(f),
		ikvblob.WithWorkers(*workers),
	}
	if *compress {
		opts = append(opts,
			ikvblob.WithCompression(*dictSize),
			ikvblob.WithSampleCount(*samples),
			ikvblob.WithCompressionLevel(lvl))
	}

	b, err := ikvblob.NewBuilder(*out, opts...)
	if err != nil {
		return err
	}
	it, err := lineSource{path: fs.Arg(0), code: uint8(*code)}.Iter()
	if err != nil {
		return err
	}
	for {
		p, err := it.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		if err := b.Put(p.Key, p.Value); err != nil {
			return err
		}
	}
	return b.Finalize(ctx)
}

func openTable(ctx context.Context, location string, opts ...ikvblob.TableOption) (*ikvblob.Table, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return ikvblob.Open(ctx, memory.NewHTTP(location), opts...)
	case strings.HasPrefix(location, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(location, "s3://"), "/")
		if !ok {
			return nil, fmt.Errorf("s3 location %q has no key", location)
		}
		sess, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
		if err != nil {
			return nil, fmt.Errorf("session.NewSession: %w", err)
		}
		return ikvblob.Open(ctx, memory.NewS3(s3.New(sess), bucket, key), opts...)
	default:
		return ikvblob.OpenFile(ctx, location, opts...)
	}
}

func runGet(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	code := fs.Uint("code", 0x12, "key code")
	digestSize := fs.Int("digest-size", ikvblob.DefaultDigestSize, "digest size in bytes")
	_ = fs.Parse(args)
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("get needs a file and a hex digest")
	}

	digest, err := hex.DecodeString(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	k, err := ikvblob.NewKey(uint8(*code), digest)
	if err != nil {
		return err
	}

	t, err := openTable(ctx, fs.Arg(0), ikvblob.WithLogger(logger), ikvblob.WithDigestSize(*digestSize))
	if err != nil {
		return err
	}
	defer t.Close()

	value, ok, err := t.Get(ctx, k)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("key %v not found", k)
	}
	_, err = os.Stdout.Write(value)
	return err
}

func runVerify(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	digestSize := fs.Int("digest-size", ikvblob.DefaultDigestSize, "digest size in bytes")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("verify needs a file")
	}
	t, err := openTable(ctx, fs.Arg(0), ikvblob.WithLogger(logger), ikvblob.WithDigestSize(*digestSize))
	if err != nil {
		return err
	}
	defer t.Close()
	if err := t.VerifyIntegrity(ctx); err != nil {
		return err
	}
	logger.Info("checksum ok", "file", fs.Arg(0))
	return nil
}

func runStats(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	digestSize := fs.Int("digest-size", ikvblob.DefaultDigestSize, "digest size in bytes")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("stats needs a file")
	}
	t, err := openTable(ctx, fs.Arg(0), ikvblob.WithLogger(logger), ikvblob.WithDigestSize(*digestSize))
	if err != nil {
		return err
	}
	defer t.Close()

	s := t.Stats()
	fmt.Printf("version:      %d\n", s.Version)
	fmt.Printf("file size:    %d\n", s.FileSize)
	fmt.Printf("digest size:  %d\n", s.DigestSize)
	fmt.Printf("buckets:      %d x %d slots\n", s.Buckets, s.BucketSize)
	fmt.Printf("hashers:      %d (%s)\n", s.HasherCount, s.IndexHash)
	fmt.Printf("index bytes:  %d\n", s.IndexSize)
	fmt.Printf("value bytes:  %d\n", s.ValuesSize)
	fmt.Printf("compressed:   %t (dictionary %d bytes)\n", s.Compressed, s.DictSize)
	return nil
}

func main() {
	verbose := flag.Bool("v", false, "log at debug level")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	commands := map[string]func(context.Context, *slog.Logger, []string) error{
		"build":  runBuild,
		"get":    runGet,
		"verify": runVerify,
		"stats":  runStats,
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		flag.Usage()
		os.Exit(2)
	}
	if err := cmd(context.Background(), logger, flag.Args()[1:]); err != nil {
		logger.Error(flag.Arg(0)+" failed", "error", err)
		os.Exit(1)
	}
}
