// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// gen-testdata writes synthetic input for `ikvblob build`: one
// hexkey,base64value line per pair, where each key is an HMAC-SHA256
// digest of its value.
package main

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/bpowers/ikvblob/internal/lineinput"
)

const (
	prefix  = "pref_"
	hmacKey = "d259c7f656caf7f1"
)

var (
	nPairs    = flag.Int("n", 1000000, "number of pairs to generate")
	suffixLen = flag.Int("suffix", 16, "random bytes appended to each value")
	seed      = flag.Uint64("seed", 0, "random seed (0 picks one at random)")
	compress  = flag.Bool("zstd", false, "zstd-compress the output")
	output    = flag.String("o", "-", "output file, or - for stdout")
)

func generate(w io.Writer, rng *rand.Rand) error {
	h := hmac.New(sha256.New, []byte(hmacKey))
	suffix := make([]byte, *suffixLen)
	var line []byte

	for i := 0; i < *nPairs; i++ {
		for j := range suffix {
			suffix[j] = byte(rng.Uint32())
		}
		value := []byte(fmt.Sprintf("%s%d_%x", prefix, i, suffix))
		h.Reset()
		h.Write(value)

		line = lineinput.AppendLine(line[:0], h.Sum(nil), value)
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func run() error {
	s := *seed
	if s == 0 {
		s = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(s, s))

	f := os.Stdout
	if *output != "-" {
		var err error
		if f, err = os.Create(*output); err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
	}

	bw := bufio.NewWriterSize(f, 4*1024*1024)
	var w io.Writer = bw
	var enc *zstd.Encoder
	if *compress {
		var err error
		if enc, err = zstd.NewWriter(bw); err != nil {
			return fmt.Errorf("zstd.NewWriter: %w", err)
		}
		w = enc
	}

	if err := generate(w, rng); err != nil {
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("zstd close: %w", err)
		}
	}
	return bw.Flush()
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		slog.Error("gen-testdata failed", "error", err)
		os.Exit(1)
	}
}
