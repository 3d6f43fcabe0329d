// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ikvblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bpowers/ikvblob/internal/datafile"
)

// Builder is used to construct an immutable file from key/value pairs
// added one at a time.  Pairs are spooled to a staging file next to the
// result, so the input does not need to fit in memory.
type Builder struct {
	resultPath  string
	stagingFile *os.File
	staging     *datafile.Writer
	options     builderOptions
	keyBuf      []byte
}

// NewBuilder creates a Builder that writes its result to path.  Nothing
// appears at path until Finalize succeeds.
func NewBuilder(path string, opts ...BuilderOption) (*Builder, error) {
	options := newBuilderOptions(opts)
	// we want to write to a new file and do an atomic rename when we're done on disk
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs: %w", err)
	}
	dir := filepath.Dir(path)
	if options.spoolDir == "" {
		options.spoolDir = dir
	}
	stagingFile, err := os.CreateTemp(options.spoolDir, "ikvblob-builder.*.staging")
	if err != nil {
		return nil, fmt.Errorf("CreateTemp failed (may need permissions for dir %q): %w", options.spoolDir, err)
	}
	w, err := datafile.NewWriter(stagingFile)
	if err != nil {
		_ = stagingFile.Close()
		_ = os.Remove(stagingFile.Name())
		return nil, fmt.Errorf("datafile.NewWriter: %w", err)
	}
	return &Builder{
		resultPath:  path,
		stagingFile: stagingFile,
		staging:     w,
		options:     options,
	}, nil
}

// Put adds a key/value pair.  If the same key is put more than once the
// last value wins.
func (b *Builder) Put(k Key, v []byte) error {
	if b.staging == nil {
		return errors.New("Put after Finalize")
	}
	var err error
	if b.keyBuf, err = canonicalKey(b.keyBuf, k, b.options.digestSize); err != nil {
		return err
	}
	if _, err := b.staging.Write(b.keyBuf, v); err != nil {
		return fmt.Errorf("staging.Write: %w", err)
	}
	return nil
}

// Finalize builds the file and atomically moves it into place.  The
// Builder cannot be used afterwards, whether or not Finalize succeeds.
func (b *Builder) Finalize(ctx context.Context) error {
	if b.staging == nil {
		return errors.New("Finalize called twice")
	}
	defer func() {
		_ = b.stagingFile.Close()
		_ = os.Remove(b.stagingFile.Name())
		b.staging = nil
	}()

	if err := b.staging.Finish(); err != nil {
		return fmt.Errorf("staging.Finish: %w", err)
	}
	b.options.logger.Info("staging done", "pairs", b.staging.Count())

	f, err := os.CreateTemp(filepath.Dir(b.resultPath), "ikvblob-builder.*.ikv")
	if err != nil {
		return fmt.Errorf("os.CreateTemp: %w", err)
	}
	if err := b.writeTo(ctx, f); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("f.Close: %w", err)
	}

	// make the file read-only
	if err := os.Chmod(f.Name(), 0444); err != nil {
		return fmt.Errorf("os.Chmod(0444): %w", err)
	}
	if err := os.Rename(f.Name(), b.resultPath); err != nil {
		return fmt.Errorf("os.Rename: %w", err)
	}

	return nil
}

func (b *Builder) writeTo(ctx context.Context, f *os.File) error {
	if _, err := build(ctx, f, stagingSource{b.stagingFile}, &b.options); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("f.Sync: %w", err)
	}
	return nil
}

// stagingSource replays a finished staging file.
type stagingSource struct {
	f io.ReaderAt
}

func (s stagingSource) Iter() (Iterator, error) {
	r, err := datafile.NewReader(s.f)
	if err != nil {
		return nil, fmt.Errorf("datafile.NewReader: %w", err)
	}
	return stagingIter{r}, nil
}

type stagingIter struct {
	r *datafile.Reader
}

func (it stagingIter) Next() (Pair, error) {
	k, v, err := it.r.Next()
	if err != nil {
		return Pair{}, err
	}
	key, err := parseCanonical(k)
	if err != nil {
		return Pair{}, fmt.Errorf("staging file: %w", err)
	}
	return Pair{Key: key, Value: v}, nil
}
