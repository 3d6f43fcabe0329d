// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package ordered applies a function to a stream of items on several
// goroutines and hands the results on in input order.
//
// Items are grouped into fixed-size chunks numbered in input order.
// Workers transform whole chunks and send them to a single consumer over
// a bounded channel; the consumer emits the chunk it expects next and
// parks early arrivals in a map keyed by chunk number until their turn.
package ordered

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize = 4096
	defaultCapacity  = 8
)

// ErrLostItem is returned when the pipeline drained with chunks still
// waiting for a predecessor that never arrived.
var ErrLostItem = errors.New("ikvblob: ordered pipeline lost an item")

// Options configures Map.  Zero fields take defaults: Workers is
// GOMAXPROCS, Capacity equals Workers, ChunkSize is DefaultChunkSize.
type Options struct {
	Workers   int
	Capacity  int
	ChunkSize int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Capacity <= 0 {
		o.Capacity = o.Workers
		if o.Capacity <= 0 {
			o.Capacity = defaultCapacity
		}
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

// Stage transforms one item.  A Stage is only ever called from a single
// goroutine.
type Stage[In, Out any] func(In) (Out, error)

type chunk[T any] struct {
	seq   int
	items []T
}

// Map calls next until it returns io.EOF, transforms every item with a
// stage created by newStage (once per worker), and calls emit with the
// results in the order next produced the inputs.  next and emit are
// called from a single goroutine each.  The first error from any of
// them stops the pipeline and is returned.
func Map[In, Out any](
	ctx context.Context,
	opts Options,
	next func() (In, error),
	newStage func() (Stage[In, Out], error),
	emit func(Out) error,
) error {
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	chunks := make(chan chunk[In], opts.Capacity)
	results := make(chan chunk[Out], opts.Capacity)

	g.Go(func() error {
		defer close(chunks)
		for seq := 0; ; seq++ {
			items := make([]In, 0, opts.ChunkSize)
			eof := false
			for len(items) < opts.ChunkSize {
				item, err := next()
				if err == io.EOF {
					eof = true
					break
				} else if err != nil {
					return err
				}
				items = append(items, item)
			}
			if len(items) > 0 {
				select {
				case chunks <- chunk[In]{seq: seq, items: items}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if eof {
				return nil
			}
		}
	})

	for w := 0; w < opts.Workers; w++ {
		g.Go(func() error {
			stage, err := newStage()
			if err != nil {
				return err
			}
			for c := range chunks {
				out := make([]Out, len(c.items))
				for i, item := range c.items {
					if out[i], err = stage(item); err != nil {
						return err
					}
				}
				select {
				case results <- chunk[Out]{seq: c.seq, items: out}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
		close(results)
	}()

	pending := make(map[int][]Out)
	nextSeq := 0
	var emitErr error
	for r := range results {
		if emitErr != nil {
			// drain so the workers can exit
			continue
		}
		pending[r.seq] = r.items
		for emitErr == nil {
			items, ok := pending[nextSeq]
			if !ok {
				break
			}
			delete(pending, nextSeq)
			nextSeq++
			for _, item := range items {
				if err := emit(item); err != nil {
					emitErr = err
					cancel()
					break
				}
			}
		}
	}

	err := <-done
	if emitErr != nil {
		return emitErr
	}
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d chunks buffered waiting for chunk %d", ErrLostItem, len(pending), nextSeq)
	}
	return nil
}
