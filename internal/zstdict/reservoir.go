// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package zstdict

import (
	"math/rand/v2"
)

// Reservoir keeps a uniform random sample of at most k items from a
// stream of unknown length (Algorithm R).
type Reservoir[T any] struct {
	k     int
	seen  uint64
	items []T
	rng   *rand.Rand
}

// NewReservoir returns a reservoir holding up to k items.  rng may be
// nil, in which case a randomly seeded source is used.
func NewReservoir[T any](k int, rng *rand.Rand) *Reservoir[T] {
	if k < 0 {
		k = 0
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Reservoir[T]{
		k:   k,
		rng: rng,
	}
}

// Add offers item to the sample.  The i-th item offered (1-based) ends
// up in the sample with probability k/i.
func (r *Reservoir[T]) Add(item T) {
	r.seen++
	if len(r.items) < r.k {
		r.items = append(r.items, item)
		return
	}
	if j := r.rng.Uint64N(r.seen); j < uint64(r.k) {
		r.items[j] = item
	}
}

// Seen returns the number of items offered so far.
func (r *Reservoir[T]) Seen() uint64 {
	return r.seen
}

// Samples returns the current sample.  The slice is owned by the
// reservoir until the caller stops adding items.
func (r *Reservoir[T]) Samples() []T {
	return r.items
}
