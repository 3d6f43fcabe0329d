// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ordered

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func counter(n int) func() (int, error) {
	i := 0
	return func() (int, error) {
		if i >= n {
			return 0, io.EOF
		}
		i++
		return i - 1, nil
	}
}

func TestMap_preservesOrder(t *testing.T) {
	for _, n := range []int{0, 1, 4096, 4097, 50000} {
		var stages atomic.Int32
		var actual []int
		err := Map(context.Background(), Options{Workers: 4},
			counter(n),
			func() (Stage[int, int], error) {
				seed := uint64(stages.Add(1))
				rng := rand.New(rand.NewPCG(seed, seed))
				calls := 0
				return func(x int) (int, error) {
					// stall now and then so chunks finish out of order
					if calls%DefaultChunkSize == 0 {
						time.Sleep(time.Duration(rng.IntN(3)) * time.Millisecond)
					}
					calls++
					return x * 3, nil
				}, nil
			},
			func(x int) error {
				actual = append(actual, x)
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, int32(4), stages.Load())

		require.Len(t, actual, n)
		for i, x := range actual {
			require.Equal(t, i*3, x, "n=%d i=%d", n, i)
		}
	}
}

func TestMap_smallChunks(t *testing.T) {
	var actual []int
	err := Map(context.Background(), Options{Workers: 8, Capacity: 1, ChunkSize: 3},
		counter(1000),
		func() (Stage[int, int], error) {
			return func(x int) (int, error) {
				if x%7 == 0 {
					time.Sleep(100 * time.Microsecond)
				}
				return x, nil
			}, nil
		},
		func(x int) error {
			actual = append(actual, x)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, actual, 1000)
	for i, x := range actual {
		require.Equal(t, i, x)
	}
}

func TestMap_errors(t *testing.T) {
	boom := errors.New("boom")
	identity := func() (Stage[int, int], error) {
		return func(x int) (int, error) { return x, nil }, nil
	}
	discard := func(int) error { return nil }

	err := Map(context.Background(), Options{Workers: 2, ChunkSize: 10}, counter(100000),
		func() (Stage[int, int], error) {
			return func(x int) (int, error) {
				if x == 5000 {
					return 0, boom
				}
				return x, nil
			}, nil
		}, discard)
	require.ErrorIs(t, err, boom)

	err = Map(context.Background(), Options{Workers: 2}, counter(10),
		func() (Stage[int, int], error) { return nil, boom }, discard)
	require.ErrorIs(t, err, boom)

	emitted := 0
	err = Map(context.Background(), Options{Workers: 3, ChunkSize: 16}, counter(100000), identity,
		func(int) error {
			emitted++
			if emitted == 100 {
				return boom
			}
			return nil
		})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 100, emitted)

	i := 0
	err = Map(context.Background(), Options{}, func() (int, error) {
		i++
		if i == 10 {
			return 0, boom
		}
		return i, nil
	}, identity, discard)
	require.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Map(ctx, Options{Workers: 2, ChunkSize: 1}, counter(1000), identity, discard)
	require.ErrorIs(t, err, context.Canceled)
}
