// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ikvblob

import (
	"errors"

	"github.com/bpowers/ikvblob/internal/cuckoo"
	"github.com/bpowers/ikvblob/internal/format"
	"github.com/bpowers/ikvblob/internal/ordered"
	"github.com/bpowers/ikvblob/internal/zstdict"
)

var (
	// ErrFormat wraps every error caused by a malformed, truncated or
	// unsupported file.
	ErrFormat = format.ErrFormat
	// ErrChecksum is returned by VerifyIntegrity for a corrupted file.
	ErrChecksum = format.ErrChecksum
	// ErrCollisionBoundExceeded is wrapped by *CollisionError.
	ErrCollisionBoundExceeded = cuckoo.ErrCollisionBoundExceeded
	// ErrOffsetTooLarge is returned when the value blob outgrows the 56
	// bits a slot has for offsets.
	ErrOffsetTooLarge = format.ErrOffsetTooLarge
	ErrDecompression  = zstdict.ErrDecompression
	ErrLostItem       = ordered.ErrLostItem

	ErrKeySize      = errors.New("ikvblob: unsupported key size")
	ErrReservedCode = errors.New("ikvblob: key code 0 is reserved")
)

// CollisionError is returned by Build when the index could not place a
// key.  Building again with a larger ratio or more hashers usually
// succeeds.
type CollisionError = cuckoo.CollisionError

// Locator is the position of a value inside the value blob.
type Locator = cuckoo.Locator

// Slot is one decoded index slot, as returned by Table.Buckets.
type Slot = format.Slot
