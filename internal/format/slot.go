// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bpowers/ikvblob/internal/cuckoo"
)

const (
	// MaxOffset is the largest value offset that fits next to the key
	// code in a slot's packed word.
	MaxOffset = 1<<56 - 1

	codeShift  = 56
	offsetMask = uint64(MaxOffset)
)

// ErrOffsetTooLarge is returned when a value offset does not fit in 56 bits.
var ErrOffsetTooLarge = errors.New("ikvblob: value offset does not fit in 56 bits")

// SlotSize returns the encoded size of a slot whose key has a
// digestSize-byte digest.
func SlotSize(digestSize int) int {
	return digestSize + 8 + 8
}

// Slot is one decoded index entry.  Key is the canonical key (digest
// followed by the one-byte code), or nil for an empty slot.
type Slot struct {
	Key     []byte
	Locator cuckoo.Locator
}

// Empty reports whether the slot holds no key.
func (s Slot) Empty() bool {
	return s.Key == nil
}

// EncodeSlot writes s into dst, which must be at least
// SlotSize(digestSize) bytes.  Occupied slots need a key of
// digestSize+1 bytes whose trailing code byte is non-zero.
func EncodeSlot(dst []byte, digestSize int, s Slot) error {
	size := SlotSize(digestSize)
	if len(dst) < size {
		return fmt.Errorf("slot buffer too short: %d < %d", len(dst), size)
	}
	dst = dst[:size]
	if s.Empty() {
		clear(dst)
		return nil
	}
	if len(s.Key) != digestSize+1 {
		return fmt.Errorf("key of %d bytes in a table of %d-byte digests", len(s.Key), digestSize)
	}
	code := s.Key[digestSize]
	if code == 0 {
		return errors.New("key code 0 is reserved for empty slots")
	}
	if s.Locator.Offset > MaxOffset {
		return fmt.Errorf("%w: offset %d", ErrOffsetTooLarge, s.Locator.Offset)
	}

	copy(dst[:digestSize], s.Key[:digestSize])
	packed := s.Locator.Offset | uint64(code)<<codeShift
	binary.LittleEndian.PutUint64(dst[digestSize:digestSize+8], packed)
	binary.LittleEndian.PutUint64(dst[digestSize+8:digestSize+16], s.Locator.Length)
	return nil
}

// DecodeSlot decodes a slot from src.  The returned key is a fresh copy.
func DecodeSlot(src []byte, digestSize int) (Slot, error) {
	size := SlotSize(digestSize)
	if len(src) < size {
		return Slot{}, formatErrorf("slot too short: %d < %d", len(src), size)
	}
	packed := binary.LittleEndian.Uint64(src[digestSize : digestSize+8])
	code := byte(packed >> codeShift)
	if code == 0 {
		return Slot{}, nil
	}
	key := make([]byte, digestSize+1)
	copy(key, src[:digestSize])
	key[digestSize] = code
	return Slot{
		Key: key,
		Locator: cuckoo.Locator{
			Offset: packed & offsetMask,
			Length: binary.LittleEndian.Uint64(src[digestSize+8 : digestSize+16]),
		},
	}, nil
}

// MatchSlot reports whether the encoded slot in src holds key, and if
// so returns its locator.  It does not allocate.
func MatchSlot(src []byte, key []byte) (cuckoo.Locator, bool) {
	digestSize := len(key) - 1
	if digestSize < 0 || len(src) < SlotSize(digestSize) {
		return cuckoo.Locator{}, false
	}
	packed := binary.LittleEndian.Uint64(src[digestSize : digestSize+8])
	code := byte(packed >> codeShift)
	if code == 0 || code != key[digestSize] || !bytes.Equal(src[:digestSize], key[:digestSize]) {
		return cuckoo.Locator{}, false
	}
	return cuckoo.Locator{
		Offset: packed & offsetMask,
		Length: binary.LittleEndian.Uint64(src[digestSize+8 : digestSize+16]),
	}, true
}
