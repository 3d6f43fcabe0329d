// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ikvblob

import (
	"fmt"
)

// Key identifies a value: a fixed-size digest (usually a cryptographic
// hash of the content) tagged with a one-byte code saying what kind of
// digest it is.  Code 0 is reserved to mark empty index slots.
//
// The set of key types is closed: Key20, Key32 and Key64.  A file holds
// keys of a single digest size.
type Key interface {
	// DigestSize is the number of digest bytes in the key.
	DigestSize() int
	// KeyCode is the key's one-byte tag.
	KeyCode() uint8
	// AppendCanonical appends the key's serialized form, the digest
	// followed by the code byte, to dst.
	AppendCanonical(dst []byte) []byte

	isKey()
}

// Key20 is a key with a 20-byte digest, such as SHA-1 or RIPEMD-160.
type Key20 struct {
	Code   uint8
	Digest [20]byte
}

// Key32 is a key with a 32-byte digest, such as SHA-256 or BLAKE3.
type Key32 struct {
	Code   uint8
	Digest [32]byte
}

// Key64 is a key with a 64-byte digest, such as SHA-512.
type Key64 struct {
	Code   uint8
	Digest [64]byte
}

func (k Key20) DigestSize() int { return len(k.Digest) }
func (k Key32) DigestSize() int { return len(k.Digest) }
func (k Key64) DigestSize() int { return len(k.Digest) }

func (k Key20) KeyCode() uint8 { return k.Code }
func (k Key32) KeyCode() uint8 { return k.Code }
func (k Key64) KeyCode() uint8 { return k.Code }

func (k Key20) AppendCanonical(dst []byte) []byte { return append(append(dst, k.Digest[:]...), k.Code) }
func (k Key32) AppendCanonical(dst []byte) []byte { return append(append(dst, k.Digest[:]...), k.Code) }
func (k Key64) AppendCanonical(dst []byte) []byte { return append(append(dst, k.Digest[:]...), k.Code) }

func (Key20) isKey() {}
func (Key32) isKey() {}
func (Key64) isKey() {}

func (k Key20) String() string { return fmt.Sprintf("%02x:%x", k.Code, k.Digest) }
func (k Key32) String() string { return fmt.Sprintf("%02x:%x", k.Code, k.Digest) }
func (k Key64) String() string { return fmt.Sprintf("%02x:%x", k.Code, k.Digest) }

// NewKey returns the Key variant matching the length of digest.
func NewKey(code uint8, digest []byte) (Key, error) {
	if code == 0 {
		return nil, ErrReservedCode
	}
	switch len(digest) {
	case 20:
		k := Key20{Code: code}
		copy(k.Digest[:], digest)
		return k, nil
	case 32:
		k := Key32{Code: code}
		copy(k.Digest[:], digest)
		return k, nil
	case 64:
		k := Key64{Code: code}
		copy(k.Digest[:], digest)
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %d-byte digest", ErrKeySize, len(digest))
	}
}

// parseCanonical is the inverse of Key.AppendCanonical.
func parseCanonical(b []byte) (Key, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrKeySize)
	}
	return NewKey(b[len(b)-1], b[:len(b)-1])
}

// canonicalKey serializes k into dst for a table of digestSize-byte
// digests.
func canonicalKey(dst []byte, k Key, digestSize int) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("%w: nil key", ErrKeySize)
	}
	if k.DigestSize() != digestSize {
		return nil, fmt.Errorf("%w: %d-byte digest in a table of %d-byte digests", ErrKeySize, k.DigestSize(), digestSize)
	}
	if k.KeyCode() == 0 {
		return nil, ErrReservedCode
	}
	return k.AppendCanonical(dst[:0]), nil
}
