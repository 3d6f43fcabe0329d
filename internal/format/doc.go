// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package format defines the on-disk layout of an ikvblob file: a
// fixed header, a CBOR metadata map, a serialized cuckoo index and the
// value blob, followed by a CRC-32 of everything before it.
//
// A file generally looks like:
//
//	┌───────────────────┐ 0
//	│ magic "\0Ikvblob" │
//	├───────────────────┤ 8
//	│ 10 x u64 header   │
//	├───────────────────┤ 88 = metadata offset
//	│ CBOR metadata map │
//	│ (padded to 8)     │
//	├───────────────────┤ index offset
//	│ cuckoo buckets    │
//	│ BS slots each     │
//	│                   │
//	├───────────────────┤ value blob offset
//	│ concatenated      │
//	│ (compressed)      │
//	│ values            │
//	│                   │
//	├───────────────────┤
//	│ CRC-32 (IEEE)     │
//	└───────────────────┘
//
// Index slots are fixed-width.  For an N-byte digest a slot is N+16 bytes:
//
//	+------------------+-------------------------+----------------+
//	| digest (N bytes) | code<<56 | offset (u64) | length (u64)   |
//	+------------------+-------------------------+----------------+
//
// An all-zero slot is empty: key code 0 is never used for a real key.
// Value offsets are relative to the start of the value blob and must fit
// in 56 bits.  All integers are little-endian.
package format
