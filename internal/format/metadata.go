// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/bpowers/ikvblob/internal/hashing"
)

const (
	keyCompressionType = "compression_type"
	keyCompressionDict = "compression_dict"
	keyIndexHash       = "index_hash"

	// CompressionZstd is the only supported compression scheme.
	CompressionZstd = "zstd"
)

var metadataEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Metadata is the open key/value map stored after the header.  Unknown
// keys are ignored by readers.
type Metadata struct {
	// CompressionType and CompressionDict are either both set or both
	// empty.
	CompressionType string
	CompressionDict []byte
	// IndexHash names the hash family used by the index; empty means
	// the default family.
	IndexHash string
}

// Family returns the hash family the index was built with.
func (m Metadata) Family() (hashing.Family, error) {
	f, err := hashing.ParseFamily(m.IndexHash)
	if err != nil {
		return 0, formatErrorf("%s", err)
	}
	return f, nil
}

// Compressed reports whether values are dictionary-compressed.
func (m Metadata) Compressed() bool {
	return m.CompressionType != ""
}

// Validate checks that the metadata only uses options this package
// understands.
func (m Metadata) Validate() error {
	if (m.CompressionType == "") != (len(m.CompressionDict) == 0) {
		return formatErrorf("%s and %s must be present together", keyCompressionType, keyCompressionDict)
	}
	if m.CompressionType != "" && m.CompressionType != CompressionZstd {
		return formatErrorf("unsupported compression type %q", m.CompressionType)
	}
	if _, err := m.Family(); err != nil {
		return err
	}
	return nil
}

// MarshalBinary encodes the metadata as a CBOR map with text keys.
// Absent options are omitted, so metadata with no options is an empty map.
func (m Metadata) MarshalBinary() ([]byte, error) {
	md := make(map[string]interface{})
	if m.CompressionType != "" {
		md[keyCompressionType] = m.CompressionType
		md[keyCompressionDict] = m.CompressionDict
	}
	if m.IndexHash != "" {
		md[keyIndexHash] = m.IndexHash
	}
	return metadataEncMode.Marshal(md)
}

// ParseMetadata decodes and validates a metadata region.  An empty
// region is treated as an empty map.
func ParseMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if len(b) == 0 {
		return m, nil
	}

	var raw map[string]cbor.RawMessage
	if err := cbor.Unmarshal(b, &raw); err != nil {
		return m, formatErrorf("metadata is not a CBOR map with text keys: %s", err)
	}
	if v, ok := raw[keyCompressionType]; ok {
		if err := cbor.Unmarshal(v, &m.CompressionType); err != nil {
			return m, formatErrorf("%s is not a string: %s", keyCompressionType, err)
		}
	}
	if v, ok := raw[keyCompressionDict]; ok {
		if err := cbor.Unmarshal(v, &m.CompressionDict); err != nil {
			return m, formatErrorf("%s is not binary: %s", keyCompressionDict, err)
		}
	}
	if v, ok := raw[keyIndexHash]; ok {
		if err := cbor.Unmarshal(v, &m.IndexHash); err != nil {
			return m, formatErrorf("%s is not a string: %s", keyIndexHash, err)
		}
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// padLen returns the number of zero bytes needed to align n to 8.
func padLen(n uint64) uint64 {
	return (8 - n%8) % 8
}
