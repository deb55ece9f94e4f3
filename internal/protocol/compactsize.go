// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package protocol

import "encoding/binary"

// PutCompactSize encodes n using Bitcoin's variable-length unsigned
// integer encoding and returns the minimal-length representation.
func PutCompactSize(n uint64) []byte {
	switch {
	case n <= 0xFC:
		return []byte{byte(n)}
	case n <= 0xFFFF:
		b := make([]byte, 3)
		b[0] = 0xFD
		binary.LittleEndian.PutUint16(b[1:], uint16(n))
		return b
	case n <= 0xFFFFFFFF:
		b := make([]byte, 5)
		b[0] = 0xFE
		binary.LittleEndian.PutUint32(b[1:], uint32(n))
		return b
	default:
		b := make([]byte, 9)
		b[0] = 0xFF
		binary.LittleEndian.PutUint64(b[1:], n)
		return b
	}
}

// CompactSize parses a compact-size integer from the front of data,
// returning the decoded value and the number of bytes consumed.
//
// If the buffer is too short for the declared discriminator, it
// returns (0, 1) instead of an error: this lets callers detect a
// malformed count without aborting the stream they are parsing.
func CompactSize(data []byte) (value uint64, consumed int) {
	if len(data) == 0 {
		return 0, 0
	}

	switch b := data[0]; {
	case b <= 0xFC:
		return uint64(b), 1
	case b == 0xFD:
		if len(data) < 3 {
			return 0, 1
		}
		return uint64(binary.LittleEndian.Uint16(data[1:3])), 3
	case b == 0xFE:
		if len(data) < 5 {
			return 0, 1
		}
		return uint64(binary.LittleEndian.Uint32(data[1:5])), 5
	default: // 0xFF
		if len(data) < 9 {
			return 0, 1
		}
		return binary.LittleEndian.Uint64(data[1:9]), 9
	}
}
