// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"net"
)

// DefaultProtocolVersion is the protocol version advertised in an
// outbound version message unless overridden by configuration.
const DefaultProtocolVersion = 70015

// nodeNetworkService is the NODE_NETWORK service bit advertised by
// this client.
const nodeNetworkService = 1

// versionNonce is a constant nonce; any value is acceptable since this
// client never checks for self-connection.
const versionNonce = 123456789

// VersionParams customises the fields of an outbound version payload
// that vary per connection or configuration.
type VersionParams struct {
	ProtocolVersion int32
	Timestamp       int64 // Unix seconds
	Recipient       *net.TCPAddr
}

// EncodeVersionPayload builds the outbound version payload described
// in spec.md §4.1.
func EncodeVersionPayload(p VersionParams) []byte {
	buf := make([]byte, 0, 128)

	var pv [4]byte
	binary.LittleEndian.PutUint32(pv[:], uint32(p.ProtocolVersion))
	buf = append(buf, pv[:]...)

	var services [8]byte
	binary.LittleEndian.PutUint64(services[:], nodeNetworkService)
	buf = append(buf, services[:]...)

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(p.Timestamp))
	buf = append(buf, ts[:]...)

	// Recipient net-addr: services, IP, port (BE).
	buf = append(buf, services[:]...)
	var recipIP [16]byte
	var recipPort uint16
	if p.Recipient != nil {
		recipIP = encode16ByteIP(p.Recipient.IP)
		recipPort = uint16(p.Recipient.Port)
	}
	buf = append(buf, recipIP[:]...)
	var portBE [2]byte
	binary.BigEndian.PutUint16(portBE[:], recipPort)
	buf = append(buf, portBE[:]...)

	// Sender net-addr: all zero services and address.
	var zero8 [8]byte
	var zero16 [16]byte
	var zero2 [2]byte
	buf = append(buf, zero8[:]...)
	buf = append(buf, zero16[:]...)
	buf = append(buf, zero2[:]...)

	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], versionNonce)
	buf = append(buf, nonce[:]...)

	// User agent: empty compact-size length.
	buf = append(buf, PutCompactSize(0)...)

	var startHeight [4]byte
	binary.LittleEndian.PutUint32(startHeight[:], 0)
	buf = append(buf, startHeight[:]...)

	buf = append(buf, 1) // relay flag

	return buf
}

// DecodeVersionProtocol reads only the first 4 bytes of a version
// payload: the advertised protocol version, little-endian.
func DecodeVersionProtocol(payload []byte) (int32, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(payload[:4])), true
}
