// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"net"
)

// netAddrSize is the fixed size of one addr-list entry on the wire:
// 4-byte timestamp + 8-byte services + 16-byte IP + 2-byte port.
const netAddrSize = 4 + 8 + 16 + 2

// ipv4MappedPrefix is the ::ffff: prefix used to embed an IPv4 address
// in the protocol's 16-byte IP field.
var ipv4MappedPrefix = [12]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF}

func encode16ByteIP(ip net.IP) [16]byte {
	var out [16]byte
	if v4 := ip.To4(); v4 != nil {
		copy(out[:12], ipv4MappedPrefix[:])
		copy(out[12:], v4)
		return out
	}
	copy(out[:], ip.To16())
	return out
}

func decode16ByteIP(b []byte) net.IP {
	if len(b) >= 12 && [12]byte(b[:12]) == ipv4MappedPrefix {
		ip := make(net.IP, 4)
		copy(ip, b[12:16])
		return ip
	}
	ip := make(net.IP, 16)
	copy(ip, b)
	return ip
}

// GossipedAddress is one entry decoded from an inbound addr payload.
type GossipedAddress struct {
	Timestamp uint32
	Services  uint64
	IP        net.IP
	Port      uint16
}

// DecodeAddrPayload decodes the entries of an inbound addr message.
// It stops cleanly, without error, if the remaining bytes are
// insufficient for the declared count, per spec.md §4.1.
func DecodeAddrPayload(payload []byte) []GossipedAddress {
	if len(payload) == 0 {
		return nil
	}

	count, offset := CompactSize(payload)
	if count == 0 {
		return nil
	}

	out := make([]GossipedAddress, 0, count)
	for i := uint64(0); i < count; i++ {
		if offset+netAddrSize > len(payload) {
			break
		}

		entry := payload[offset : offset+netAddrSize]
		ts := binary.LittleEndian.Uint32(entry[0:4])
		services := binary.LittleEndian.Uint64(entry[4:12])
		ip := decode16ByteIP(entry[12:28])
		port := binary.BigEndian.Uint16(entry[28:30])

		out = append(out, GossipedAddress{
			Timestamp: ts,
			Services:  services,
			IP:        ip,
			Port:      port,
		})
		offset += netAddrSize
	}

	return out
}
