// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package dnsseed implements the UDP DNS seed responder (C6):
// spec.md §4.5. The wire codec is a hand-rolled byte-exact port of
// original_source/src/p2p/dns_server.rs (no DNS library in the pack is
// grounded on anything but unused manifest entries, see DESIGN.md).
package dnsseed

import (
	"encoding/binary"
	"errors"
	"net"
)

// Port is the UDP port the responder binds, spec.md §4.5.
const Port = 1053

const headerSize = 12

var errMalformedQuery = errors.New("dnsseed: malformed query")

// query is a parsed DNS question.
type query struct {
	txID        uint16
	isAQuery    bool
	qname       string
	questionEnd int // byte offset just past the question section in the raw request
}

// parseQuery mirrors dns_server.rs::parse_dns_query byte for byte: a
// 12-byte header, a label-sequence qname terminated by a zero length
// byte, then a 4-byte QTYPE/QCLASS pair.
func parseQuery(req []byte) (*query, error) {
	if len(req) < headerSize {
		return nil, errMalformedQuery
	}

	txID := binary.BigEndian.Uint16(req[0:2])
	flags := binary.BigEndian.Uint16(req[2:4])
	qdcount := binary.BigEndian.Uint16(req[4:6])
	if flags&0x8000 != 0 || qdcount == 0 {
		return nil, errMalformedQuery
	}

	idx := headerSize
	var labels []string
	for idx < len(req) && req[idx] != 0 {
		length := int(req[idx])
		idx++
		if idx+length > len(req) {
			return nil, errMalformedQuery
		}
		labels = append(labels, string(req[idx:idx+length]))
		idx += length
	}
	if idx >= len(req) {
		return nil, errMalformedQuery
	}
	idx++ // skip the terminating zero length byte

	if idx+4 > len(req) {
		return nil, errMalformedQuery
	}
	qtype := binary.BigEndian.Uint16(req[idx : idx+2])
	qclass := binary.BigEndian.Uint16(req[idx+2 : idx+4])

	qname := ""
	for i, l := range labels {
		if i > 0 {
			qname += "."
		}
		qname += l
	}

	return &query{
		txID:        txID,
		isAQuery:    qtype == 1 && qclass == 1,
		qname:       qname,
		questionEnd: idx + 4,
	}, nil
}

// questionSection returns the byte range of req holding the echoed
// question (qname + QTYPE + QCLASS), verbatim, the way the original
// copies req[12..idx] rather than re-encoding it.
func questionSection(req []byte, q *query) []byte {
	return req[headerSize:q.questionEnd]
}

// buildResponse answers a matching A-query with up to len(ips) answer
// records, one compression-pointer name each, per spec.md §4.5.
func buildResponse(req []byte, q *query, ips []net.IP) []byte {
	resp := make([]byte, 0, headerSize+q.questionEnd-headerSize+len(ips)*16)

	resp = append(resp, byte(q.txID>>8), byte(q.txID))
	resp = append(resp, 0x81, 0x80) // response, RD echoed, RA set
	resp = append(resp, 0x00, 0x01) // QDCOUNT
	resp = appendUint16(resp, uint16(len(ips)))
	resp = append(resp, 0x00, 0x00) // NSCOUNT
	resp = append(resp, 0x00, 0x00) // ARCOUNT

	resp = append(resp, questionSection(req, q)...)

	for _, ip := range ips {
		resp = append(resp, 0xC0, 0x0C) // name: pointer to offset 12
		resp = append(resp, 0x00, 0x01) // TYPE = A
		resp = append(resp, 0x00, 0x01) // CLASS = IN
		resp = append(resp, 0x00, 0x00, 0x00, 0x3C) // TTL = 60s
		resp = append(resp, 0x00, 0x04) // RDLENGTH = 4

		v4 := ip.To4()
		if v4 == nil {
			v4 = net.IPv4zero.To4() // IPv6 peers are excluded before this is called; defensive only
		}
		resp = append(resp, v4...)
	}

	return resp
}

// buildNotImplemented answers a non-matching or unsupported query with
// RCODE=4 and the question section echoed back.
func buildNotImplemented(req []byte, q *query) []byte {
	resp := make([]byte, 0, headerSize+q.questionEnd-headerSize)

	resp = append(resp, byte(q.txID>>8), byte(q.txID))
	resp = append(resp, 0x81, 0x84) // response, RCODE=4 NotImplemented
	resp = append(resp, 0x00, 0x01) // QDCOUNT
	resp = append(resp, 0x00, 0x00) // ANCOUNT
	resp = append(resp, 0x00, 0x00) // NSCOUNT
	resp = append(resp, 0x00, 0x00) // ARCOUNT

	resp = append(resp, questionSection(req, q)...)
	return resp
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}
