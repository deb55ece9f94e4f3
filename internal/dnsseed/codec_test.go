// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package dnsseed

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeQuery(t *testing.T, txID uint16, qname string) []byte {
	req := []byte{byte(txID >> 8), byte(txID), 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	for _, label := range splitLabels(qname) {
		require.LessOrEqual(t, len(label), 63)
		req = append(req, byte(len(label)))
		req = append(req, []byte(label)...)
	}
	req = append(req, 0x00)
	req = append(req, 0x00, 0x01, 0x00, 0x01) // QTYPE=A, QCLASS=IN
	return req
}

func splitLabels(qname string) []string {
	var out []string
	start := 0
	for i := 0; i < len(qname); i++ {
		if qname[i] == '.' {
			out = append(out, qname[start:i])
			start = i + 1
		}
	}
	if start < len(qname) {
		out = append(out, qname[start:])
	}
	return out
}

func TestParseQueryRoundTrip(t *testing.T) {
	req := encodeQuery(t, 0xABCD, "seed.example.com")
	q, err := parseQuery(req)
	require.NoError(t, err)
	require.Equal(t, uint16(0xABCD), q.txID)
	require.True(t, q.isAQuery)
	require.Equal(t, "seed.example.com", q.qname)
}

func TestParseQueryRejectsTooShort(t *testing.T) {
	_, err := parseQuery([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestParseQueryRejectsResponseFlag(t *testing.T) {
	req := encodeQuery(t, 1, "seed.example.com")
	req[2] = 0x81 // QR bit set: this is a response, not a query
	_, err := parseQuery(req)
	require.Error(t, err)
}

func TestBuildResponseShape(t *testing.T) {
	req := encodeQuery(t, 0x1234, "seed.example.com")
	q, err := parseQuery(req)
	require.NoError(t, err)

	ips := []net.IP{net.IPv4(1, 2, 3, 4), net.IPv4(5, 6, 7, 8)}
	resp := buildResponse(req, q, ips)

	require.Equal(t, byte(0x12), resp[0])
	require.Equal(t, byte(0x34), resp[1])
	require.Equal(t, byte(0x81), resp[2])
	require.Equal(t, byte(0x80), resp[3])
	require.Equal(t, uint16(2), be16(resp[6:8])) // ANCOUNT

	answerStart := headerSize + (q.questionEnd - headerSize)
	require.Equal(t, []byte{0xC0, 0x0C}, resp[answerStart:answerStart+2])
	require.Equal(t, []byte{0x00, 0x04}, resp[answerStart+10:answerStart+12])
	require.Equal(t, []byte{1, 2, 3, 4}, resp[answerStart+12:answerStart+16])
}

func TestBuildNotImplementedEchoesQuestion(t *testing.T) {
	req := encodeQuery(t, 0x99, "unknown.example.com")
	q, err := parseQuery(req)
	require.NoError(t, err)

	resp := buildNotImplemented(req, q)
	require.Equal(t, byte(0x81), resp[2])
	require.Equal(t, byte(0x84), resp[3])
	require.Equal(t, req[headerSize:q.questionEnd], resp[headerSize:])
}

func be16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
