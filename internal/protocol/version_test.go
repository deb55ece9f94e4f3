// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package protocol

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeVersionPayloadShapeAndProtocolVersion(t *testing.T) {
	recipient := &net.TCPAddr{IP: net.ParseIP("8.8.8.8"), Port: 8333}
	payload := EncodeVersionPayload(VersionParams{
		ProtocolVersion: DefaultProtocolVersion,
		Timestamp:       1700000000,
		Recipient:       recipient,
	})

	pv, ok := DecodeVersionProtocol(payload)
	require.True(t, ok)
	require.Equal(t, int32(DefaultProtocolVersion), pv)

	// version(4) + services(8) + ts(8) + recipient(8+16+2) + sender(8+16+2) + nonce(8) + ua(1) + height(4) + relay(1)
	require.Equal(t, 4+8+8+26+26+8+1+4+1, len(payload))
}

func TestDecodeVersionProtocolShortPayload(t *testing.T) {
	_, ok := DecodeVersionProtocol([]byte{1, 2, 3})
	require.False(t, ok)
}
