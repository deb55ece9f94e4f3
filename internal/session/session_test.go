// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/btcnode/seedcrawler/internal/logbus"
	"github.com/btcnode/seedcrawler/internal/protocol"
)

// fakePeer is a minimal loopback TCP peer used to drive a Session
// through its handshake and steady state without a real Bitcoin node.
type fakePeer struct {
	ln   net.Listener
	port uint16
}

func newFakePeer(t *testing.T) *fakePeer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port

	return &fakePeer{ln: ln, port: uint16(port)}
}

func (f *fakePeer) accept(t *testing.T) net.Conn {
	conn, err := f.ln.Accept()
	require.NoError(t, err)
	return conn
}

func testConfig(port uint16) *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            port,
		ProtocolVersion: 70015,
		ConnectTimeout:  2 * time.Second,
		ReadTimeout:     2 * time.Second,
		MaxMessages:     500000,
		DiscoverPeers:   true,
	}
}

func readFrame(t *testing.T, conn net.Conn) (*protocol.MessageHeader, []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	h, payload, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	return h, payload
}

func writeFrame(t *testing.T, conn net.Conn, command string, payload []byte) {
	frame, err := protocol.EncodeFrame(command, payload)
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)
}

// completeHandshake drains the client's outbound version, replies with
// version+verack, then reads back the client's verack (and its
// getaddr, if expectGetAddr).
func completeHandshake(t *testing.T, conn net.Conn, peerPort uint16, expectGetAddr bool) {
	h, _ := readFrame(t, conn) // client version
	require.Equal(t, protocol.CmdVersion, h.Command)

	writeFrame(t, conn, protocol.CmdVersion, protocol.EncodeVersionPayload(protocol.VersionParams{
		ProtocolVersion: 70015,
		Timestamp:       time.Now().Unix(),
		Recipient:       &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(peerPort)},
	}))
	writeFrame(t, conn, protocol.CmdVerack, nil)

	h, _ = readFrame(t, conn) // client verack
	require.Equal(t, protocol.CmdVerack, h.Command)

	if expectGetAddr {
		h, _ = readFrame(t, conn)
		require.Equal(t, protocol.CmdGetAddr, h.Command)
	}
}

func TestHandshakeCompletesAndSendsGetAddr(t *testing.T) {
	peer := newFakePeer(t)
	bus := logbus.New(64)

	s := New(testConfig(peer.port), bus, nil)
	go func() { _ = s.Run(context.Background()) }()

	conn := peer.accept(t)
	defer conn.Close()

	completeHandshake(t, conn, peer.port, true)

	require.Eventually(t, func() bool {
		return s.State() == Ready
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
}

func TestVersionThenVerackObservesIntermediateStates(t *testing.T) {
	peer := newFakePeer(t)
	bus := logbus.New(64)

	s := New(testConfig(peer.port), bus, nil)
	go func() { _ = s.Run(context.Background()) }()

	conn := peer.accept(t)
	defer conn.Close()

	h, _ := readFrame(t, conn) // client version
	require.Equal(t, protocol.CmdVersion, h.Command)

	writeFrame(t, conn, protocol.CmdVersion, protocol.EncodeVersionPayload(protocol.VersionParams{
		ProtocolVersion: 70015,
		Timestamp:       time.Now().Unix(),
		Recipient:       &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(peer.port)},
	}))

	require.Eventually(t, func() bool {
		return s.State() == VersionReceived
	}, 2*time.Second, 10*time.Millisecond)

	h, _ = readFrame(t, conn) // client verack
	require.Equal(t, protocol.CmdVerack, h.Command)

	writeFrame(t, conn, protocol.CmdVerack, nil)

	require.Eventually(t, func() bool {
		return s.State() == Ready
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
}

func TestVerackBeforeVersionDoesNotRegressState(t *testing.T) {
	peer := newFakePeer(t)
	bus := logbus.New(64)

	s := New(testConfig(peer.port), bus, nil)
	go func() { _ = s.Run(context.Background()) }()

	conn := peer.accept(t)
	defer conn.Close()

	h, _ := readFrame(t, conn) // client version
	require.Equal(t, protocol.CmdVersion, h.Command)

	// verack arrives first: the session should latch VerackReceived...
	writeFrame(t, conn, protocol.CmdVerack, nil)
	require.Eventually(t, func() bool {
		return s.State() == VerackReceived
	}, 2*time.Second, 10*time.Millisecond)

	// ...and a subsequent version must not pull the state back down to
	// VersionReceived, matching spec.md §8's handshake-idempotence
	// property.
	writeFrame(t, conn, protocol.CmdVersion, protocol.EncodeVersionPayload(protocol.VersionParams{
		ProtocolVersion: 70015,
		Timestamp:       time.Now().Unix(),
		Recipient:       &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(peer.port)},
	}))

	h, _ = readFrame(t, conn) // client verack (reply to inbound version)
	require.Equal(t, protocol.CmdVerack, h.Command)

	require.Eventually(t, func() bool {
		return s.State() == Ready
	}, 2*time.Second, 10*time.Millisecond)
	require.NotEqual(t, VersionReceived, s.State())

	s.Stop()
}

func TestPingIsEchoedAsPong(t *testing.T) {
	peer := newFakePeer(t)
	bus := logbus.New(64)

	s := New(testConfig(peer.port), bus, nil)
	go func() { _ = s.Run(context.Background()) }()

	conn := peer.accept(t)
	defer conn.Close()

	completeHandshake(t, conn, peer.port, true)

	noncePayload := make([]byte, 8)
	noncePayload[0] = 0x42
	writeFrame(t, conn, protocol.CmdPing, noncePayload)

	h, payload := readFrame(t, conn)
	require.Equal(t, protocol.CmdPong, h.Command)
	require.Equal(t, noncePayload, payload)

	s.Stop()
}

func TestInventoryBatchLimitsEnforced(t *testing.T) {
	peer := newFakePeer(t)
	bus := logbus.New(256)

	s := New(testConfig(peer.port), bus, nil)
	go func() { _ = s.Run(context.Background()) }()

	conn := peer.accept(t)
	defer conn.Close()

	completeHandshake(t, conn, peer.port, true)

	var items []protocol.InventoryItem
	for i := 0; i < 15; i++ {
		var h chainhash.Hash
		h[0] = byte(i + 1)
		items = append(items, protocol.InventoryItem{Kind: protocol.InvTx, Hash: h})
	}
	for i := 0; i < 5; i++ {
		var h chainhash.Hash
		h[1] = byte(i + 1)
		items = append(items, protocol.InventoryItem{Kind: protocol.InvBlock, Hash: h})
	}
	writeFrame(t, conn, protocol.CmdInv, protocol.EncodeInventoryItems(items))

	h, payload := readFrame(t, conn)
	require.Equal(t, protocol.CmdGetData, h.Command)

	got := protocol.DecodeInventoryItems(payload)
	require.Len(t, got, maxTxBatch+maxBlockBatch)

	s.Stop()
}

func TestSessionStopsAtMaxMessages(t *testing.T) {
	peer := newFakePeer(t)
	bus := logbus.New(64)

	cfg := testConfig(peer.port)
	cfg.MaxMessages = 2
	cfg.DiscoverPeers = false

	s := New(cfg, bus, nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	conn := peer.accept(t)
	defer conn.Close()

	completeHandshake(t, conn, peer.port, false)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop at max_messages")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	peer := newFakePeer(t)
	bus := logbus.New(64)

	s := New(testConfig(peer.port), bus, nil)
	go func() { _ = s.Run(context.Background()) }()

	conn := peer.accept(t)
	defer conn.Close()
	readFrame(t, conn)

	s.Stop()
	s.Stop()
	require.Equal(t, Closed, s.State())
}
