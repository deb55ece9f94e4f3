// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package peerdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcnode/seedcrawler/internal/logbus"
	"github.com/stretchr/testify/require"
)

func TestRegisterPeerCreatesNeverTried(t *testing.T) {
	d := New()
	addr := Address{IP: "1.2.3.4", Port: 8333}
	d.register(addr, nil, 100)

	rec, ok := d.Peers[addr]
	require.True(t, ok)
	require.Equal(t, NeverTried, rec.Status)
	require.EqualValues(t, 100, rec.LastSeen)
}

func TestRegisterPeerNeverResetsServicesToNil(t *testing.T) {
	d := New()
	addr := Address{IP: "1.2.3.4", Port: 8333}
	svc := uint64(7)
	d.register(addr, &svc, 100)
	d.register(addr, nil, 200)

	rec := d.Peers[addr]
	require.NotNil(t, rec.Services)
	require.EqualValues(t, 7, *rec.Services)
	require.EqualValues(t, 200, rec.LastSeen)
}

func TestUpdateStatusStampsLastConnectedOnlyForConnectedRecently(t *testing.T) {
	d := New()
	addr := Address{IP: "1.2.3.4", Port: 8333}
	d.updateStatus(addr, Unreachable, 100)
	require.EqualValues(t, 0, d.Peers[addr].LastConnected)

	d.updateStatus(addr, ConnectedRecently, 200)
	require.EqualValues(t, 200, d.Peers[addr].LastConnected)
	require.LessOrEqual(t, d.Peers[addr].LastConnected, d.Peers[addr].LastSeen)
}

func TestReachableFiltersByStatus(t *testing.T) {
	d := New()
	a1 := Address{IP: "1.1.1.1", Port: 1}
	a2 := Address{IP: "2.2.2.2", Port: 2}
	d.updateStatus(a1, ConnectedRecently, 1)
	d.updateStatus(a2, Unreachable, 1)

	reachable := d.Reachable()
	require.Len(t, reachable, 1)
	require.Equal(t, a1, reachable[0].Address)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.json")

	d := New()
	svc := uint64(5)
	addr := Address{IP: "1.2.3.4", Port: 8333}
	d.register(addr, &svc, 111)
	d.updateStatus(addr, ConnectedRecently, 222)

	require.NoError(t, Save(path, d))
	loaded := Load(path)

	rec, ok := loaded.Peers[addr]
	require.True(t, ok)
	require.Equal(t, ConnectedRecently, rec.Status)
	require.EqualValues(t, 222, rec.LastConnected)
	require.NotNil(t, rec.Services)
	require.EqualValues(t, 5, *rec.Services)
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	d := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Equal(t, 0, d.Len())
}

func TestLoadMalformedFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	d := Load(path)
	require.Equal(t, 0, d.Len())
}

func TestActorSingleWriterDeterministicFinalState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.json")
	bus := logbus.New(64)

	a := NewActor(path, bus)
	go a.Run()

	addr := Address{IP: "9.9.9.9", Port: 8333}
	a.RegisterPeer(addr, nil)
	a.UpdatePeerStatus(addr, ConnectedRecently)
	a.Stop()

	snap := a.Snapshot()
	rec, ok := snap.Peers[addr]
	require.True(t, ok)
	require.Equal(t, ConnectedRecently, rec.Status)

	onDisk := Load(path)
	rec2, ok := onDisk.Peers[addr]
	require.True(t, ok)
	require.Equal(t, ConnectedRecently, rec2.Status)
}
