// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package peerdb

import (
	"sync"
	"time"

	"github.com/btcnode/seedcrawler/internal/logbus"
)

// command is the internal representation of an actor command. Only
// the actor goroutine ever applies one to the in-memory database.
type command interface {
	apply(d *Database, now int64)
}

type updatePeerStatus struct {
	addr   Address
	status Status
}

func (c updatePeerStatus) apply(d *Database, now int64) {
	d.updateStatus(c.addr, c.status, now)
}

type registerPeer struct {
	addr     Address
	services *uint64
}

func (c registerPeer) apply(d *Database, now int64) {
	d.register(c.addr, c.services, now)
}

// Actor is the single writer (C4) of the peer database: it receives
// commands on a channel, applies them in receive order, and rewrites
// the on-disk file after each one. Read snapshots are obtained by
// cloning the in-memory map under a read lock (Snapshot), matching
// spec.md §4.3 exactly.
type Actor struct {
	path string
	bus  *logbus.Bus

	mtx sync.RWMutex
	db  *Database

	cmds chan command
	done chan struct{}
}

// NewActor loads the database from path (or starts empty on a missing
// or malformed file) and returns an Actor ready to Run.
func NewActor(path string, bus *logbus.Bus) *Actor {
	return &Actor{
		path: path,
		bus:  bus,
		db:   Load(path),
		cmds: make(chan command, 64),
		done: make(chan struct{}),
	}
}

// Run drives the actor loop until its command channel is closed
// (Stop), draining any buffered commands first. It is meant to run in
// its own goroutine.
func (a *Actor) Run() {
	defer close(a.done)
	for cmd := range a.cmds {
		now := time.Now().Unix()

		a.mtx.Lock()
		cmd.apply(a.db, now)
		count := a.db.Len()
		a.mtx.Unlock()

		if err := a.persist(); err != nil {
			a.bus.Publish(logbus.Warn, logbus.Custom{Text: "peer database persist failed: " + err.Error()})
			continue // in-memory database is retained; next mutation retries the rewrite
		}
		a.bus.Publish(logbus.Info, logbus.SavedToDisk{Count: count})
	}
}

func (a *Actor) persist() error {
	a.mtx.RLock()
	snapshot := a.db.Clone()
	a.mtx.RUnlock()
	return Save(a.path, snapshot)
}

// Stop closes the command channel and waits for the actor loop to
// drain and exit.
func (a *Actor) Stop() {
	close(a.cmds)
	<-a.done
}

// UpdatePeerStatus enqueues a status transition for addr.
func (a *Actor) UpdatePeerStatus(addr Address, status Status) {
	a.cmds <- updatePeerStatus{addr: addr, status: status}
}

// RegisterPeer enqueues an upsert of addr with an optionally-known
// service bitmap.
func (a *Actor) RegisterPeer(addr Address, services *uint64) {
	a.cmds <- registerPeer{addr: addr, services: services}
}

// Snapshot returns a point-in-time, read-only clone of the database.
func (a *Actor) Snapshot() *Database {
	a.mtx.RLock()
	defer a.mtx.RUnlock()
	return a.db.Clone()
}
