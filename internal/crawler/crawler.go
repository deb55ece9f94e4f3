// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package crawler implements the bounded fan-out peer prober (C5):
// spec.md §4.4. It is grounded on the teacher's peerManager/peerConnect
// pattern (service/tbc/tbc.go) — a goroutine per candidate reporting
// back through a channel — generalized from "keep N long-lived peers
// connected forever" to "probe exactly the first N candidates once".
package crawler

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/btcnode/seedcrawler/internal/logbus"
	"github.com/btcnode/seedcrawler/internal/peerdb"
	"github.com/btcnode/seedcrawler/internal/protocol"
)

// MaxFanOut is the bounded parallelism of one crawl: spec.md §4.4
// "N=4".
const MaxFanOut = 4

const dialTimeout = 5 * time.Second

// LiveSet is the process-wide, lock-protected set of endpoints the
// crawler currently considers reachable, spec.md §4.4's "live crawl
// set". It is shared across every Crawler built with the same LiveSet
// value, matching the spec's "share the same live crawl set" wording.
type LiveSet struct {
	mtx  sync.Mutex
	live map[peerdb.Address]struct{}
}

// NewLiveSet returns an empty live crawl set.
func NewLiveSet() *LiveSet {
	return &LiveSet{live: make(map[peerdb.Address]struct{})}
}

func (l *LiveSet) add(addr peerdb.Address) {
	l.mtx.Lock()
	l.live[addr] = struct{}{}
	l.mtx.Unlock()
}

// Len reports how many endpoints are currently marked live.
func (l *LiveSet) Len() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return len(l.live)
}

// Crawler probes peer database candidates and reports outcomes back
// through the same database actor (C4) that supplied them.
type Crawler struct {
	db   *peerdb.Actor
	bus  *logbus.Bus
	live *LiveSet
}

// New returns a Crawler sharing db's actor and live as its live crawl
// set.
func New(db *peerdb.Actor, bus *logbus.Bus, live *LiveSet) *Crawler {
	return &Crawler{db: db, bus: bus, live: live}
}

// Crawl takes the peer database's current snapshot, selects at most
// MaxFanOut of its addresses (whatever their status), and probes them in
// parallel. It blocks until every probe has completed, per spec.md
// §4.4 "the crawler waits for all probes to complete before
// returning". Not re-entrant-safe guarantees are unnecessary: multiple
// concurrent Crawl calls are explicitly permitted by the spec and
// simply share the same db/live.
func (c *Crawler) Crawl() {
	candidates := c.candidates()
	if len(candidates) > MaxFanOut {
		candidates = candidates[:MaxFanOut]
	}

	var wg sync.WaitGroup
	for _, addr := range candidates {
		wg.Add(1)
		go c.probe(&wg, addr)
	}
	wg.Wait()
}

// candidates returns database addresses in map-iteration order. The
// peer database doesn't rank candidates (spec.md is silent on
// ordering), so any subset of at most MaxFanOut is a valid "first N"
// per the spec's own phrasing. Go randomises map iteration, so which
// addresses come first can differ from one call to the next.
func (c *Crawler) candidates() []peerdb.Address {
	snap := c.db.Snapshot()
	out := make([]peerdb.Address, 0, snap.Len())
	for addr := range snap.Peers {
		out = append(out, addr)
	}
	return out
}

// probe implements one fan-out branch of spec.md §4.4: connect, report
// status, and for a successful connection, register the endpoint as
// live and send a bare getaddr without reading the reply. A panic in
// one probe must not take down the others, so it's recovered and
// reported as a failed probe rather than propagated.
func (c *Crawler) probe(wg *sync.WaitGroup, addr peerdb.Address) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.bus.Publish(logbus.Error, logbus.Custom{Text: "crawler probe panicked: " + addrString(addr)})
			c.db.UpdatePeerStatus(addr, peerdb.Unreachable)
		}
	}()

	target := net.JoinHostPort(addr.IP, strconv.Itoa(int(addr.Port)))
	conn, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		c.db.UpdatePeerStatus(addr, peerdb.Unreachable)
		c.bus.Publish(logbus.Debug, logbus.FailedConnection{Addr: target, Reason: err.Error()})
		return
	}
	defer conn.Close()

	c.db.UpdatePeerStatus(addr, peerdb.ConnectedRecently)
	c.live.add(addr)
	c.bus.Publish(logbus.Info, logbus.Connected{Addr: conn.RemoteAddr()})

	if err := sendGetAddr(conn); err != nil {
		c.bus.Publish(logbus.Debug, logbus.Custom{Text: "probe getaddr write failed: " + err.Error()})
	}
	// Intentionally no read of the reply: spec.md §4.4 / §9 preserves
	// this as the source's (likely unintentional) documented behavior.
}

func addrString(addr peerdb.Address) string {
	return addr.String()
}

func sendGetAddr(conn net.Conn) error {
	frame, err := protocol.EncodeFrame(protocol.CmdGetAddr, nil)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}
