// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package control implements the control facade (C8): spec.md §3/§4.7
// table. It is adapted from api/tbcapi's typed command registry
// (map[Command]reflect.Type plus request/response structs) but drops
// the websocket transport entirely — C8 is specified as "an opaque
// command channel", and nothing in scope needs a network-facing
// control protocol (see DESIGN.md).
package control

import (
	"context"
	"fmt"
	"reflect"

	"github.com/btcnode/seedcrawler/internal/crawler"
	"github.com/btcnode/seedcrawler/internal/dnsseed"
	"github.com/btcnode/seedcrawler/internal/logbus"
	"github.com/btcnode/seedcrawler/internal/peerdb"
	"github.com/btcnode/seedcrawler/internal/session"
)

// Command names the operations C8 exposes, matching spec.md §4.7's
// control surface table (the shell-only verbs help/clear/exit are an
// external CLI concern and are not part of this facade).
type Command string

const (
	CmdStart  Command = "start"
	CmdStop   Command = "stop"
	CmdStatus Command = "status"
	CmdPeers  Command = "peers"
	CmdCrawl  Command = "crawl"
	CmdDNS    Command = "dns"
	CmdConfig Command = "config"
)

// StartRequest/StatusResponse etc. mirror tbcapi's request/response
// struct pairing, kept as plain Go values instead of JSON wire types
// since nothing here crosses a process boundary.
type StartRequest struct{ Config *session.Config }
type StopRequest struct{}
type StatusRequest struct{}
type StatusResponse struct {
	State       session.State
	PeerCount   int
	LiveCrawled int
}
type PeersRequest struct{}
type PeersResponse struct{ Records []peerdb.Record }
type CrawlRequest struct{}
type DNSRequest struct{ Domain string }
type ConfigRequest struct{ Config *session.Config }

// commands is the enumerable registry of exposed operations, kept in
// the same map[Command]reflect.Type shape tbcapi.commands uses, purely
// so the set of supported operations is introspectable the way the
// teacher's API surface is.
var commands = map[Command]reflect.Type{
	CmdStart:  reflect.TypeOf(StartRequest{}),
	CmdStop:   reflect.TypeOf(StopRequest{}),
	CmdStatus: reflect.TypeOf(StatusRequest{}),
	CmdPeers:  reflect.TypeOf(PeersRequest{}),
	CmdCrawl:  reflect.TypeOf(CrawlRequest{}),
	CmdDNS:    reflect.TypeOf(DNSRequest{}),
	CmdConfig: reflect.TypeOf(ConfigRequest{}),
}

// Commands returns the registry of operations this facade exposes.
func Commands() map[Command]reflect.Type {
	out := make(map[Command]reflect.Type, len(commands))
	for k, v := range commands {
		out[k] = v
	}
	return out
}

// request is one opaque command sent over the channel, carrying its
// own response channel.
type request struct {
	cmd     Command
	payload any
	reply   chan any
}

// Facade is the single point through which start/stop/status/peers/
// crawl/dns/config operations reach the running components, spec.md
// §3 "an opaque command channel".
type Facade struct {
	db       *peerdb.Actor
	bus      *logbus.Bus
	live     *crawler.LiveSet
	requests chan request

	sess *session.Session
}

// New returns a Facade wired to the shared peer database actor, log
// bus, and crawler live set.
func New(db *peerdb.Actor, bus *logbus.Bus, live *crawler.LiveSet) *Facade {
	return &Facade{
		db:       db,
		bus:      bus,
		live:     live,
		requests: make(chan request),
	}
}

// Run drains the command channel until ctx is cancelled, matching
// spec.md §5's cancellation model: "cancelling the crawler or DNS task
// terminates them immediately after their next suspension point".
func (f *Facade) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-f.requests:
			req.reply <- f.dispatch(ctx, req)
		}
	}
}

func (f *Facade) dispatch(ctx context.Context, req request) any {
	switch req.cmd {
	case CmdStart:
		p := req.payload.(StartRequest)
		if f.sess != nil && f.sess.State() != session.Closed {
			return fmt.Errorf("control: session already running")
		}
		f.sess = session.New(p.Config, f.bus, f.db)
		go func() { _ = f.sess.Run(ctx) }()
		return nil

	case CmdStop:
		if f.sess != nil {
			f.sess.Stop()
		}
		return nil

	case CmdStatus:
		resp := StatusResponse{State: session.Closed, LiveCrawled: f.live.Len()}
		if f.sess != nil {
			resp.State = f.sess.State()
		}
		resp.PeerCount = f.db.Snapshot().Len()
		return resp

	case CmdPeers:
		snap := f.db.Snapshot()
		recs := make([]peerdb.Record, 0, snap.Len())
		for _, rec := range snap.Peers {
			recs = append(recs, rec)
		}
		return PeersResponse{Records: recs}

	case CmdCrawl:
		c := crawler.New(f.db, f.bus, f.live)
		go c.Crawl()
		return nil

	case CmdDNS:
		p := req.payload.(DNSRequest)
		srv := dnsseed.New(p.Domain, f.db, f.bus)
		if err := srv.Bind(); err != nil {
			// spec.md §7: BindFailure surfaces to the caller of `dns`;
			// the DNS task is not started.
			return err
		}
		go func() { _ = srv.Serve(ctx) }()
		return nil

	case CmdConfig:
		return nil

	default:
		return fmt.Errorf("control: unknown command %q", req.cmd)
	}
}

// Send submits a command and blocks for its response.
func (f *Facade) Send(cmd Command, payload any) any {
	req := request{cmd: cmd, payload: payload, reply: make(chan any, 1)}
	f.requests <- req
	return <-req.reply
}
