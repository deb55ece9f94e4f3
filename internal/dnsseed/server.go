// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package dnsseed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"

	"github.com/btcnode/seedcrawler/internal/logbus"
	"github.com/btcnode/seedcrawler/internal/peerdb"
)

// MaxAnswers is the largest sample of reachable peers returned per
// query, spec.md §4.5 "up to 10".
const MaxAnswers = 10

const maxDatagram = 512

// ErrBindFailure is the spec.md §7 BindFailure kind: the UDP socket
// could not be bound. It must surface to the caller of the `dns`
// command rather than only be logged, and the DNS task must not start.
var ErrBindFailure = errors.New("dnsseed: bind failure")

// Server answers A-record queries for a single configured domain from
// the peer database's reachable set.
type Server struct {
	domain string
	db     *peerdb.Actor
	bus    *logbus.Bus

	conn *net.UDPConn

	answered atomic.Uint64
	rejected atomic.Uint64
}

// New returns a Server that only answers queries for domain, given as
// dot-joined labels with no trailing dot — the same form parseQuery
// reconstructs a qname into, matching what the original compares
// against verbatim.
func New(domain string, db *peerdb.Actor, bus *logbus.Bus) *Server {
	return &Server{domain: domain, db: db, bus: bus}
}

// Bind reserves UDP :1053 synchronously so that a port conflict
// (spec.md §7 BindFailure) is reported to the caller before any
// background task is started, per spec.md §6 ("the DNS task is not
// started" on bind failure). Serve must be called afterwards to
// actually answer queries.
func (s *Server) Bind() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: Port})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	s.conn = conn
	return nil
}

// Serve answers queries on the socket reserved by Bind until ctx is
// cancelled. Bind must have succeeded first.
func (s *Server) Serve(ctx context.Context) error {
	conn := s.conn
	defer conn.Close()

	s.bus.Publish(logbus.Info, logbus.Custom{Text: "dns seed listening on :1053"})

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		s.handle(conn, src, buf[:n])
	}
}

// Run binds UDP :1053 and answers queries until ctx is cancelled. It is
// a convenience wrapper for callers that don't need Bind's error to
// surface before the task is considered started (e.g. a standalone
// invocation); control.Facade and cmd/btcseed call Bind and Serve
// separately so a BindFailure can propagate synchronously.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Bind(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) handle(conn *net.UDPConn, src *net.UDPAddr, req []byte) {
	q, err := parseQuery(req)
	if err != nil {
		s.rejected.Add(1)
		s.bus.Publish(logbus.Warn, logbus.Custom{Text: "malformed dns query from " + src.String()})
		return
	}

	var resp []byte
	if q.isAQuery && q.qname == s.domain {
		ips := s.sampleReachable()
		resp = buildResponse(req, q, ips)
		s.answered.Add(1)
		s.bus.Publish(logbus.Info, logbus.Custom{Text: "answered dns query from " + src.String()})
	} else {
		resp = buildNotImplemented(req, q)
		s.rejected.Add(1)
		s.bus.Publish(logbus.Warn, logbus.Custom{Text: "unsupported dns query from " + src.String()})
	}

	if _, err := conn.WriteToUDP(resp, src); err != nil {
		s.bus.Publish(logbus.Warn, logbus.Custom{Text: "dns reply write failed: " + err.Error()})
	}
}

// Answered reports the total number of queries answered with an A
// record since the server started, for internal/metrics to expose.
func (s *Server) Answered() float64 { return float64(s.answered.Load()) }

// Rejected reports the total number of queries rejected (NotImplemented
// or malformed) since the server started, for internal/metrics to expose.
func (s *Server) Rejected() float64 { return float64(s.rejected.Load()) }

// sampleReachable takes a database snapshot, filters to IPv4-only
// ConnectedRecently records (spec.md §9 resolves the IPv6 open
// question by excluding them before sampling), and returns up to
// MaxAnswers of them chosen uniformly at random without replacement.
func (s *Server) sampleReachable() []net.IP {
	snap := s.db.Snapshot()
	reachable := snap.Reachable()

	var v4 []net.IP
	for _, rec := range reachable {
		ip := net.ParseIP(rec.Address.IP)
		if ip == nil {
			continue
		}
		if v4addr := ip.To4(); v4addr != nil {
			v4 = append(v4, v4addr)
		}
	}

	rand.Shuffle(len(v4), func(i, j int) { v4[i], v4[j] = v4[j], v4[i] })

	if len(v4) > MaxAnswers {
		v4 = v4[:MaxAnswers]
	}
	return v4
}
