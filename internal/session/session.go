// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/davecgh/go-spew/spew"

	"github.com/btcnode/seedcrawler/internal/logbus"
	"github.com/btcnode/seedcrawler/internal/peerdb"
	"github.com/btcnode/seedcrawler/internal/protocol"
)

// Error kinds per spec.md §7. These are sentinels wrapped with
// fmt.Errorf("...: %w", ...) at the point of use, matching the
// teacher's own error idiom (tbc.go never introduces a custom error
// type, only fmt.Errorf-wrapped sentinels and ad-hoc errors.New).
var (
	ErrResolveFailure  = errors.New("session: resolve failure")
	ErrConnectFailure  = errors.New("session: connect failure")
	ErrProtocolFailure = errors.New("session: protocol failure")
	ErrTransportFailure = errors.New("session: transport failure")
)

const (
	idlePause      = 100 * time.Millisecond
	quietPause     = 500 * time.Millisecond
	livenessWindow = 50 * time.Millisecond

	maxTxBatch    = 10
	maxBlockBatch = 3
)

// Session drives one outbound TCP connection against a peer from DNS
// resolution through an orderly shutdown (C3).
type Session struct {
	cfg *Config
	bus *logbus.Bus
	db  *peerdb.Actor

	mtx   sync.Mutex
	state State

	conn net.Conn
	r    *bufio.Reader

	peerAddr          peerdb.Address
	versionReceived   bool
	verackReceived    bool
	handshakeComplete bool
	getaddrSent       bool
	seen              map[chainhash.Hash]struct{}
	messagesProcessed int

	stopping atomic.Bool
}

// New returns a Session ready to Run. db may be nil if the caller only
// wants the wire-level behavior exercised (e.g. in tests that don't
// care about gossip persistence); in production db is always supplied
// by the control facade (C8).
func New(cfg *Config, bus *logbus.Bus, db *peerdb.Actor) *Session {
	return &Session{
		cfg:   cfg,
		bus:   bus,
		db:    db,
		state: Resolving,
		seen:  make(map[chainhash.Hash]struct{}),
	}
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mtx.Lock()
	s.state = st
	s.mtx.Unlock()
}

// Stop requests an orderly shutdown at the read loop's next iteration
// and tears down the transport in both directions. Idempotent.
func (s *Session) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	if s.conn != nil {
		_ = s.conn.Close() // errors swallowed, per spec.md §4.2 "Soft stop"
	}
	s.setState(Closed)
	s.mtx.Lock()
	s.versionReceived = false
	s.verackReceived = false
	s.handshakeComplete = false
	s.getaddrSent = false
	s.mtx.Unlock()
}

// Run drives the session through Resolving -> Connecting -> handshake
// -> Ready -> Closed. It blocks until the session ends, either because
// Stop was called, the connection was lost, or max_messages frames
// were processed.
func (s *Session) Run(ctx context.Context) error {
	if err := s.connectAny(ctx); err != nil {
		return err
	}
	defer func() {
		s.setState(Closed)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	}()

	if err := s.sendVersion(); err != nil {
		return fmt.Errorf("%w: send version: %v", ErrTransportFailure, err)
	}
	s.setState(VersionSent)

	return s.messageLoop(ctx)
}

// connectAny resolves the configured host and tries each resolved
// address with a bounded connect timeout, per spec.md §4.2.
func (s *Session) connectAny(ctx context.Context) error {
	s.setState(Resolving)

	ips, err := ResolveSeeds(ctx, s.cfg.Host, s.cfg.ResolveAttempts)
	if err != nil {
		return err
	}

	s.setState(Connecting)

	var lastErr error
	for _, ip := range ips {
		addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(s.cfg.Port)))
		conn, err := net.DialTimeout("tcp", addr, s.cfg.ConnectTimeout)
		if err != nil {
			lastErr = err
			s.bus.Publish(logbus.Warn, logbus.FailedConnection{Addr: addr, Reason: err.Error()})
			continue
		}

		s.conn = conn
		s.r = bufio.NewReader(conn)
		s.peerAddr = peerdb.AddressFromNetAddr(ip, s.cfg.Port)
		s.bus.Publish(logbus.Info, logbus.Connected{Addr: conn.RemoteAddr()})
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("no addresses resolved")
	}
	return fmt.Errorf("%w: all addresses failed, last error: %v", ErrConnectFailure, lastErr)
}

func (s *Session) sendVersion() error {
	recipient := &net.TCPAddr{IP: net.ParseIP(s.peerAddr.IP), Port: int(s.peerAddr.Port)}
	payload := protocol.EncodeVersionPayload(protocol.VersionParams{
		ProtocolVersion: s.cfg.ProtocolVersion,
		Timestamp:       time.Now().Unix(),
		Recipient:       recipient,
	})
	return s.send(protocol.CmdVersion, payload)
}

func (s *Session) send(command string, payload []byte) error {
	frame, err := protocol.EncodeFrame(command, payload)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(frame)
	return err
}

// messageLoop is the steady-state read loop: liveness check,
// non-blocking header read, handle, pace. Per spec.md §4.2 "Read loop
// pacing".
func (s *Session) messageLoop(ctx context.Context) error {
	for {
		if s.stopping.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		default:
		}

		alive, err := s.peek()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransportFailure, err)
		}
		if !alive {
			return nil // orderly close by peer
		}

		handled, err := s.readOneFrame()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocolFailure, err)
		}

		if !handled {
			time.Sleep(s.pauseDuration())
			continue
		}

		s.messagesProcessed++
		if s.messagesProcessed >= s.cfg.MaxMessages {
			return nil
		}

		time.Sleep(s.pauseDuration())
	}
}

func (s *Session) pauseDuration() time.Duration {
	if s.handshakeComplete && s.getaddrSent {
		return quietPause
	}
	return idlePause
}

// peek distinguishes a healthy-but-idle socket from an orderly close
// by peeking one byte under a short read deadline: a timeout means
// WouldBlock (alive, no data yet); io.EOF means the peer closed the
// connection; any other error is treated as closed.
func (s *Session) peek() (alive bool, err error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(livenessWindow))
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	_, peekErr := s.r.Peek(1)
	switch {
	case peekErr == nil:
		return true, nil
	case errors.Is(peekErr, io.EOF):
		return false, nil
	default:
		var netErr net.Error
		if errors.As(peekErr, &netErr) && netErr.Timeout() {
			return true, nil
		}
		return false, peekErr
	}
}

// readOneFrame reads and dispatches exactly one frame, waiting up to
// Config.ReadTimeout for the full header+payload. It returns
// handled=true on success; handled is false only together with a
// non-nil read or decode error.
func (s *Session) readOneFrame() (handled bool, err error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	h, payload, err := protocol.ReadFrame(s.r)
	if err != nil {
		return false, err
	}

	s.dispatch(h.Command, payload)
	return true, nil
}

func (s *Session) dispatch(command string, payload []byte) {
	switch command {
	case protocol.CmdVersion:
		s.handleVersion(payload)
	case protocol.CmdVerack:
		s.handleVerack()
	case protocol.CmdPing:
		s.handlePing(payload)
	case protocol.CmdPong:
		s.bus.Publish(logbus.Trace, logbus.Custom{Text: "pong received"})
	case protocol.CmdInv:
		s.handleInv(payload)
	case protocol.CmdAddr:
		s.handleAddr(payload)
	case protocol.CmdSendHeaders, protocol.CmdSendCmpct, protocol.CmdFeeFilter, protocol.CmdAlert:
		s.bus.Publish(logbus.Debug, logbus.Custom{Text: "acknowledged " + command})
	default:
		s.bus.Publish(logbus.Debug, logbus.Custom{Text: "unknown command: " + command})
	}

	s.maybeCompleteHandshake()
}

func (s *Session) handleVersion(payload []byte) {
	s.mtx.Lock()
	s.versionReceived = true
	s.mtx.Unlock()
	s.advanceState(VersionReceived)

	if pv, ok := protocol.DecodeVersionProtocol(payload); ok {
		s.bus.Publish(logbus.Info, logbus.Custom{Text: fmt.Sprintf("peer protocol version: %d", pv)})
	}

	if err := s.send(protocol.CmdVerack, nil); err != nil {
		s.bus.Publish(logbus.Warn, logbus.Custom{Text: "send verack: " + err.Error()})
	}
}

func (s *Session) handleVerack() {
	s.mtx.Lock()
	s.verackReceived = true
	s.mtx.Unlock()
	s.advanceState(VerackReceived)
}

// advanceState moves the session to st only if that is forward progress
// (State's declaration order is its lifecycle order), per spec.md
// §4.2's named VersionReceived/VerackReceived transitions: they latch a
// caller-observable state between VersionSent and Ready, but a
// duplicate or out-of-order version/verack must never regress a
// session that has already reached a later stage (e.g. verack arriving
// before version must not pull the state back down once version does
// arrive), matching the handshake-idempotence property of spec.md §8.
func (s *Session) advanceState(st State) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if st > s.state {
		s.state = st
	}
}

// maybeCompleteHandshake latches handshake_complete the first time
// both flags are true and sends the one-shot getaddr, per spec.md
// §4.2 "-> Ready".
func (s *Session) maybeCompleteHandshake() {
	s.mtx.Lock()
	alreadyComplete := s.handshakeComplete
	ready := s.versionReceived && s.verackReceived
	if ready && !alreadyComplete {
		s.handshakeComplete = true
	}
	shouldSendGetAddr := s.handshakeComplete && !s.getaddrSent && s.cfg.DiscoverPeers
	if shouldSendGetAddr {
		s.getaddrSent = true
	}
	s.mtx.Unlock()

	if ready && !alreadyComplete {
		s.setState(Ready)
	}
	if shouldSendGetAddr {
		if err := s.send(protocol.CmdGetAddr, nil); err != nil {
			s.bus.Publish(logbus.Warn, logbus.Custom{Text: "send getaddr: " + err.Error()})
		}
	}
}

func (s *Session) handlePing(payload []byte) {
	if len(payload) < 8 {
		return
	}
	if err := s.send(protocol.CmdPong, payload); err != nil {
		s.bus.Publish(logbus.Warn, logbus.Custom{Text: "send pong: " + err.Error()})
	}
}

// handleInv implements the inventory policy of spec.md §4.2: for each
// new item, classify and batch up to the per-payload caps, then send
// exactly one getdata for the batch.
func (s *Session) handleInv(payload []byte) {
	items := protocol.DecodeInventoryItems(payload)
	if len(items) == 0 {
		return
	}

	var txCount, blockCount int
	var batch []protocol.InventoryItem

	s.mtx.Lock()
	for _, item := range items {
		if _, ok := s.seen[item.Hash]; ok {
			continue
		}
		s.seen[item.Hash] = struct{}{}

		switch item.Kind {
		case protocol.InvTx, protocol.InvWitnessTx:
			if txCount < maxTxBatch {
				batch = append(batch, item)
				txCount++
			}
		case protocol.InvBlock, protocol.InvWitnessBlock:
			if blockCount < maxBlockBatch {
				batch = append(batch, item)
				blockCount++
			}
		case protocol.InvCompactBlock:
			batch = append(batch, item)
		}
	}
	s.mtx.Unlock()

	if len(batch) == 0 {
		return
	}

	s.bus.Publish(logbus.Trace, logbus.Custom{Text: spew.Sdump(batch)})

	if err := s.send(protocol.CmdGetData, protocol.EncodeInventoryItems(batch)); err != nil {
		s.bus.Publish(logbus.Warn, logbus.Custom{Text: "send getdata: " + err.Error()})
	}
}

func (s *Session) handleAddr(payload []byte) {
	addrs := protocol.DecodeAddrPayload(payload)
	if s.db == nil {
		return
	}
	for _, a := range addrs {
		dbAddr := peerdb.AddressFromNetAddr(a.IP, a.Port)
		s.db.RegisterPeer(dbAddr, nil)
		s.bus.Publish(logbus.Debug, logbus.PeerDiscovered{Addr: dbAddr.String()})
	}
}
