// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package session drives one long-lived peer connection (C3) through
// handshake, steady state, and shutdown: spec.md §4.2.
package session

import "time"

// State is one stage of a session's lifecycle.
type State int

const (
	Resolving State = iota
	Connecting
	VersionSent
	VersionReceived
	VerackReceived
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "Resolving"
	case Connecting:
		return "Connecting"
	case VersionSent:
		return "VersionSent"
	case VersionReceived:
		return "VersionReceived"
	case VerackReceived:
		return "VerackReceived"
	case Ready:
		return "Ready"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config carries the values an external collaborator (the control
// facade, C8) supplies to a session, matching spec.md §6's
// configuration table.
type Config struct {
	Host            string
	Port            uint16
	ProtocolVersion int32
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	MaxMessages     int
	DiscoverPeers   bool

	// ResolveAttempts bounds the jittered seed-resolution retry
	// (ResolveSeeds in resolve.go). <= 0 means retry forever.
	ResolveAttempts int
}

// NewDefaultConfig returns the spec.md §6/§4.2 defaults, matching the
// teacher's NewDefaultConfig shape (tbc.Config).
func NewDefaultConfig() *Config {
	return &Config{
		Host:            "seed.bitcoin.sipa.be",
		Port:            8333,
		ProtocolVersion: 70015,
		ConnectTimeout:  10 * time.Second,
		ReadTimeout:     30 * time.Second,
		MaxMessages:     500000,
		DiscoverPeers:   true,
		ResolveAttempts: 3,
	}
}
