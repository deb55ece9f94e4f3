// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package metrics exposes Prometheus gauges for this service. It
// replaces the teacher's deucalion.New/deucalion.Config bootstrap
// (service/tbc/tbc.go) with promhttp.Handler() + net/http directly,
// since deucalion is private to the teacher's own module and not
// importable here (see DESIGN.md); the prometheus.Collector/GaugeFunc
// registration pattern itself is kept unchanged.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promSubsystem = "seedcrawler"

// Sources supplies the live values the gauges read on every scrape.
type Sources struct {
	ActiveSessions   func() float64
	LiveCrawlSetSize func() float64
	PeerDatabaseSize func() float64
	DNSAnswered      func() float64
	DNSRejected      func() float64
}

// Server serves /metrics on a dedicated listen address.
type Server struct {
	addr string
	mux  *http.ServeMux
}

// New registers one GaugeFunc collector per Sources field, matching
// the teacher's prometheus.NewGaugeFunc(prometheus.GaugeOpts{Subsystem:
// promSubsystem, ...}, s.promRunning) shape.
func New(listenAddress string, src Sources) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Subsystem: promSubsystem,
			Name:      "active_sessions",
			Help:      "Number of currently connected peer sessions.",
		}, src.ActiveSessions),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Subsystem: promSubsystem,
			Name:      "live_crawl_set_size",
			Help:      "Number of endpoints the crawler currently considers reachable.",
		}, src.LiveCrawlSetSize),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Subsystem: promSubsystem,
			Name:      "peer_database_size",
			Help:      "Number of records in the peer database.",
		}, src.PeerDatabaseSize),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Subsystem: promSubsystem,
			Name:      "dns_queries_answered_total",
			Help:      "DNS seed queries answered with an A record.",
		}, src.DNSAnswered),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Subsystem: promSubsystem,
			Name:      "dns_queries_rejected_total",
			Help:      "DNS seed queries rejected (NotImplemented or malformed).",
		}, src.DNSRejected),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{addr: listenAddress, mux: mux}
}

// Run serves /metrics until ctx is cancelled, mirroring the teacher's
// "d.Run(ctx, cs)" call convention: it returns nil on clean shutdown
// via context cancellation, and the listen error otherwise.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.mux}

	errC := make(chan error, 1)
	go func() { errC <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return nil
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
