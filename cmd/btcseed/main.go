// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Command btcseed wires C2-C8 together: a long-lived peer session, the
// peer database actor, the bounded crawler, and the DNS seed
// responder, reporting through a single log bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/loggo"

	"github.com/btcnode/seedcrawler/internal/control"
	"github.com/btcnode/seedcrawler/internal/crawler"
	"github.com/btcnode/seedcrawler/internal/dnsseed"
	"github.com/btcnode/seedcrawler/internal/logbus"
	"github.com/btcnode/seedcrawler/internal/metrics"
	"github.com/btcnode/seedcrawler/internal/peerdb"
	"github.com/btcnode/seedcrawler/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := session.NewDefaultConfig()

	host := flag.String("host", cfg.Host, "seed host to connect to")
	port := flag.Uint("port", uint(cfg.Port), "seed port to connect to")
	peerDBPath := flag.String("peerdb", peerdb.DefaultPath, "path to the peer database file")
	dnsDomain := flag.String("dns-domain", "", "domain to answer DNS seed queries for (empty disables the responder)")
	promAddr := flag.String("metrics-listen", "", "Prometheus /metrics listen address (empty disables it)")
	discover := flag.Bool("discover", cfg.DiscoverPeers, "send getaddr once the handshake completes")
	flag.Parse()

	cfg.Host = *host
	cfg.Port = uint16(*port)
	cfg.DiscoverPeers = *discover

	loggo.ConfigureLoggers("<root>=INFO")

	bus := logbus.New(1024)
	consumer := logbus.NewConsumer("btcseed", logbus.Trace)
	go consumer.Run(bus)

	db := peerdb.NewActor(*peerDBPath, bus)
	go db.Run()
	defer db.Stop()

	live := crawler.NewLiveSet()
	facade := control.New(db, bus, live)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigC
		cancel()
	}()

	go facade.Run(ctx)

	var dns *dnsseed.Server
	if *dnsDomain != "" {
		dns = dnsseed.New(*dnsDomain, db, bus)
		// Bind synchronously so a port conflict (spec.md §7
		// BindFailure) fails startup with a non-zero exit code
		// (spec.md §6) instead of only being logged from a goroutine.
		if err := dns.Bind(); err != nil {
			return fmt.Errorf("dns seed: %w", err)
		}
		go func() {
			if err := dns.Serve(ctx); err != nil {
				bus.Publish(logbus.Error, logbus.Custom{Text: "dns seed server: " + err.Error()})
			}
		}()
	}

	if *promAddr != "" {
		dnsAnswered := func() float64 { return 0 }
		dnsRejected := func() float64 { return 0 }
		if dns != nil {
			dnsAnswered = dns.Answered
			dnsRejected = dns.Rejected
		}
		m := metrics.New(*promAddr, metrics.Sources{
			ActiveSessions:   func() float64 { return 1 },
			LiveCrawlSetSize: func() float64 { return float64(live.Len()) },
			PeerDatabaseSize: func() float64 { return float64(db.Snapshot().Len()) },
			DNSAnswered:      dnsAnswered,
			DNSRejected:      dnsRejected,
		})
		go func() {
			if err := m.Run(ctx); err != nil {
				bus.Publish(logbus.Error, logbus.Custom{Text: "metrics server: " + err.Error()})
			}
		}()
	}

	facade.Send(control.CmdStart, control.StartRequest{Config: cfg})

	ticker := time.NewTicker(27 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// session.Run observes ctx.Done() itself and stops; facade.Run
			// has already returned, so no further Send is possible here.
			return nil
		case <-ticker.C:
			facade.Send(control.CmdCrawl, control.CrawlRequest{})
		}
	}
}
