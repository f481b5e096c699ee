// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command emulator runs the store-and-forward node (spec.md §4.4): it
// receives link-layer datagrams on -p, classifies them through its
// forwarding table (-f), holds them in a three-priority delay queue sized
// by -q, and forwards or drops them, appending every drop to the loss log
// at -l.
package main

import (
	"flag"
	"log"
	"net"
	"os"

	"github.com/kestrelnet/linkrelay/emulator"
	"github.com/kestrelnet/linkrelay/internal/hostcache"
	"github.com/kestrelnet/linkrelay/internal/metrics"
	"github.com/kestrelnet/linkrelay/internal/netx"
	"github.com/kestrelnet/linkrelay/internal/routing"
)

func main() {
	port := flag.Int("p", 0, "listen port (2050..65535)")
	queueSize := flag.Int("q", 0, "per-priority queue capacity")
	fwdFile := flag.String("f", "", "forwarding table file")
	logFile := flag.String("l", "", "loss log file")
	metricsAddr := flag.String("m", "", "optional prometheus metrics listen address, e.g. :9100")
	debug := flag.Bool("d", false, "verbose per-packet field dump")
	flag.Parse()

	if *port < 2050 || *port > 65535 {
		log.Fatalf("emulator: -p must be in 2050..65535, got %d", *port)
	}
	if *queueSize <= 0 {
		log.Fatalf("emulator: -q must be positive")
	}
	if *fwdFile == "" || *logFile == "" {
		log.Fatalf("emulator: -f and -l are required")
	}

	lossLogFile, err := os.OpenFile(*logFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		log.Fatalf("emulator: open loss log %q: %v", *logFile, err)
	}
	defer lossLogFile.Close()
	lossLog := log.New(lossLogFile, "", 0)

	hosts := hostcache.New()
	selfHost, err := os.Hostname()
	if err != nil {
		log.Fatalf("emulator: hostname: %v", err)
	}
	table, err := routing.Load(*fwdFile, selfHost, *port, hosts)
	if err != nil {
		log.Fatalf("emulator: %v", err)
	}

	var opts []emulator.Option
	opts = append(opts, emulator.WithDebug(*debug))
	if *metricsAddr != "" {
		m, reg := metrics.NewEmulator()
		opts = append(opts, emulator.WithMetrics(m))
		go func() {
			if err := metrics.Serve(*metricsAddr, reg); err != nil {
				log.Printf("emulator: metrics server: %v", err)
			}
		}()
	}

	eng := emulator.New(*queueSize, table, hosts, lossLog, opts...)

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: *port})
	if err != nil {
		log.Fatalf("emulator: bind %d: %v", *port, err)
	}
	defer udpConn.Close()

	log.Printf("queue size=%d", *queueSize)

	if err := eng.Run(netx.New(udpConn)); err != nil {
		log.Fatalf("emulator: %v", err)
	}
}
