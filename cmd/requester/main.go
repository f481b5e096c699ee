// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command requester fetches a file across one or more chunk-holding
// Senders, reassembling it in order (spec.md §4.6). Chunk locations come
// from the fixed-name tracker.txt in the current directory.
package main

import (
	"errors"
	"flag"
	"log"
	"net"
	"os"

	"github.com/kestrelnet/linkrelay/internal/hostcache"
	"github.com/kestrelnet/linkrelay/internal/netx"
	"github.com/kestrelnet/linkrelay/requester"
)

const trackerFile = "tracker.txt"

func main() {
	listenPort := flag.Int("p", 0, "listen port")
	filename := flag.String("o", "", "filename to fetch")
	emuHost := flag.String("f", "", "emulator host")
	emuPort := flag.Int("e", 0, "emulator port")
	window := flag.Uint("w", 0, "window size carried in REQUEST")
	debug := flag.Bool("d", false, "verbose per-packet logging")
	flag.Parse()

	if *filename == "" || *emuHost == "" || *emuPort == 0 {
		log.Fatalf("requester: -o, -f, and -e are required")
	}

	tracker, err := requester.LoadTracker(trackerFile)
	if err != nil {
		log.Fatalf("requester: %v", err)
	}

	cfg := requester.Config{
		ListenPort: *listenPort,
		Filename:   *filename,
		EmuHost:    *emuHost,
		EmuPort:    *emuPort,
		Window:     uint32(*window),
		Debug:      *debug,
	}

	hosts := hostcache.New()
	eng, err := requester.New(cfg, hosts)
	if err != nil {
		log.Fatalf("requester: %v", err)
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: *listenPort})
	if err != nil {
		log.Fatalf("requester: bind %d: %v", *listenPort, err)
	}
	defer udpConn.Close()

	if err := eng.Run(netx.New(udpConn), tracker); err != nil {
		if errors.Is(err, requester.ErrTimedOut) {
			log.Printf("requester: %v", err)
			os.Exit(1)
		}
		log.Fatalf("requester: %v", err)
	}
}
