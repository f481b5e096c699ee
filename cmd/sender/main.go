// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command sender serves one file to one Requester through an Emulator
// (spec.md §4.5): it blocks for the initial REQUEST, then runs the
// windowed transmit / ack-drain / retransmit / END state machine.
package main

import (
	"flag"
	"log"
	"net"
	"os"

	"github.com/kestrelnet/linkrelay/internal/hostcache"
	"github.com/kestrelnet/linkrelay/internal/netx"
	"github.com/kestrelnet/linkrelay/internal/wire"
	"github.com/kestrelnet/linkrelay/sender"
)

func main() {
	listenPort := flag.Int("p", 0, "listen port")
	requesterPort := flag.Int("g", 0, "requester listen port")
	rate := flag.Int("r", 0, "send rate, packets/second")
	startSeq := flag.Uint("q", 0, "first DATA sequence number")
	payloadLen := flag.Int("l", 0, "DATA payload length in bytes")
	emuHost := flag.String("f", "", "emulator host")
	emuPort := flag.Int("e", 0, "emulator port")
	priority := flag.Int("i", 1, "DATA/END priority (1..3)")
	timeoutMs := flag.Int64("t", 0, "ack timeout in milliseconds")
	flag.Parse()

	if *priority < 1 || *priority > 3 {
		log.Fatalf("sender: -i must be 1, 2, or 3, got %d", *priority)
	}
	if *emuHost == "" || *emuPort == 0 {
		log.Fatalf("sender: -f and -e are required")
	}

	cfg := sender.Config{
		ListenPort:    *listenPort,
		RequesterPort: *requesterPort,
		RatePPS:       *rate,
		StartSeq:      uint32(*startSeq),
		PayloadLen:    *payloadLen,
		EmuHost:       *emuHost,
		EmuPort:       *emuPort,
		Priority:      wire.Priority(*priority),
		TimeoutMs:     *timeoutMs,
	}

	hosts := hostcache.New()
	eng, err := sender.New(cfg, hosts)
	if err != nil {
		log.Fatalf("sender: %v", err)
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: *listenPort})
	if err != nil {
		log.Fatalf("sender: bind %d: %v", *listenPort, err)
	}
	defer udpConn.Close()
	conn := netx.New(udpConn)

	req, err := eng.AwaitRequest(conn)
	if err != nil {
		log.Fatalf("sender: %v", err)
	}

	filename := string(req.Payload)
	f, err := os.Open(filename)
	if err != nil {
		log.Fatalf("sender: open %q: %v", filename, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.Fatalf("sender: stat %q: %v", filename, err)
	}

	if err := eng.ServeFile(conn, req, f, info.Size()); err != nil {
		log.Fatalf("sender: %v", err)
	}
}
