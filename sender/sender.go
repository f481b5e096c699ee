// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sender implements the reliability engine (C5): windowed DATA
// transmission through the Emulator, ack-matching, timer-driven
// retransmission with a hard attempt cap, and end-of-stream signalling.
//
// Generalizes original_source/sender/sender.py's send_file (read-chunk,
// pace, send, repeat, then emit an END) into the windowed, ack-aware state
// machine spec.md §4.5 describes; the draft itself has neither a window nor
// retransmission.
package sender

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/kestrelnet/linkrelay/internal/hostcache"
	"github.com/kestrelnet/linkrelay/internal/netx"
	"github.com/kestrelnet/linkrelay/internal/wire"
)

// MaxAttempts is the hard retransmission cap from spec.md §4.5/§8: a DATA
// packet abandoned after 6 attempts is a permanent loss of that byte range.
const MaxAttempts = 6

// Config configures an Engine, one field per CLI flag in spec.md §6.
type Config struct {
	ListenPort     int // -p
	RequesterPort  int // -g
	RatePPS        int // -r
	StartSeq       uint32 // -q
	PayloadLen     int // -l
	EmuHost        string // -f
	EmuPort        int // -e
	Priority       wire.Priority // -i
	TimeoutMs      int64 // -t
}

// Engine is one Sender session: it serves exactly one file to one
// Requester, from REQUEST to END.
type Engine struct {
	cfg     Config
	clock   netx.Clock
	hosts   *hostcache.Cache
	selfIP  net.IP
	emuAddr *net.UDPAddr
	out     *log.Logger // stdout block printer, matching print_packet_info
}

// New resolves the Sender's own address and the Emulator's address and
// returns a ready Engine.
func New(cfg Config, hosts *hostcache.Cache) (*Engine, error) {
	selfHost, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("sender: hostname: %w", err)
	}
	selfIP, err := hosts.Resolve(selfHost)
	if err != nil {
		return nil, fmt.Errorf("sender: resolve self: %w", err)
	}
	emuIP, err := hosts.Resolve(cfg.EmuHost)
	if err != nil {
		return nil, fmt.Errorf("sender: resolve emulator host %q: %w", cfg.EmuHost, err)
	}

	return &Engine{
		cfg:     cfg,
		clock:   netx.NewClock(),
		hosts:   hosts,
		selfIP:  selfIP,
		emuAddr: &net.UDPAddr{IP: emuIP, Port: cfg.EmuPort},
		out:     log.New(os.Stdout, "", 0),
	}, nil
}

// AwaitRequest blocks until a well-formed REQUEST packet arrives (spec.md
// §5: "Sender: blocks on the initial REQUEST recv"). Anything else is
// dropped silently per §7's malformed-packet policy.
func (e *Engine) AwaitRequest(conn *netx.Conn) (*wire.Packet, error) {
	buf := make([]byte, wire.MaxDatagramLen)
	for {
		n, _, err := conn.BlockingReadFrom(buf)
		if err != nil {
			return nil, fmt.Errorf("sender: await request: %w", err)
		}
		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			continue
		}
		if pkt.Type == wire.Request {
			return pkt, nil
		}
	}
}

type inflightRecord struct {
	seq      uint32
	raw      []byte
	sentAtMs int64
	attempts int
}

// dest returns the requester endpoint DATA/END/ACK-bearing outbound packets
// should be addressed to: the IP carried by the inbound REQUEST's own outer
// header (trustworthy, since the Emulator never rewrites it) combined with
// the Requester's configured listen port (-g), which is the authoritative
// value per spec.md §6's CLI surface rather than whatever ephemeral UDP
// source port the REQUEST happened to arrive from.
func (e *Engine) dest(req *wire.Packet) wire.Endpoint {
	return wire.Endpoint{IP: req.Src.IP, Port: uint16(e.cfg.RequesterPort)}
}

// ServeFile runs the full windowed transmit / await-acks / retransmit /
// END state machine (spec.md §4.5) for one file, read from r with the given
// total size.
func (e *Engine) ServeFile(conn *netx.Conn, req *wire.Packet, r io.Reader, fileSize int64) error {
	windowLen := int(req.Length)
	if windowLen <= 0 {
		windowLen = 1
	}
	destEp := e.dest(req)

	seq := e.cfg.StartSeq
	remaining := fileSize
	lastSeq := seq

	for remaining > 0 {
		inflight := make(map[uint32]*inflightRecord)

		// Windowed transmit: send up to min(windowLen, remaining packets)
		// back-to-back, paced to args.r packets/second.
		sendDeadline := e.clock.NowMs()
		for i := 0; i < windowLen && remaining > 0; i++ {
			n := int64(e.cfg.PayloadLen)
			if n > remaining {
				n = remaining
			}
			payload := make([]byte, n)
			if _, err := io.ReadFull(r, payload); err != nil {
				return fmt.Errorf("sender: read file: %w", err)
			}

			pkt := &wire.Packet{
				Priority: e.cfg.Priority,
				Src:      wire.Endpoint{IP: e.selfIP, Port: uint16(e.cfg.ListenPort)},
				Dest:     destEp,
				Type:     wire.Data,
				Seq:      seq,
				Length:   uint32(n),
				Payload:  payload,
			}
			raw, err := wire.Encode(pkt)
			if err != nil {
				return fmt.Errorf("sender: encode data seq=%d: %w", seq, err)
			}

			e.clock.PaceUntil(sendDeadline)
			if _, err := conn.WriteToUDP(raw, e.emuAddr); err != nil {
				return fmt.Errorf("sender: send data seq=%d: %w", seq, err)
			}
			e.printPacket("DATA", destEp, seq, int(n), payload)
			sendDeadline = e.clock.NowMs() + paceMs(e.cfg.RatePPS)

			inflight[seq] = &inflightRecord{seq: seq, raw: raw, sentAtMs: e.clock.NowMs(), attempts: 1}

			lastSeq = seq
			seq++
			remaining -= n
		}

		if err := e.awaitAcks(conn, inflight, sendDeadline); err != nil {
			return err
		}
	}

	// FINALIZE: emit END, fire-and-forget, never retransmitted (the
	// Emulator guarantees END delivery).
	endPkt := &wire.Packet{
		Priority: e.cfg.Priority,
		Src:      wire.Endpoint{IP: e.selfIP, Port: uint16(e.cfg.ListenPort)},
		Dest:     destEp,
		Type:     wire.End,
		Seq:      lastSeq + 1,
	}
	raw, err := wire.Encode(endPkt)
	if err != nil {
		return fmt.Errorf("sender: encode end: %w", err)
	}
	if _, err := conn.WriteToUDP(raw, e.emuAddr); err != nil {
		return fmt.Errorf("sender: send end: %w", err)
	}
	e.printPacket("END", destEp, endPkt.Seq, 0, nil)

	return nil
}

// awaitAcks drains ACKs as they arrive, removing matched in-flight records,
// and retransmits any record whose timeout has elapsed, up to MaxAttempts.
// It returns once the in-flight table is empty.
func (e *Engine) awaitAcks(conn *netx.Conn, inflight map[uint32]*inflightRecord, paceDeadline int64) error {
	buf := make([]byte, wire.MaxDatagramLen)

	for len(inflight) > 0 {
		n, _, err := conn.TryReadFrom(buf)
		switch {
		case err == nil:
			pkt, derr := wire.Decode(buf[:n])
			if derr == nil && pkt.Type == wire.Ack {
				delete(inflight, pkt.Seq)
			}
		case err == netx.ErrWouldBlock:
			// fall through to timeout sweep
		default:
			return fmt.Errorf("sender: recv ack: %w", err)
		}

		now := e.clock.NowMs()
		for seq, rec := range inflight {
			if now-rec.sentAtMs <= e.cfg.TimeoutMs {
				continue
			}
			if rec.attempts >= MaxAttempts {
				fmt.Printf("packet seq=%d abandoned after %d attempts; byte range permanently lost\n", seq, rec.attempts)
				delete(inflight, seq)
				continue
			}
			rec.attempts++
			e.clock.PaceUntil(paceDeadline)
			if _, err := conn.WriteToUDP(rec.raw, e.emuAddr); err != nil {
				return fmt.Errorf("sender: retransmit seq=%d: %w", seq, err)
			}
			paceDeadline = e.clock.NowMs() + paceMs(e.cfg.RatePPS)
			rec.sentAtMs = e.clock.NowMs()
		}
	}
	return nil
}

func paceMs(ratePPS int) int64 {
	if ratePPS <= 0 {
		return 0
	}
	return int64(1000 / ratePPS)
}

func (e *Engine) printPacket(kind string, dest wire.Endpoint, seq uint32, length int, payload []byte) {
	preview := payload
	if len(preview) > 4 {
		preview = preview[:4]
	}
	requesterName := dest.IP.String()
	if e.hosts != nil {
		requesterName = e.hosts.ReverseName(dest.IP)
	}
	e.out.Printf("%s Packet\nsend time:      %s\nrequester addr: %s:%d (%s)\nsequence:       %d\nlength:         %d\npayload:        %s\n",
		kind, time.Now().Format("2006-01-02 15:04:05.000"), dest.IP, dest.Port, requesterName, seq, length, preview)
}
