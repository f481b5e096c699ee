// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package emulator implements the store-and-forward node (C4): a
// single-threaded, non-blocking loop that receives link-layer datagrams,
// classifies them by priority and destination, holds them in a
// priority-delay queue, and either drops or forwards them to their next
// hop, logging every drop.
//
// This generalizes original_source/emulator/emulator.py's listen_for_packets
// loop (recv -> queue_packet -> update_queue -> send) into a typed engine
// with the loss-logging, drop-decision, and metrics that draft never had
// (spec.md §9 names it the most complete of three drafts and this is that
// completion).
package emulator

import (
	crand "crypto/rand"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/kestrelnet/linkrelay/internal/hostcache"
	"github.com/kestrelnet/linkrelay/internal/metrics"
	"github.com/kestrelnet/linkrelay/internal/netx"
	"github.com/kestrelnet/linkrelay/internal/pqueue"
	"github.com/kestrelnet/linkrelay/internal/routing"
	"github.com/kestrelnet/linkrelay/internal/wire"
)

// Config configures an Engine. Follows the teacher's functional-options
// idiom (code.hybscloud.com/framer's Option/Options) adapted to a daemon's
// one-shot construction rather than a per-call knob.
type Config struct {
	QueueSize int
	Table     *routing.Table
	Hosts     *hostcache.Cache
	LossLog   *log.Logger       // structured loss-event log (spec.md §4.4)
	Metrics   *metrics.Emulator // optional; nil disables metrics updates
	Rand      *rand.Rand        // optional; nil builds an entropy-seeded source
	Debug     bool              // verbose per-packet field dump, the Emulator's -d flag
}

// Option configures a Config at construction time.
type Option func(*Config)

// WithMetrics attaches a metrics.Emulator whose counters are updated on each
// forward or drop and whose queue-depth gauges are refreshed on each
// enqueue and every loop iteration's tick.
func WithMetrics(m *metrics.Emulator) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithRand overrides the random source used for loss draws (tests only; a
// production Engine always gets an entropy-seeded source from New).
func WithRand(r *rand.Rand) Option {
	return func(c *Config) { c.Rand = r }
}

// WithDebug enables the per-packet field dump on every recv and forward,
// the Go equivalent of the Python drafts' Packet.print_debug_info.
func WithDebug(debug bool) Option {
	return func(c *Config) { c.Debug = debug }
}

// Engine is the running Emulator. It is not safe for concurrent use: both
// spec.md §5 and §9 require correctness to rest on a single site observing
// the one delay slot.
type Engine struct {
	cfg   Config
	queue *pqueue.Queue
	clock netx.Clock
	rng   *rand.Rand
}

// New builds an Engine. queueSize is the common per-priority FIFO capacity
// (the Emulator's -q flag).
func New(queueSize int, table *routing.Table, hosts *hostcache.Cache, lossLog *log.Logger, opts ...Option) *Engine {
	cfg := Config{QueueSize: queueSize, Table: table, Hosts: hosts, LossLog: lossLog}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(entropySeed()))
	}
	return &Engine{
		cfg:   cfg,
		queue: pqueue.New(queueSize),
		clock: netx.NewClock(),
		rng:   cfg.Rand,
	}
}

func entropySeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err == nil {
		var seed int64
		for _, v := range b {
			seed = seed<<8 | int64(v)
		}
		return seed
	}
	return time.Now().UnixNano()
}

// Run drives the Emulator loop over conn until ctx-equivalent shutdown via
// closing conn or a fatal recv error. It never returns nil; callers decide
// whether a given error is expected (e.g. use of a closed connection during
// shutdown).
//
// Per iteration, in order (spec.md §4.4):
//  1. Attempt one non-blocking recv. On success: decode, route, enqueue, or
//     log+drop on no-route or full queue, drop silently if malformed. On
//     would-block, proceed.
//  2. Tick the delay queue. If a packet emerges, apply the drop decision and,
//     if kept, send it to its next hop.
func (e *Engine) Run(conn *netx.Conn) error {
	buf := make([]byte, wire.MaxDatagramLen)

	for {
		n, _, err := conn.TryReadFrom(buf)
		switch {
		case err == nil:
			e.handleIncoming(buf[:n])
		case err == netx.ErrWouldBlock:
			// proceed to tick
		default:
			return fmt.Errorf("emulator: recv: %w", err)
		}

		e.tick(conn)
	}
}

func (e *Engine) handleIncoming(raw []byte) {
	pkt, err := wire.Decode(raw)
	if err != nil {
		// Malformed packets are dropped silently (spec.md §7).
		return
	}
	e.debugDump("recv", pkt)

	entry, err := e.cfg.Table.Lookup(pkt.Dest.IP, int(pkt.Dest.Port))
	if err != nil {
		e.logLoss("No forwarding entry found", pkt)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.Dropped.WithLabelValues("no_route").Inc()
		}
		return
	}

	reason, full := e.queue.Offer(int(pkt.Priority), pqueue.Item{
		Packet:   pkt,
		DelayMs:  entry.DelayMs,
		LossProb: entry.LossProb,
	})
	if reason == pqueue.DropQueueFull {
		e.logLoss(fmt.Sprintf("Priority queue %d was full", full), pkt)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.Dropped.WithLabelValues("queue_full").Inc()
		}
		return
	}

	if e.cfg.Metrics != nil {
		e.cfg.Metrics.QueueDepth.WithLabelValues(fmt.Sprint(pkt.Priority)).Set(float64(e.queue.Depth(int(pkt.Priority))))
	}
}

func (e *Engine) tick(conn *netx.Conn) {
	item, ready := e.queue.Tick(e.clock.NowMs())
	if e.cfg.Metrics != nil {
		// Tick may have moved an item out of a FIFO into the delay slot.
		for p := 1; p <= 3; p++ {
			e.cfg.Metrics.QueueDepth.WithLabelValues(fmt.Sprint(p)).Set(float64(e.queue.Depth(p)))
		}
	}
	if !ready {
		return
	}

	pkt := item.Packet
	if e.shouldDrop(pkt, item.LossProb) {
		e.logLoss("Loss event occurred", pkt)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.Dropped.WithLabelValues("random").Inc()
		}
		return
	}

	entry, err := e.cfg.Table.Lookup(pkt.Dest.IP, int(pkt.Dest.Port))
	if err != nil {
		// Route vanished between enqueue and tick: treat as no-route.
		e.logLoss("No forwarding entry found", pkt)
		return
	}
	nextHop, err := e.cfg.Table.NextHop(entry)
	if err != nil {
		return
	}

	raw, err := wire.Encode(pkt)
	if err != nil {
		return
	}
	e.debugDump("forward", pkt)
	if _, err := conn.WriteToUDP(raw, nextHop); err != nil {
		// Send errors are non-fatal (spec.md §4.4).
		log.Printf("emulator: send to %s: %v", nextHop, err)
		return
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.Forwarded.Inc()
	}
}

// shouldDrop implements spec.md §4.4's drop decision: END packets are never
// dropped; otherwise a uniform draw in [1,100] is compared against lossProb.
func (e *Engine) shouldDrop(pkt *wire.Packet, lossProb int) bool {
	if pkt.Type == wire.End {
		return false
	}
	draw := e.rng.Intn(100) + 1
	return draw <= lossProb
}

// debugDump prints the verbose per-packet field dump the Python drafts'
// Packet.print_debug_info produced, gated behind -d (spec.md's
// SUPPLEMENTED FEATURES): priority, type, sequence, src/dest IP and port
// (with the destination's reverse-resolved hostname), and both the outer
// and inner length fields.
func (e *Engine) debugDump(stage string, pkt *wire.Packet) {
	if !e.cfg.Debug {
		return
	}
	destName := pkt.Dest.IP.String()
	if e.cfg.Hosts != nil {
		destName = e.cfg.Hosts.ReverseName(pkt.Dest.IP)
	}
	log.Printf("debug %s: priority=%d type=%c seq=%d src=%s:%d dest=%s:%d (%s) outer_len=%d inner_len=%d",
		stage, pkt.Priority, pkt.Type, pkt.Seq, pkt.Src.IP, pkt.Src.Port,
		pkt.Dest.IP, pkt.Dest.Port, destName, pkt.OuterLength(), pkt.Length)
}

func (e *Engine) logLoss(reason string, pkt *wire.Packet) {
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	e.cfg.LossLog.Printf("%s src=%s:%d dest=%s:%d time=%s priority=%d size=%d",
		reason, pkt.Src.IP, pkt.Src.Port, pkt.Dest.IP, pkt.Dest.Port, ts, pkt.Priority, pkt.OuterLength())
}
