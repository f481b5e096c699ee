// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package requester

import (
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"time"

	"github.com/rs/xid"

	"github.com/kestrelnet/linkrelay/internal/hostcache"
	"github.com/kestrelnet/linkrelay/internal/netx"
	"github.com/kestrelnet/linkrelay/internal/wire"
)

// recvTimeout is the fixed 20-second per-recv socket timeout spec.md §4.6
// and §7 name as the backstop for a lost REQUEST or a stuck Sender.
const recvTimeout = 20 * time.Second

// Config configures an Engine, one field per CLI flag in spec.md §6.
type Config struct {
	ListenPort int    // -p
	Filename   string // -o
	EmuHost    string // -f
	EmuPort    int    // -e
	Window     uint32 // -w
	Debug      bool   // -d
}

// chunkKey addresses one stored payload in the reassembly map (spec.md §3
// "chunk map").
type chunkKey struct {
	chunkIndex int
	seq        uint32
}

// Stats is one entry of spec.md §3's "sender statistics": the packets and
// bytes received from a single chunk holder over a single chunk fetch, plus
// the derived average packets/second the final summary prints.
type Stats struct {
	Address         string
	PacketsReceived int
	BytesReceived   int64
	DurationMs      int64
}

// AvgPPS returns packets_received / (duration_ms / 1000), rounded, matching
// spec.md §3's derived field. A zero-duration fetch reports 0 rather than
// dividing by zero.
func (s Stats) AvgPPS() int64 {
	if s.DurationMs <= 0 {
		return 0
	}
	return int64(float64(s.PacketsReceived)/(float64(s.DurationMs)/1000.0) + 0.5)
}

// Engine is one Requester run: it fetches every chunk of one file from its
// tracked holders, in order, and reassembles it.
type Engine struct {
	cfg     Config
	clock   netx.Clock
	hosts   *hostcache.Cache
	selfIP  net.IP
	emuAddr *net.UDPAddr
	out     *log.Logger // stdout block printer
	runID   xid.ID      // correlation id stamped into this run's -d debug log lines
}

// New resolves the Requester's own address and the Emulator's address and
// returns a ready Engine.
func New(cfg Config, hosts *hostcache.Cache) (*Engine, error) {
	selfHost, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("requester: hostname: %w", err)
	}
	selfIP, err := hosts.Resolve(selfHost)
	if err != nil {
		return nil, fmt.Errorf("requester: resolve self: %w", err)
	}
	emuIP, err := hosts.Resolve(cfg.EmuHost)
	if err != nil {
		return nil, fmt.Errorf("requester: resolve emulator host %q: %w", cfg.EmuHost, err)
	}

	return &Engine{
		cfg:     cfg,
		clock:   netx.NewClock(),
		hosts:   hosts,
		selfIP:  selfIP,
		emuAddr: &net.UDPAddr{IP: emuIP, Port: cfg.EmuPort},
		out:     log.New(os.Stdout, "", 0),
		runID:   xid.New(),
	}, nil
}

// ErrTimedOut is returned by Run when a chunk fetch exceeds the 20-second
// recv timeout (spec.md §4.6: "fail the whole run with a 'lost packet'
// message"). Callers should exit non-zero per §6.
var ErrTimedOut = fmt.Errorf("requester: lost packet: recv exceeded 20s timeout")

// Run fetches every chunk of cfg.Filename listed in tracker, in ascending
// chunk-index order, reassembles the file, and writes it to disk. It
// returns ErrTimedOut if any chunk's recv loop stalls past 20 seconds.
func (e *Engine) Run(conn *netx.Conn, tracker *Tracker) error {
	n, err := tracker.ChunkCount(e.cfg.Filename)
	if err != nil {
		return fmt.Errorf("requester: %w", err)
	}

	chunkMap := make(map[chunkKey][]byte)
	var allStats []Stats

	for i := 1; i <= n; i++ {
		loc, err := tracker.Locate(e.cfg.Filename, i)
		if err != nil {
			return fmt.Errorf("requester: %w", err)
		}

		stats, err := e.fetchChunk(conn, i, loc, chunkMap)
		if err != nil {
			return err
		}
		allStats = append(allStats, stats)
	}

	if err := e.reassemble(chunkMap); err != nil {
		return err
	}

	e.printSummary(allStats)
	return nil
}

// fetchChunk runs one iteration of spec.md §4.6's per-chunk loop: send
// REQUEST, drain DATA/END with a 20s deadline, ack each DATA, and return the
// stats for this chunk holder.
func (e *Engine) fetchChunk(conn *netx.Conn, index int, loc ChunkLocation, chunkMap map[chunkKey][]byte) (Stats, error) {
	t0 := e.clock.NowMs()
	stats := Stats{}

	destEp, err := e.resolveChunkHolder(loc)
	if err != nil {
		return Stats{}, err
	}

	reqPkt := &wire.Packet{
		Priority: wire.PriorityHigh,
		Src:      wire.Endpoint{IP: e.selfIP, Port: uint16(e.cfg.ListenPort)},
		Dest:     destEp,
		Type:     wire.Request,
		Seq:      0,
		Length:   e.cfg.Window,
		Payload:  []byte(e.cfg.Filename),
	}
	raw, err := wire.Encode(reqPkt)
	if err != nil {
		return Stats{}, fmt.Errorf("requester: encode request: %w", err)
	}
	if _, err := conn.WriteToUDP(raw, e.emuAddr); err != nil {
		return Stats{}, fmt.Errorf("requester: send request: %w", err)
	}

	buf := make([]byte, wire.MaxDatagramLen)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(recvTimeout)); err != nil {
			return Stats{}, fmt.Errorf("requester: set deadline: %w", err)
		}
		nRead, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return Stats{}, ErrTimedOut
			}
			return Stats{}, fmt.Errorf("requester: recv: %w", err)
		}

		pkt, err := wire.Decode(buf[:nRead])
		if err != nil {
			continue // malformed packet: dropped silently (spec.md §7)
		}
		if !pkt.Dest.IP.Equal(e.selfIP) || int(pkt.Dest.Port) != e.cfg.ListenPort {
			continue // not addressed to us: dropped silently (spec.md §4.6)
		}

		stats.BytesReceived += int64(pkt.Length)
		stats.Address = fmt.Sprintf("%s:%d", pkt.Src.IP, pkt.Src.Port)
		e.debugDump(pkt)

		if pkt.Type == wire.End {
			e.printBlock("END", index, pkt)
			break
		}
		if pkt.Type != wire.Data {
			continue
		}

		chunkMap[chunkKey{chunkIndex: index, seq: pkt.Seq}] = pkt.Payload
		stats.PacketsReceived++

		ack := &wire.Packet{
			Priority: pkt.Priority,
			Src:      wire.Endpoint{IP: e.selfIP, Port: uint16(e.cfg.ListenPort)},
			Dest:     destEp,
			Type:     wire.Ack,
			Seq:      pkt.Seq,
		}
		ackRaw, err := wire.Encode(ack)
		if err != nil {
			return Stats{}, fmt.Errorf("requester: encode ack seq=%d: %w", pkt.Seq, err)
		}
		if _, err := conn.WriteToUDP(ackRaw, e.emuAddr); err != nil {
			return Stats{}, fmt.Errorf("requester: send ack seq=%d: %w", pkt.Seq, err)
		}
	}

	stats.DurationMs = e.clock.NowMs() - t0
	return stats, nil
}

// resolveChunkHolder resolves loc's host to the wire-level outer endpoint
// every REQUEST/ACK for this chunk is addressed to, failing fast (before
// any packet is sent) on a bad tracker entry.
func (e *Engine) resolveChunkHolder(loc ChunkLocation) (wire.Endpoint, error) {
	ip, err := e.hosts.Resolve(loc.SenderHost)
	if err != nil {
		return wire.Endpoint{}, fmt.Errorf("requester: resolve sender host %q: %w", loc.SenderHost, err)
	}
	return wire.Endpoint{IP: ip, Port: uint16(loc.SenderPort)}, nil
}

// reassemble concatenates chunkMap's payloads in ascending (chunk_index,
// seq_num) order and writes the result to e.cfg.Filename (spec.md §4.6).
func (e *Engine) reassemble(chunkMap map[chunkKey][]byte) error {
	keys := make([]chunkKey, 0, len(chunkMap))
	for k := range chunkMap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].chunkIndex != keys[j].chunkIndex {
			return keys[i].chunkIndex < keys[j].chunkIndex
		}
		return keys[i].seq < keys[j].seq
	})

	f, err := os.Create(e.cfg.Filename)
	if err != nil {
		return fmt.Errorf("requester: create %q: %w", e.cfg.Filename, err)
	}
	defer f.Close()

	for _, k := range keys {
		if _, err := f.Write(chunkMap[k]); err != nil {
			return fmt.Errorf("requester: write %q: %w", e.cfg.Filename, err)
		}
	}
	return nil
}

func (e *Engine) printBlock(kind string, chunkIndex int, pkt *wire.Packet) {
	e.out.Printf("%s Packet\nchunk:   %d\nsource:  %s:%d\nsequence: %d\n",
		kind, chunkIndex, pkt.Src.IP, pkt.Src.Port, pkt.Seq)
}

func (e *Engine) printSummary(all []Stats) {
	for _, s := range all {
		e.out.Printf("Sender %s: packets=%d bytes=%d avg_pps=%d duration_ms=%d\n",
			s.Address, s.PacketsReceived, s.BytesReceived, s.AvgPPS(), s.DurationMs)
	}
}

// debugDump prints the verbose per-packet field dump the Python originals'
// Packet.print_debug_info produced, gated behind -d: priority, type,
// sequence, src/dest IP and port (with the source's reverse-resolved
// hostname), outer and inner length, a short payload preview, and this
// Requester's own listening address.
func (e *Engine) debugDump(pkt *wire.Packet) {
	if !e.cfg.Debug {
		return
	}
	srcName := pkt.Src.IP.String()
	if e.hosts != nil {
		srcName = e.hosts.ReverseName(pkt.Src.IP)
	}
	preview := pkt.Payload
	if len(preview) > 8 {
		preview = preview[:8]
	}
	log.Printf("debug run=%s: priority=%d type=%c seq=%d src=%s:%d (%s) dest=%s:%d outer_len=%d inner_len=%d data=%q requester=%s:%d",
		e.runID, pkt.Priority, pkt.Type, pkt.Seq, pkt.Src.IP, pkt.Src.Port, srcName,
		pkt.Dest.IP, pkt.Dest.Port, pkt.OuterLength(), pkt.Length, preview,
		e.selfIP, e.cfg.ListenPort)
}
