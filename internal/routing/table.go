// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package routing implements the Emulator's static forwarding table (C2):
// a flat list of entries loaded once from a text file and looked up by
// linear scan on (dest host, dest port).
package routing

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/kestrelnet/linkrelay/internal/hostcache"
)

// Entry is one forwarding-table row (spec.md §3, §6).
type Entry struct {
	EmulatorHost string
	EmulatorPort int
	DestHost     string
	DestPort     int
	NextHopHost  string
	NextHopPort  int
	DelayMs      uint32
	LossProb     int // 0..100
}

// Table holds the entries relevant to one Emulator instance: those loaded
// from the forwarding file whose (emu_host, emu_port) equals this process's
// own listening address. Lookup is a linear scan, matching spec.md §4.2.
type Table struct {
	entries []Entry
	hosts   *hostcache.Cache
}

// Load reads the forwarding-table file at path and keeps only the rows
// whose (emu_host, emu_port) matches selfHost/selfPort. A missing or
// unreadable file is a fatal startup error per spec.md §7.
func Load(path, selfHost string, selfPort int, hosts *hostcache.Cache) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("routing: open forwarding table %q: %w", path, err)
	}
	defer f.Close()

	selfIP, err := hosts.Resolve(selfHost)
	if err != nil {
		return nil, fmt.Errorf("routing: resolve self host %q: %w", selfHost, err)
	}

	t := &Table{hosts: hosts}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) != 8 {
			return nil, fmt.Errorf("routing: malformed line %q: want 8 columns, got %d", line, len(cols))
		}

		entry, err := parseEntry(cols)
		if err != nil {
			return nil, fmt.Errorf("routing: %w", err)
		}

		entryIP, err := hosts.Resolve(entry.EmulatorHost)
		if err != nil {
			continue // unresolvable rows never match any local process
		}
		if entryIP.Equal(selfIP) && entry.EmulatorPort == selfPort {
			t.entries = append(t.entries, entry)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("routing: read forwarding table: %w", err)
	}

	return t, nil
}

func parseEntry(cols []string) (Entry, error) {
	emuPort, err := strconv.Atoi(cols[1])
	if err != nil {
		return Entry{}, fmt.Errorf("emu_port: %w", err)
	}
	destPort, err := strconv.Atoi(cols[3])
	if err != nil {
		return Entry{}, fmt.Errorf("dest_port: %w", err)
	}
	nextPort, err := strconv.Atoi(cols[5])
	if err != nil {
		return Entry{}, fmt.Errorf("next_hop_port: %w", err)
	}
	delay, err := strconv.ParseUint(cols[6], 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("delay_ms: %w", err)
	}
	loss, err := strconv.Atoi(cols[7])
	if err != nil {
		return Entry{}, fmt.Errorf("loss_prob: %w", err)
	}
	if loss < 0 || loss > 100 {
		return Entry{}, fmt.Errorf("loss_prob %d out of range [0,100]", loss)
	}

	return Entry{
		EmulatorHost: cols[0],
		EmulatorPort: emuPort,
		DestHost:     cols[2],
		DestPort:     destPort,
		NextHopHost:  cols[4],
		NextHopPort:  nextPort,
		DelayMs:      uint32(delay),
		LossProb:     loss,
	}, nil
}

// ErrNoRoute is returned by Lookup when no entry matches the given
// destination.
var ErrNoRoute = fmt.Errorf("routing: no forwarding entry found")

// Lookup finds the entry whose (dest_host, dest_port) matches destIP/destPort,
// resolving each entry's destination host on demand (cached).
func (t *Table) Lookup(destIP net.IP, destPort int) (*Entry, error) {
	for i := range t.entries {
		e := &t.entries[i]
		ip, err := t.hosts.Resolve(e.DestHost)
		if err != nil {
			continue
		}
		if ip.Equal(destIP) && e.DestPort == destPort {
			return e, nil
		}
	}
	return nil, ErrNoRoute
}

// NextHop resolves e's next-hop host to a dialable UDP address.
func (t *Table) NextHop(e *Entry) (*net.UDPAddr, error) {
	ip, err := t.hosts.Resolve(e.NextHopHost)
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: ip, Port: e.NextHopPort}, nil
}
