// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package requester implements the Requester's per-chunk fetch loop, ack
// emission, reassembly, and statistics (C6): the only orchestration role
// that talks to more than one Sender during a single run.
//
// Generalizes original_source/requester/requester.py's sequential
// for-chunk-in-tracker loop into a typed engine with the 20-second
// recv-timeout fatal path and per-sender stats spec.md §4.6 names.
package requester

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ChunkLocation is the holder part of one tracker-file row: which (host,
// port) serves a given chunk of a given file; the filename and chunk index
// are the Tracker's keys (spec.md §3 "file-location tracker entry", §6
// "tracker file").
type ChunkLocation struct {
	SenderHost string
	SenderPort int
}

// Tracker maps (filename, chunk index) to the sender that holds that chunk.
// Loaded once from the fixed-name tracker.txt and immutable thereafter.
type Tracker struct {
	byFile map[string]map[int]ChunkLocation
}

// LoadTracker reads the tracker file at path. Each line is
// "filename chunk_index sender_host sender_port". Chunk indices for a given
// filename must form a contiguous range starting at 1; violating that is a
// fatal startup error, matching §7's "Config I/O" policy.
func LoadTracker(path string) (*Tracker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("requester: open tracker %q: %w", path, err)
	}
	defer f.Close()

	t := &Tracker{byFile: make(map[string]map[int]ChunkLocation)}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) != 4 {
			return nil, fmt.Errorf("requester: malformed tracker line %q: want 4 columns, got %d", line, len(cols))
		}
		idx, err := strconv.Atoi(cols[1])
		if err != nil {
			return nil, fmt.Errorf("requester: tracker chunk_index: %w", err)
		}
		port, err := strconv.Atoi(cols[3])
		if err != nil {
			return nil, fmt.Errorf("requester: tracker sender_port: %w", err)
		}

		file := cols[0]
		if t.byFile[file] == nil {
			t.byFile[file] = make(map[int]ChunkLocation)
		}
		t.byFile[file][idx] = ChunkLocation{SenderHost: cols[2], SenderPort: port}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("requester: read tracker: %w", err)
	}

	for file, chunks := range t.byFile {
		if err := checkContiguous(chunks); err != nil {
			return nil, fmt.Errorf("requester: tracker entries for %q: %w", file, err)
		}
	}

	return t, nil
}

func checkContiguous(chunks map[int]ChunkLocation) error {
	indices := make([]int, 0, len(chunks))
	for i := range chunks {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for pos, idx := range indices {
		if idx != pos+1 {
			return fmt.Errorf("chunk indices must be contiguous starting at 1, got %v", indices)
		}
	}
	return nil
}

// ErrUnknownFile is returned by ChunkCount and Locate when no tracker entry
// names the requested filename.
var ErrUnknownFile = fmt.Errorf("requester: file not found in tracker")

// ChunkCount returns N, the number of chunks the tracker lists for filename
// (spec.md §4.6: "N = max(chunk_index) in the tracker for the requested
// filename").
func (t *Tracker) ChunkCount(filename string) (int, error) {
	chunks, ok := t.byFile[filename]
	if !ok {
		return 0, ErrUnknownFile
	}
	return len(chunks), nil
}

// Locate returns the chunk holder for (filename, index).
func (t *Tracker) Locate(filename string, index int) (ChunkLocation, error) {
	chunks, ok := t.byFile[filename]
	if !ok {
		return ChunkLocation{}, ErrUnknownFile
	}
	loc, ok := chunks[index]
	if !ok {
		return ChunkLocation{}, fmt.Errorf("requester: no chunk %d for %q", index, filename)
	}
	return loc, nil
}
