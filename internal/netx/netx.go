// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package netx adapts the teacher library's non-blocking-I/O discipline
// (code.hybscloud.com/framer's readOnce/writeOnce/waitOnceOnWouldBlock, and
// its ErrWouldBlock/ErrMore sentinel errors from code.hybscloud.com/iox) from
// generic stream framing to this system's actual transport: a single UDP
// socket read and written from one cooperative, single-threaded loop.
//
// There is no length-prefix framing to do here (every spec.md §3 packet is
// self-describing via its outer_length field and UDP already preserves
// datagram boundaries), so what's kept from the teacher is the *shape*:
// a sentinel error for "no data right now" plus a small retry-policy option,
// not the byte-stream state machine itself.
package netx

import (
	"errors"
	"net"
	"time"
)

// ErrWouldBlock reports that a non-blocking receive had no datagram ready.
// Mirrors the control-flow role iox.ErrWouldBlock plays in the teacher
// library's readOnce loop.
var ErrWouldBlock = errors.New("netx: would block")

// RetryPolicy controls how WaitOnceOnWouldBlock behaves, the same
// three-way knob as the teacher's Options.RetryDelay:
//   - negative: nonblocking, return ErrWouldBlock immediately (no retry)
//   - zero: yield once (runtime.Gosched-equivalent sleep(0)) and retry
//   - positive: sleep for the duration and retry
type RetryPolicy time.Duration

const (
	Nonblock RetryPolicy = -1
	Yield    RetryPolicy = 0
)

// PacketConn is the subset of *net.UDPConn this package drives.
type PacketConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadDeadline(time.Time) error
	Close() error
}

// Conn wraps a PacketConn to make ReadFromUDP non-blocking: each call sets
// a read deadline pollWait ahead and maps a resulting timeout into
// ErrWouldBlock, the way the Emulator's single-threaded loop (spec.md §4.4)
// and the Sender's ack-drain loop (spec.md §4.5) require.
type Conn struct {
	PacketConn
}

// pollWait is how far ahead TryReadFrom sets its read deadline. A deadline
// of exactly time.Now() has already passed when the read starts, so the
// runtime would report a timeout even with a datagram queued.
const pollWait = time.Millisecond

// New wraps conn for non-blocking use.
func New(conn PacketConn) *Conn {
	return &Conn{PacketConn: conn}
}

// TryReadFrom attempts one non-blocking receive. On ErrWouldBlock, no
// datagram was available; the caller should proceed to its next step
// (spec.md §4.4 step 1: "On would-block, proceed").
func (c *Conn) TryReadFrom(buf []byte) (n int, addr *net.UDPAddr, err error) {
	if err := c.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
		return 0, nil, err
	}
	n, addr, err = c.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}
	return n, addr, nil
}

// BlockingReadFrom clears any deadline and performs an ordinary blocking
// receive, used by the Sender while it waits for the initial REQUEST. (The
// Requester's per-chunk recv loop does not use it: it sets its own 20s
// deadline with SetReadDeadline and calls ReadFromUDP directly.)
func (c *Conn) BlockingReadFrom(buf []byte) (n int, addr *net.UDPAddr, err error) {
	if err := c.SetReadDeadline(time.Time{}); err != nil {
		return 0, nil, err
	}
	return c.ReadFromUDP(buf)
}

// WaitOnceOnWouldBlock applies RetryPolicy after an ErrWouldBlock, returning
// whether the caller should retry. Mirrors the teacher's
// waitOnceOnWouldBlock.
func WaitOnceOnWouldBlock(policy RetryPolicy) bool {
	switch {
	case policy < 0:
		return false
	case policy == 0:
		time.Sleep(0)
		return true
	default:
		time.Sleep(time.Duration(policy))
		return true
	}
}

// Clock supplies monotonic milliseconds relative to process start, used by
// the Sender's send/retransmit timers and the Emulator's delay queue. Built
// on time.Since, which Go guarantees reads the runtime's monotonic clock
// reading embedded in time.Time (see time package docs on monotonic time).
type Clock struct {
	start time.Time
}

// NewClock returns a Clock whose zero point is now.
func NewClock() Clock {
	return Clock{start: time.Now()}
}

// NowMs returns milliseconds elapsed since the Clock was created.
func (c Clock) NowMs() int64 {
	return time.Since(c.start).Milliseconds()
}

// PaceUntil blocks until deadlineMs (relative to the same Clock) has
// passed. spec.md §9 calls for replacing busy-wait pacing with a
// monotonic-clock sleep/deadline primitive while preserving the observable
// property that the i-th send happens at start + i*(1000/r) ms.
func (c Clock) PaceUntil(deadlineMs int64) {
	for {
		now := c.NowMs()
		if now >= deadlineMs {
			return
		}
		time.Sleep(time.Duration(deadlineMs-now) * time.Millisecond)
	}
}
