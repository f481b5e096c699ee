package netx_test

import (
	"net"
	"testing"
	"time"

	"github.com/kestrelnet/linkrelay/internal/netx"
)

func udpPair(t *testing.T) (a, b *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err = net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestTryReadFromWouldBlock(t *testing.T) {
	a, _ := udpPair(t)
	conn := netx.New(a)

	buf := make([]byte, 64)
	_, _, err := conn.TryReadFrom(buf)
	if err != netx.ErrWouldBlock {
		t.Fatalf("got %v, want ErrWouldBlock", err)
	}
}

func TestTryReadFromReceivesDatagram(t *testing.T) {
	a, b := udpPair(t)
	conn := netx.New(a)

	msg := []byte("hello")
	if _, err := b.WriteToUDP(msg, a.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Give the datagram a moment to land in the kernel buffer.
	deadline := time.Now().Add(time.Second)
	buf := make([]byte, 64)
	for {
		n, addr, err := conn.TryReadFrom(buf)
		if err == nil {
			if string(buf[:n]) != "hello" || addr == nil {
				t.Fatalf("got %q from %v, want %q", buf[:n], addr, msg)
			}
			return
		}
		if err != netx.ErrWouldBlock || time.Now().After(deadline) {
			t.Fatalf("TryReadFrom: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClockMonotonic(t *testing.T) {
	c := netx.NewClock()
	t0 := c.NowMs()
	time.Sleep(5 * time.Millisecond)
	t1 := c.NowMs()
	if t1 < t0 {
		t.Fatalf("clock went backwards: %d -> %d", t0, t1)
	}
}

func TestPaceUntilWaitsAtLeastUntilDeadline(t *testing.T) {
	c := netx.NewClock()
	deadline := c.NowMs() + 20
	c.PaceUntil(deadline)
	if c.NowMs() < deadline {
		t.Fatalf("PaceUntil returned before deadline")
	}
}

func TestWaitOnceOnWouldBlockNonblock(t *testing.T) {
	if netx.WaitOnceOnWouldBlock(netx.Nonblock) {
		t.Fatal("Nonblock policy must not retry")
	}
}
