package emulator

import (
	"bytes"
	"log"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelnet/linkrelay/internal/hostcache"
	"github.com/kestrelnet/linkrelay/internal/routing"
	"github.com/kestrelnet/linkrelay/internal/wire"
)

func testTable(t *testing.T, loss int, delay uint32) *routing.Table {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fwd.txt")
	line := "127.0.0.1 9000 127.0.0.2 9001 127.0.0.3 9002 " +
		itoa(delay) + " " + itoa(uint32(loss)) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	tbl, err := routing.Load(path, "127.0.0.1", 9000, hostcache.New())
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	return tbl
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var b []byte
	for v > 0 {
		b = append([]byte{byte('0' + v%10)}, b...)
		v /= 10
	}
	return string(b)
}

func dataPacket() *wire.Packet {
	return &wire.Packet{
		Priority: wire.PriorityHigh,
		Src:      wire.Endpoint{IP: net.IPv4(127, 0, 0, 9), Port: 1},
		Dest:     wire.Endpoint{IP: net.IPv4(127, 0, 0, 2), Port: 9001},
		Type:     wire.Data,
		Seq:      1,
		Length:   4,
		Payload:  []byte("data"),
	}
}

func newTestEngine(t *testing.T, loss int, delay uint32, seed int64) *Engine {
	var logBuf bytes.Buffer
	tbl := testTable(t, loss, delay)
	e := New(4, tbl, hostcache.New(), log.New(&logBuf, "", 0), WithRand(rand.New(rand.NewSource(seed))))
	return e
}

func TestHandleIncomingQueuesRoutablePacket(t *testing.T) {
	e := newTestEngine(t, 0, 0, 1)
	pkt := dataPacket()
	e.handleIncoming(mustEncode(t, pkt))

	if e.queue.Depth(1) != 1 {
		t.Fatalf("queue depth = %d, want 1", e.queue.Depth(1))
	}
}

func TestHandleIncomingNoRouteLogsAndDrops(t *testing.T) {
	var logBuf bytes.Buffer
	tbl := testTable(t, 0, 0)
	e := New(4, tbl, hostcache.New(), log.New(&logBuf, "", 0))

	pkt := dataPacket()
	pkt.Dest.Port = 12345 // not in the table
	e.handleIncoming(mustEncode(t, pkt))

	if e.queue.Depth(1) != 0 {
		t.Fatalf("expected drop, queue depth = %d", e.queue.Depth(1))
	}
	if !bytes.Contains(logBuf.Bytes(), []byte("No forwarding entry found")) {
		t.Fatalf("log missing no-route entry: %q", logBuf.String())
	}
}

func TestShouldDropNeverDropsEnd(t *testing.T) {
	e := newTestEngine(t, 100, 0, 2)
	endPkt := dataPacket()
	endPkt.Type = wire.End

	for i := 0; i < 50; i++ {
		if e.shouldDrop(endPkt, 100) {
			t.Fatal("END packet must never be dropped regardless of lossProb")
		}
	}
}

func TestShouldDropAlwaysDropsAtFullLoss(t *testing.T) {
	e := newTestEngine(t, 100, 0, 3)
	pkt := dataPacket()
	for i := 0; i < 20; i++ {
		if !e.shouldDrop(pkt, 100) {
			t.Fatal("lossProb=100 must always drop non-END packets")
		}
	}
}

func TestOfferLogsQueueFull(t *testing.T) {
	var logBuf bytes.Buffer
	tbl := testTable(t, 0, 0)
	e := New(1, tbl, hostcache.New(), log.New(&logBuf, "", 0))

	e.handleIncoming(mustEncode(t, dataPacket()))
	e.handleIncoming(mustEncode(t, dataPacket()))

	if !bytes.Contains(logBuf.Bytes(), []byte("Priority queue 1 was full")) {
		t.Fatalf("log missing queue-full entry: %q", logBuf.String())
	}
}

func mustEncode(t *testing.T, pkt *wire.Packet) []byte {
	t.Helper()
	raw, err := wire.Encode(pkt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}
