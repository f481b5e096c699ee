package routing_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelnet/linkrelay/internal/hostcache"
	"github.com/kestrelnet/linkrelay/internal/routing"
)

func writeTable(t *testing.T, lines string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "forwarding.txt")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	return path
}

func TestLoadKeepsOnlyMatchingEmulator(t *testing.T) {
	path := writeTable(t, ""+
		"127.0.0.1 3000 127.0.0.2 4000 127.0.0.3 5000 10 0\n"+
		"127.0.0.9 9000 127.0.0.2 4000 127.0.0.3 5000 10 0\n")

	tbl, err := routing.Load(path, "127.0.0.1", 3000, hostcache.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	entry, err := tbl.Lookup(net.ParseIP("127.0.0.2"), 4000)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.NextHopPort != 5000 || entry.DelayMs != 10 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	if _, err := tbl.Lookup(net.ParseIP("10.10.10.10"), 1); err != routing.ErrNoRoute {
		t.Fatalf("got %v, want ErrNoRoute", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := routing.Load("/does/not/exist", "h", 1, hostcache.New()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsBadLossProb(t *testing.T) {
	path := writeTable(t, "127.0.0.1 3000 127.0.0.2 4000 127.0.0.3 5000 10 150\n")
	if _, err := routing.Load(path, "127.0.0.1", 3000, hostcache.New()); err == nil {
		t.Fatal("expected error for out-of-range loss_prob")
	}
}
