package hostcache_test

import (
	"net"
	"testing"

	"github.com/kestrelnet/linkrelay/internal/hostcache"
)

func TestResolveLiteralIPv4(t *testing.T) {
	c := hostcache.New()
	ip, err := c.Resolve("127.0.0.1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ip.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("Resolve(127.0.0.1) = %s, want 127.0.0.1", ip)
	}
}

func TestResolveCachesForwardLookup(t *testing.T) {
	c := hostcache.New()

	first, err := c.Resolve("localhost")
	if err != nil {
		t.Skipf("localhost does not resolve in this environment: %v", err)
	}

	second, err := c.Resolve("localhost")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if !first.Equal(second) {
		t.Fatalf("cached Resolve returned %s, want %s", second, first)
	}
}

func TestReverseNameFallsBackToDottedQuad(t *testing.T) {
	c := hostcache.New()
	// TEST-NET-3 (RFC 5737): reserved for documentation, never reverse-resolves.
	ip := net.IPv4(203, 0, 113, 1)

	name := c.ReverseName(ip)
	if name != "203.0.113.1" {
		t.Fatalf("ReverseName = %q, want dotted-quad fallback %q", name, "203.0.113.1")
	}

	// Calling again must hit the cached entry and return the same value.
	if again := c.ReverseName(ip); again != name {
		t.Fatalf("cached ReverseName = %q, want %q", again, name)
	}
}
