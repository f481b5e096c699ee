// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hostcache memoizes forward and reverse hostname resolutions for
// the lifetime of a process.
//
// The original Python drafts call socket.gethostbyname/gethostbyaddr once
// per packet (see original_source/emulator/emulator.py, Packet.__init__).
// The redesign note in spec.md §9 calls for caching both directions instead;
// this package is that cache.
package hostcache

import (
	"net"
	"sync"
)

// Cache memoizes net.LookupHost and net.LookupAddr results.
type Cache struct {
	mu      sync.Mutex
	forward map[string]net.IP
	reverse map[string]string
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		forward: make(map[string]net.IP),
		reverse: make(map[string]string),
	}
}

// Resolve returns the IPv4 address for host, resolving and caching on first
// use. A literal IPv4 address is returned as-is without a lookup.
func (c *Cache) Resolve(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}

	c.mu.Lock()
	if ip, ok := c.forward[host]; ok {
		c.mu.Unlock()
		return ip, nil
	}
	c.mu.Unlock()

	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil, err
	}
	var resolved net.IP
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if v4 := ip.To4(); v4 != nil {
				resolved = v4
				break
			}
		}
	}
	if resolved == nil {
		return nil, &net.DNSError{Err: "no IPv4 address found", Name: host}
	}

	c.mu.Lock()
	c.forward[host] = resolved
	c.mu.Unlock()
	return resolved, nil
}

// ReverseName returns the canonical hostname for ip, resolving and caching
// on first use. On lookup failure, the dotted-quad form of ip is returned.
func (c *Cache) ReverseName(ip net.IP) string {
	key := ip.String()

	c.mu.Lock()
	if name, ok := c.reverse[key]; ok {
		c.mu.Unlock()
		return name
	}
	c.mu.Unlock()

	names, err := net.LookupAddr(key)
	name := key
	if err == nil && len(names) > 0 {
		name = names[0]
	}

	c.mu.Lock()
	c.reverse[key] = name
	c.mu.Unlock()
	return name
}
