// Package resolver turns destination domain names into IP addresses for the
// upstream connector. The system resolver is the default; a list of DNS
// servers can replace it, and either can sit behind a TTL cache.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var ErrNotFound = errors.New("resolver: no addresses found")

// Resolver looks up the addresses of host.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

// New returns the system resolver when servers is empty and a DNS resolver
// querying servers otherwise. A positive ttl wraps it in a cache.
func New(servers []string, timeout, ttl time.Duration) Resolver {
	var r Resolver = System{}
	if len(servers) > 0 {
		r = NewDNS(servers, timeout)
	}
	if ttl > 0 {
		r = NewCached(r, ttl)
	}
	return r
}

// System resolves through net.Resolver.
type System struct {
	Resolver *net.Resolver
}

func (s System) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	ips, err := r.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("lookup %s: %w", host, ErrNotFound)
	}
	return preferIPv4(ips), nil
}

// preferIPv4 moves IPv4 addresses ahead of IPv6 ones, keeping relative order.
func preferIPv4(ips []net.IP) []net.IP {
	out := make([]net.IP, 0, len(ips))
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			out = append(out, ip4)
		}
	}
	for _, ip := range ips {
		if ip.To4() == nil {
			out = append(out, ip)
		}
	}
	return out
}
