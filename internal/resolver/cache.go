package resolver

import (
	"context"
	"net"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached remembers successful lookups for a fixed ttl. Failures are not
// cached.
type Cached struct {
	Resolver
	cache *cache.Cache
}

func NewCached(r Resolver, ttl time.Duration) *Cached {
	return &Cached{
		Resolver: r,
		cache:    cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if v, ok := c.cache.Get(host); ok {
		return v.([]net.IP), nil
	}
	ips, err := c.Resolver.LookupIP(ctx, host)
	if err != nil {
		return nil, err
	}
	c.cache.Set(host, ips, cache.DefaultExpiration)
	return ips, nil
}

// Len returns the number of cached hosts, expired ones included until the
// janitor runs.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}
