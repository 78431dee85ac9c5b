package socks5

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.io/kevin-rd/k8s-tools/socks5-relay/internal/metrics"
	"github.io/kevin-rd/k8s-tools/socks5-relay/internal/resolver"
)

const DefaultConnectTimeout = 5 * time.Second

// Dialer opens outbound connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Connector opens the upstream side of a session.
type Connector struct {
	Dialer   Dialer
	Resolver resolver.Resolver
	Timeout  time.Duration
}

func NewConnector(r resolver.Resolver, timeout time.Duration) *Connector {
	return &Connector{
		Dialer:   &net.Dialer{},
		Resolver: r,
		Timeout:  timeout,
	}
}

// Connect dials addr over TCP. Domain names are resolved first and every
// returned address is tried in order. Failures are *ConnectError values
// carrying the reply status for the client.
func (c *Connector) Connect(ctx context.Context, addr Address) (conn net.Conn, err error) {
	start := time.Now()
	defer func() {
		status := Succeeded
		var ce *ConnectError
		if errors.As(err, &ce) {
			status = ce.Status
		}
		metrics.ObserveUpstream(StatusText(status), time.Since(start))
	}()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	ips := []net.IP{addr.IP}
	if addr.Type == RequestAtypDomainname {
		if ip := net.ParseIP(addr.Name); ip != nil {
			ips = []net.IP{ip}
		} else if ips, err = c.resolver().LookupIP(ctx, addr.Name); err != nil {
			return nil, &ConnectError{Status: HostUnreachable, Addr: addr.String(), Err: err}
		}
		if len(ips) == 0 {
			return nil, &ConnectError{Status: HostUnreachable, Addr: addr.String(), Err: resolver.ErrNotFound}
		}
	}

	port := strconv.Itoa(int(addr.Port))
	var lastErr error
	for _, ip := range ips {
		conn, err := c.dialer().DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &ConnectError{Status: classifyDialError(lastErr), Addr: addr.String(), Err: lastErr}
}

func (c *Connector) resolver() resolver.Resolver {
	if c.Resolver == nil {
		return resolver.System{}
	}
	return c.Resolver
}

func (c *Connector) dialer() Dialer {
	if c.Dialer == nil {
		return &net.Dialer{}
	}
	return c.Dialer
}

// classifyDialError maps a dial failure to a reply status.
func classifyDialError(err error) uint8 {
	var (
		dnsErr *net.DNSError
		netErr net.Error
	)
	switch {
	case err == nil:
		return Failure
	case errors.As(err, &dnsErr):
		return HostUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return TTLExpired
	case errors.As(err, &netErr) && netErr.Timeout():
		return TTLExpired
	}
	return errnoStatus(err)
}
