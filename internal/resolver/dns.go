package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

const defaultDNSTimeout = 2 * time.Second

// DNS queries a fixed list of servers over UDP, in order, and returns the
// first usable answer.
type DNS struct {
	servers []string
	client  *dns.Client
}

// NewDNS returns a resolver for servers given as "host" or "host:port".
func NewDNS(servers []string, timeout time.Duration) *DNS {
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}
	return &DNS{
		servers: normalized,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

func (d *DNS) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := d.query(ctx, host, dns.TypeA)
	if err == nil && len(ips) > 0 {
		return ips, nil
	}
	ips6, err6 := d.query(ctx, host, dns.TypeAAAA)
	if err6 == nil && len(ips6) > 0 {
		return ips6, nil
	}
	if err == nil {
		err = err6
	}
	if err == nil {
		err = ErrNotFound
	}
	return nil, fmt.Errorf("lookup %s: %w", host, err)
}

func (d *DNS) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range d.servers {
		in, _, err := d.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[in.Rcode])
			continue
		}

		var ips []net.IP
		for _, ans := range in.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				ips = append(ips, rr.A)
			case *dns.AAAA:
				ips = append(ips, rr.AAAA)
			}
		}
		return ips, nil
	}
	return nil, lastErr
}
