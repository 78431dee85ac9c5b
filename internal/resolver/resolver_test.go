package resolver

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// startDNS serves upstream.test (A) and v6only.test (AAAA); every other name
// gets NXDOMAIN.
func startDNS(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			q := r.Question[0]
			switch {
			case q.Name == "upstream.test." && q.Qtype == dns.TypeA:
				rr, _ := dns.NewRR("upstream.test. 60 IN A 10.1.2.3")
				m.Answer = append(m.Answer, rr)
			case q.Name == "v6only.test." && q.Qtype == dns.TypeAAAA:
				rr, _ := dns.NewRR("v6only.test. 60 IN AAAA 2001:db8::1")
				m.Answer = append(m.Answer, rr)
			case q.Name == "upstream.test." || q.Name == "v6only.test.":
			default:
				m.Rcode = dns.RcodeNameError
			}
			_ = w.WriteMsg(m)
		}),
	}

	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSLookup(t *testing.T) {
	r := NewDNS([]string{startDNS(t)}, time.Second)
	ctx := context.Background()

	ips, err := r.LookupIP(ctx, "upstream.test")
	if err != nil {
		t.Fatal(err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.IPv4(10, 1, 2, 3)) {
		t.Fatalf("unexpected answer %v", ips)
	}

	ips, err = r.LookupIP(ctx, "v6only.test")
	if err != nil {
		t.Fatal(err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.ParseIP("2001:db8::1")) {
		t.Fatalf("unexpected answer %v", ips)
	}

	if _, err := r.LookupIP(ctx, "missing.test"); err == nil {
		t.Fatal("expected NXDOMAIN to fail")
	}
}

func TestDNSFallsBackToNextServer(t *testing.T) {
	// nothing answers on the first server
	dead, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := dead.LocalAddr().String()
	_ = dead.Close()

	r := NewDNS([]string{deadAddr, startDNS(t)}, 200*time.Millisecond)
	ips, err := r.LookupIP(context.Background(), "upstream.test")
	if err != nil {
		t.Fatal(err)
	}
	if len(ips) != 1 {
		t.Fatalf("unexpected answer %v", ips)
	}
}

func TestNewDNSDefaultsPort(t *testing.T) {
	r := NewDNS([]string{"192.0.2.53", "192.0.2.54:5353"}, 0)
	if r.servers[0] != "192.0.2.53:53" || r.servers[1] != "192.0.2.54:5353" {
		t.Fatalf("unexpected servers %v", r.servers)
	}
	if r.client.Timeout != defaultDNSTimeout {
		t.Fatalf("unexpected timeout %v", r.client.Timeout)
	}
}

type countingResolver struct {
	calls atomic.Int32
	err   error
}

func (c *countingResolver) LookupIP(context.Context, string) ([]net.IP, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []net.IP{net.IPv4(10, 0, 0, 1)}, nil
}

func TestCachedRemembersSuccess(t *testing.T) {
	inner := &countingResolver{}
	c := NewCached(inner, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := c.LookupIP(context.Background(), "cached.test"); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("inner resolver called %d times", inner.calls.Load())
	}
	if c.Len() != 1 {
		t.Fatalf("cache holds %d hosts", c.Len())
	}
}

func TestCachedSkipsFailures(t *testing.T) {
	inner := &countingResolver{err: errors.New("servfail")}
	c := NewCached(inner, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := c.LookupIP(context.Background(), "broken.test"); err == nil {
			t.Fatal("expected error")
		}
	}
	if inner.calls.Load() != 2 {
		t.Fatalf("inner resolver called %d times", inner.calls.Load())
	}
}

func TestCachedExpires(t *testing.T) {
	inner := &countingResolver{}
	c := NewCached(inner, 20*time.Millisecond)

	_, _ = c.LookupIP(context.Background(), "short.test")
	time.Sleep(50 * time.Millisecond)
	_, _ = c.LookupIP(context.Background(), "short.test")

	if inner.calls.Load() != 2 {
		t.Fatalf("inner resolver called %d times", inner.calls.Load())
	}
}

func TestNew(t *testing.T) {
	if _, ok := New(nil, 0, 0).(System); !ok {
		t.Fatal("expected system resolver")
	}
	if _, ok := New([]string{"192.0.2.53"}, 0, 0).(*DNS); !ok {
		t.Fatal("expected DNS resolver")
	}
	c, ok := New(nil, 0, time.Minute).(*Cached)
	if !ok {
		t.Fatal("expected cached resolver")
	}
	if _, ok := c.Resolver.(System); !ok {
		t.Fatal("expected cache over the system resolver")
	}
}

func TestPreferIPv4(t *testing.T) {
	in := []net.IP{net.ParseIP("2001:db8::1"), net.ParseIP("10.0.0.1"), net.ParseIP("2001:db8::2"), net.ParseIP("10.0.0.2")}
	out := preferIPv4(in)
	want := []string{"10.0.0.1", "10.0.0.2", "2001:db8::1", "2001:db8::2"}
	for i, ip := range out {
		if ip.String() != want[i] {
			t.Fatalf("got %v, want %v", out, want)
		}
	}
}
