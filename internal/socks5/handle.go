package socks5

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.io/kevin-rd/k8s-tools/socks5-relay/internal/metrics"
)

// Serve runs the session to completion: greeting, request, upstream connect,
// success reply, relay. The session is closed when Serve returns, and when
// ctx is cancelled.
func (s *Session) Serve(ctx context.Context) error {
	defer s.Close()
	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	if err := s.handshake(ctx); err != nil {
		s.fail(err)
		return err
	}
	return s.transport(ctx)
}

func (s *Session) handshake(ctx context.Context) error {
	if s.timeout > 0 {
		_ = s.client.SetDeadline(time.Now().Add(s.timeout))
	}

	if err := s.auth(); err != nil {
		return err
	}
	req, err := s.readRequest()
	if err != nil {
		return err
	}

	_ = s.client.SetDeadline(time.Time{})
	return s.replay(ctx, req)
}

func (s *Session) auth() error {
	greeting, err := readMessage(s.client, &s.buf, ParseGreeting)
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	s.log.Debugf("greeting offers methods %v", greeting.Methods)

	// no-auth is selected whatever the client offers
	if _, err := s.client.Write([]byte{SOCKS5VERSION, MethodNoAuth}); err != nil {
		return fmt.Errorf("write method selection: %w", err)
	}
	if !s.advance(StateAwaitingGreeting, StateAwaitingRequest) {
		return fmt.Errorf("method selection: %w", net.ErrClosed)
	}
	return nil
}

func (s *Session) readRequest() (*Request, error) {
	req, err := readMessage(s.client, &s.buf, ParseRequest)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	if !s.advance(StateAwaitingRequest, StateConnecting) {
		return nil, fmt.Errorf("read request: %w", net.ErrClosed)
	}
	return req, nil
}

func (s *Session) replay(ctx context.Context, req *Request) error {
	target := req.Addr.String()
	s.log.WithField("target", target).Info("connecting")

	conn, err := s.connector.Connect(ctx, req.Addr)
	if err != nil {
		return err
	}
	if !s.attach(conn) {
		return fmt.Errorf("connect %s: %w", target, net.ErrClosed)
	}

	b, _ := Reply{Status: Succeeded}.MarshalBinary()
	if _, err := s.client.Write(b); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	s.log.WithField("target", target).Info("connected")

	// payload the client pipelined behind its request
	if len(s.buf) > 0 {
		n, err := conn.Write(s.buf)
		s.early += int64(n)
		if err != nil {
			return fmt.Errorf("forward early payload: %w", err)
		}
		s.buf = nil
	}
	if !s.advance(StateConnecting, StateRelaying) {
		return fmt.Errorf("relay %s: %w", target, net.ErrClosed)
	}
	return nil
}

func (s *Session) transport(ctx context.Context) error {
	s.mu.Lock()
	upstream := s.upstream
	s.mu.Unlock()

	stats, err := Relay(ctx, s.client, upstream, s.Close)
	stats.Upstream += s.early
	metrics.ObserveRelay(stats.Upstream, stats.Downstream)

	entry := s.log.WithFields(log.Fields{"sent": stats.Upstream, "received": stats.Downstream})
	if err != nil {
		entry.Warnf("relay ended with error: %v", err)
	} else {
		entry.Debug("transport has completed")
	}
	return nil
}

// fail reports a handshake error, writing a failure reply first when one is
// owed to the client.
func (s *Session) fail(err error) {
	reason := failureReason(err)
	metrics.HandshakeFailures.WithLabelValues(reason).Inc()

	if status, ok := replyStatus(err); ok && s.State() != StateClosed {
		b, _ := Reply{Status: status}.MarshalBinary()
		if _, werr := s.client.Write(b); werr != nil {
			s.log.Debugf("fail to write %s reply: %v", StatusText(status), werr)
		}
	}

	if reason == "closed" {
		s.log.Debugf("session ended during handshake: %v", err)
		return
	}
	s.log.WithField("state", s.State()).Warnf("fail in handshake: %v", err)
}

func failureReason(err error) string {
	var ce *ConnectError
	switch {
	case errors.As(err, &ce):
		return "connect"
	case errors.Is(err, ErrVersionMismatch):
		return "version"
	case errors.Is(err, ErrUnsupportedCommand):
		return "command"
	case errors.Is(err, ErrUnsupportedAddressType):
		return "address_type"
	case errors.Is(err, ErrMalformedAddress):
		return "malformed_address"
	case isClosed(err):
		return "closed"
	default:
		return "transport"
	}
}
