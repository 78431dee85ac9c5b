package socks5

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is the position of a session in the handshake.
type State int32

const (
	StateAwaitingGreeting State = iota
	StateAwaitingRequest
	StateConnecting
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingGreeting:
		return "awaiting-greeting"
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateConnecting:
		return "connecting"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one client connection and, once connected, its upstream. It
// owns both connections; Close releases them exactly once.
type Session struct {
	ID uint64

	client    net.Conn
	connector *Connector
	timeout   time.Duration
	log       log.FieldLogger

	// buf holds client bytes received but not yet consumed by the handshake.
	buf   []byte
	state atomic.Int32
	// early counts pipelined bytes forwarded upstream before the relay started.
	early int64

	mu       sync.Mutex
	upstream net.Conn
	closed   bool
}

func NewSession(id uint64, client net.Conn, connector *Connector, handshakeTimeout time.Duration, logger log.FieldLogger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{
		ID:        id,
		client:    client,
		connector: connector,
		timeout:   handshakeTimeout,
		log:       logger.WithFields(log.Fields{"session": id, "client": client.RemoteAddr()}),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// advance moves the session from one state to the next. It reports false,
// leaving the state alone, when the session is no longer in from.
func (s *Session) advance(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// attach hands the upstream connection to the session. It reports false and
// closes conn if the session was closed in the meantime.
func (s *Session) attach(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return false
	}
	s.upstream = conn
	return true
}

// Close closes the client and upstream connections. Only the first call has
// any effect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	upstream := s.upstream
	s.mu.Unlock()

	s.setState(StateClosed)
	_ = s.client.Close()
	if upstream != nil {
		_ = upstream.Close()
	}
}
