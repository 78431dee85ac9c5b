package socks5

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.io/kevin-rd/k8s-tools/socks5-relay/internal/metrics"
)

const DefaultHandshakeTimeout = 10 * time.Second

// Server accepts client connections and runs one Session per connection.
type Server struct {
	Connector        *Connector
	HandshakeTimeout time.Duration
	// MaxSessions bounds concurrent sessions; 0 means unlimited. Accepting
	// pauses while the limit is reached.
	MaxSessions int64
	Log         log.FieldLogger

	nextID atomic.Uint64
}

func (s *Server) logger() log.FieldLogger {
	if s.Log == nil {
		return log.StandardLogger()
	}
	return s.Log
}

// MustStart listens on address and serves until ctx is done. It exits the
// process if the listener cannot be created.
func MustStart(ctx context.Context, srv *Server, address string) {
	if err := srv.ListenAndServe(ctx, address); err != nil {
		log.Fatalf("socks5 server: %v", err)
	}
}

func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	s.logger().Debug("Socks5 server start at: ", address)

	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return fmt.Errorf("fail in resolve tcp addr: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("fail in listen port: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is done or the listener
// fails, then waits for running sessions to finish. Cancelling ctx closes
// the listener and every live session.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	logger := s.logger()
	defer func() { _ = listener.Close() }()

	stop := context.AfterFunc(ctx, func() {
		logger.Info("Close socks5 listener...")
		_ = listener.Close()
	})
	defer stop()

	var (
		wg  sync.WaitGroup
		sem *semaphore.Weighted
	)
	if s.MaxSessions > 0 {
		sem = semaphore.NewWeighted(s.MaxSessions)
	}

	defer func() {
		wg.Wait()
		logger.Info("Server has gracefully shutdown.")
	}()

	for {
		// limit concurrent sessions before taking the next connection
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if sem != nil {
				sem.Release(1)
			}
			if ctx.Err() != nil {
				logger.Debug("Server has gracefully shutdown from listener status")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Warn("fail in accept: ", err)
			time.Sleep(time.Second / 5)
			continue
		}

		wg.Add(1)
		go func(conn net.Conn) {
			defer func() {
				if sem != nil {
					sem.Release(1)
				}
				wg.Done()
				logger.Debugf("Connection closed: %v", conn.RemoteAddr())
			}()

			logger.Debugf("New connection: %v", conn.RemoteAddr())
			s.handle(ctx, conn)
		}(conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer metrics.SessionStarted()()

	connector := s.Connector
	if connector == nil {
		connector = NewConnector(nil, DefaultConnectTimeout)
	}
	sess := NewSession(s.nextID.Add(1), conn, connector, s.HandshakeTimeout, s.logger())
	_ = sess.Serve(ctx)
}
