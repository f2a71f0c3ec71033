// Package ftpd implements an FTP server covering the RFC 959 command
// subset described in SPEC_FULL.md: the control-connection state machine,
// ACTIVE/PASSIVE data connections, and a per-user jailed filesystem.
package ftpd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hollowcrate/ftpd/internal/ratelimit"
	"github.com/hollowcrate/ftpd/internal/transferpool"
	"github.com/hollowcrate/ftpd/internal/userstore"
)

// Server is the FTP server. It listens for incoming control connections
// and runs each client session on its own goroutine.
//
// Lifecycle:
//  1. Create with NewServer().
//  2. Start with ListenAndServe() or Serve().
//  3. Runs until the listener closes or Shutdown is called.
type Server struct {
	addr string

	users *userstore.Store

	logger *slog.Logger

	welcomeMessage string
	serverName     string

	maxIdleTime  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	maxConnections int
	activeConns    atomic.Int32

	publicHost      string
	pasvMinPort     int
	pasvMaxPort     int
	nextPassivePort int32

	transfers *transferpool.Pool

	bandwidthLimit int64 // bytes per second, shared across all RETR/STOR/APPE transfers; 0 = unlimited
	globalLimiter  *ratelimit.Limiter

	metrics MetricsCollector

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("ftpd: server closed")

// NewServer creates an FTP server listening on addr (e.g. ":21"). A
// *userstore.Store must be supplied via WithUserStore.
func NewServer(addr string, opts ...Option) (*Server, error) {
	s := &Server{
		addr:           addr,
		logger:         slog.Default(),
		welcomeMessage: "FTP server ready",
		serverName:     "UNIX Type: L8",
		maxIdleTime:    5 * time.Minute,
		conns:          make(map[net.Conn]struct{}),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.users == nil {
		return nil, fmt.Errorf("ftpd: user store is required (use WithUserStore)")
	}

	s.transfers = transferpool.New(s.maxConnections)

	if s.bandwidthLimit > 0 {
		s.globalLimiter = ratelimit.New(s.bandwidthLimit)
	}

	return s, nil
}

// ListenAndServe listens on the server's configured address and serves
// until an error occurs or Shutdown is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ftpd: listen on %s: %w", s.addr, err)
	}
	s.logger.Info("ftp server listening", "addr", s.addr)
	return s.Serve(ln)
}

// Serve accepts connections on l, handing each to its own session
// goroutine, until l is closed or Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// Shutdown stops accepting new connections and waits for active sessions
// to finish, or forcibly closes them once ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for s.activeConns.Load() != 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		conns := s.conns
		s.conns = make(map[net.Conn]struct{})
		s.mu.Unlock()

		for conn := range maps.Keys(conns) {
			conn.Close()
		}
		if err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inShutdown.Load() {
		conn.Close()
		return false
	}

	if add {
		s.conns[conn] = struct{}{}
		return true
	}
	delete(s.conns, conn)
	return true
}

type trackingConn struct {
	net.Conn
	server *Server
}

func (c *trackingConn) Close() error {
	c.server.trackConnection(c.Conn, false)
	return c.Conn.Close()
}

func (s *Server) handleConnection(conn net.Conn) {
	if s.maxConnections > 0 && s.activeConns.Load() >= int32(s.maxConnections) {
		remoteAddr := conn.RemoteAddr().String()
		ip, _, _ := net.SplitHostPort(remoteAddr)
		s.logger.Warn("connection_rejected", "remote_ip", ip, "reason", "global_limit_reached")
		if s.metrics != nil {
			s.metrics.RecordConnection(false, "global_limit_reached")
		}
		fmt.Fprintf(conn, "421 Too many users, sorry.\r\n")
		conn.Close()
		return
	}

	if !s.trackConnection(conn, true) {
		return
	}
	defer s.trackConnection(conn, false)

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	if s.metrics != nil {
		s.metrics.RecordConnection(true, "accepted")
	}

	sess := newSession(s, conn)
	sess.serve()
}
