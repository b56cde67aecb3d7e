// Package server accepts line connections and runs one worker per
// connection: login handshake, command loop, teardown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/Tyrowin/linechat/internal/transport"
)

// Server is the connection supervisor. It owns the registry, routing, and
// idle reaper, and tracks every open connection so shutdown can close them.
type Server struct {
	cfg         Config
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
	registry    *Registry
	broadcaster *Broadcaster
	router      *Router
	reaper      *Reaper

	conns cmap.ConcurrentMap[string, *Client]
	wg    sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	closing  atomic.Bool
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus collectors. Without it the server is not
// instrumented.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock replaces time.Now for activity tracking and idle checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a Server from cfg.
func NewServer(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:    sanitizeConfig(cfg),
		logger: slog.Default(),
		now:    time.Now,
		conns:  cmap.New[*Client](),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = NewRegistry(s.now)
	s.broadcaster = NewBroadcaster(s.registry, s.metrics, s.logger)
	s.router = NewRouter(s.registry, s.broadcaster, s.metrics, s.logger)
	s.reaper = NewReaper(s.registry, s.cfg.IdleTimeout, s.cfg.ReapInterval, func(sess Session) {
		s.disconnect(sess.Client)
	}, s.metrics, s.logger)
	s.reaper.now = s.now
	return s
}

// Config returns the sanitized configuration.
func (s *Server) Config() Config { return s.cfg }

// Registry returns the session registry.
func (s *Server) Registry() *Registry { return s.registry }

// Reaper returns the idle reaper.
func (s *Server) Reaper() *Reaper { return s.reaper }

// Metrics returns the server's collectors, possibly nil.
func (s *Server) Metrics() *Metrics { return s.metrics }

// ConnectionCount returns the number of open connections, logged in or not.
func (s *Server) ConnectionCount() int { return s.conns.Count() }

// ListenAndServe binds the configured address and serves until ctx is done
// or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and runs the idle reaper. It returns nil
// after a shutdown, whether triggered by ctx or by Shutdown, and the accept
// error otherwise. When ctx ends, Serve shuts the server down before
// returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("chat server listening", "addr", ln.Addr().String())

	go s.reaper.Run(ctx)
	go func() {
		<-ctx.Done()
		s.closeListener()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				if !s.closing.Load() {
					return s.Shutdown(s.cfg.ShutdownTimeout)
				}
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.logger.Debug("new connection", "addr", conn.RemoteAddr().String())
		lineConn := transport.NewStreamConn(conn, s.cfg.MaxLineSize)

		if !s.track() {
			_ = lineConn.Close()
			continue
		}
		go func() {
			defer s.wg.Done()
			s.serveConn(lineConn)
		}()
	}
}

// track adds a worker to the wait group unless shutdown has begun. The
// check and the Add share s.mu with Shutdown so no Add races wait.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// ServeConn runs the worker for a connection accepted by another transport,
// such as the WebSocket handler. It blocks until the connection is done.
func (s *Server) ServeConn(conn transport.LineConn) {
	if !s.track() {
		_ = conn.Close()
		return
	}
	defer s.wg.Done()
	s.serveConn(conn)
}

func (s *Server) serveConn(conn transport.LineConn) {
	client := NewClient(conn, s.cfg, s.logger)
	s.conns.Set(client.ID(), client)
	s.metrics.connOpened()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()

	defer s.release(client)

	// Shutdown may have started between Set and here; it would have missed us.
	if s.closing.Load() {
		client.Kill()
		return
	}

	session, err := s.router.Login(client)
	if err != nil {
		s.logReadEnd(client, "", err)
		return
	}

	err = s.router.Serve(client, session)
	s.logReadEnd(client, session.Username, err)
}

// release tears a worker down: deregister, let queued lines drain within
// the write timeout, then forget the connection.
func (s *Server) release(client *Client) {
	s.disconnect(client)

	select {
	case <-client.Done():
	case <-time.After(s.cfg.WriteTimeout):
		client.Kill()
		<-client.Done()
	}

	s.conns.Remove(client.ID())
	s.metrics.connClosed()
}

// disconnect removes client's session if it still has one and closes the
// client. Only the caller that actually removed the session announces the
// departure, so the worker and the reaper can race here safely.
func (s *Server) disconnect(client *Client) {
	session, removed := s.registry.Deregister(client)
	client.Close()
	if !removed {
		return
	}

	s.metrics.setSessions(s.registry.Len())
	s.logger.Info("user disconnected", "user", session.Username, "addr", client.Addr())
	s.broadcaster.Info(departureNotice(session.Username))
}

func (s *Server) logReadEnd(client *Client, username string, err error) {
	switch {
	case errors.Is(err, errSessionGone):
		s.logger.Debug("session removed while reading", "user", username, "addr", client.Addr())
	case transport.IsDisconnect(err) || isExpectedCloseError(err):
		if username == "" {
			s.logger.Info("client disconnected before login", "addr", client.Addr())
		} else {
			s.logger.Debug("client connection closed", "user", username, "addr", client.Addr())
		}
	default:
		s.logger.Warn("error reading from client", "user", username, "addr", client.Addr(), "err", err)
	}
}

// Addr returns the listener address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) closeListener() {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("error closing listener", "err", err)
	}
}

// Shutdown stops accepting, force-closes every tracked connection, and
// waits for all workers to finish or for timeout to pass.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return s.wait(timeout)
	}
	s.closing.Store(true)
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("shutting down chat server")
	if cancel != nil {
		cancel()
	}
	s.closeListener()

	clients := s.conns.Items()
	for _, client := range clients {
		client.Kill()
	}
	s.logger.Info("closed client connections", "count", len(clients))

	return s.wait(timeout)
}

func (s *Server) wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("chat server shutdown completed")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("shutdown timeout reached, some workers may still be running")
		return context.DeadlineExceeded
	}
}
