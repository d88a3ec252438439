// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/mrest/pkg/auth"
	"github.com/absmach/mrest/pkg/handler"
	"github.com/absmach/mrest/pkg/metrics"
)

const (
	defaultAddress         = ":8080"
	defaultReadBufferSize  = 64 * 1024
	defaultShutdownTimeout = 30 * time.Second

	acceptBackoff = 5 * time.Millisecond
)

var (
	// ErrShutdownTimeout is returned when in-flight connections outlive the
	// shutdown deadline.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port). Defaults to ":8080".
	Address string

	// ReadBufferSize is the size of each read from a connection.
	// Defaults to 64 KiB.
	ReadBufferSize int

	// MaxRequestSize caps the bytes accumulated for one request. Larger
	// requests are answered with 400. Zero means no limit.
	MaxRequestSize int

	// ReadTimeout bounds the whole reading phase of a connection. A deadline
	// hit is a read error and is answered with 500. Zero means no deadline.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the response. Zero means no deadline.
	WriteTimeout time.Duration

	// HandlerTimeout bounds the request handler. When it expires the client
	// gets 500 while the handler keeps running on its own goroutine.
	// Zero means the connection waits for the handler indefinitely.
	HandlerTimeout time.Duration

	// ShutdownTimeout is the maximum time Listen waits for in-flight
	// connections after its context is cancelled. Defaults to 30s.
	ShutdownTimeout time.Duration

	// Logger for server events
	Logger *slog.Logger

	// Metrics is optional Prometheus instrumentation.
	Metrics *metrics.Metrics

	// OnTransition, when set, is called for every connection state change.
	// It runs on the connection's goroutine and must not block.
	OnTransition func(sessionID string, from, to State)
}

// Server accepts TCP connections and runs one request/response exchange on
// each of them.
type Server struct {
	config     Config
	gate       *auth.Gate
	handler    handler.Handler
	listener   net.Listener
	bufferPool sync.Pool
	wg         sync.WaitGroup
	acceptDone chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// New binds the configured address and returns a server ready to Start.
func New(cfg Config, gate *auth.Gate, h handler.Handler) (*Server, error) {
	if gate == nil {
		return nil, errors.New("auth gate is required")
	}
	if h == nil {
		return nil, errors.New("request handler is required")
	}
	if cfg.Address == "" {
		cfg.Address = defaultAddress
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}

	s := &Server{
		config:     cfg,
		gate:       gate,
		handler:    h,
		listener:   listener,
		acceptDone: make(chan struct{}),
	}
	size := cfg.ReadBufferSize
	s.bufferPool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}

	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start begins accepting connections in the background. Calling it more than
// once, or after Stop, has no effect.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true

	s.config.Logger.Info("TCP server started", slog.String("address", s.Addr().String()))
	go s.acceptLoop()
}

// Stop closes the listener and waits for the accept loop to exit. In-flight
// connections are not interrupted; use Wait to drain them.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	err := s.listener.Close()
	if started {
		<-s.acceptDone
	}
	if err != nil {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}

// Wait blocks until every in-flight connection has finished, or returns
// ErrShutdownTimeout once ctx is done. Call it after Stop.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}

// Listen starts the server and blocks until ctx is cancelled, then stops
// accepting and drains in-flight connections for up to ShutdownTimeout.
func (s *Server) Listen(ctx context.Context) error {
	s.Start()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := s.Stop(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.Wait(shutdownCtx); err != nil {
		s.config.Logger.Warn("shutdown timeout exceeded, leaving connections to finish on their own")
		return err
	}

	s.config.Logger.Info("all connections closed gracefully")
	return nil
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
			time.Sleep(acceptBackoff)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(nc)
		}()
	}
}

func (s *Server) serve(nc net.Conn) {
	c := newConn(s, nc)

	s.config.Logger.Debug("connection established",
		slog.String("session", c.hctx.SessionID),
		slog.String("client", c.hctx.RemoteAddr))

	code := s.config.Metrics.ObserveConnection(c.run)

	s.config.Logger.Debug("connection closed",
		slog.String("session", c.hctx.SessionID),
		slog.Int("status", int(code)))
}

func (s *Server) getBuffer() *[]byte {
	return s.bufferPool.Get().(*[]byte)
}

func (s *Server) putBuffer(buf *[]byte) {
	s.bufferPool.Put(buf)
}
