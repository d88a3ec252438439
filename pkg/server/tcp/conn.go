// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/absmach/mrest/pkg/auth"
	mrerrors "github.com/absmach/mrest/pkg/errors"
	"github.com/absmach/mrest/pkg/handler"
	"github.com/absmach/mrest/pkg/parser"
	"github.com/absmach/mrest/pkg/response"
	"github.com/absmach/mrest/pkg/status"
	"github.com/google/uuid"
)

// State is a step of the per-connection state machine.
type State int

const (
	StateReading State = iota
	StateParsing
	StateAuthenticating
	StateDispatching
	StateResponding
	StateErrorClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateParsing:
		return "parsing"
	case StateAuthenticating:
		return "authenticating"
	case StateDispatching:
		return "dispatching"
	case StateResponding:
		return "responding"
	case StateErrorClosing:
		return "error_closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// conn drives one accepted connection through a single exchange. It is owned
// by one goroutine and never shared.
type conn struct {
	srv    *Server
	nc     net.Conn
	hctx   handler.Context
	logger *slog.Logger

	buf  []byte
	req  *parser.Request
	code status.Code
	sent bool
}

func newConn(s *Server, nc net.Conn) *conn {
	hctx := handler.Context{
		SessionID:  uuid.New().String(),
		RemoteAddr: nc.RemoteAddr().String(),
	}
	return &conn{
		srv:    s,
		nc:     nc,
		hctx:   hctx,
		logger: s.config.Logger.With(slog.String("session", hctx.SessionID)),
	}
}

// run steps the machine from Reading until Closed and closes the socket. It
// returns the status written to the client, or 0 if nothing was written.
func (c *conn) run() status.Code {
	defer c.nc.Close()

	state := StateReading
	for state != StateClosed {
		next := c.step(state)
		c.transition(state, next)
		state = next
	}

	if !c.sent {
		return 0
	}
	return c.code
}

func (c *conn) step(s State) State {
	switch s {
	case StateReading:
		return c.read()
	case StateParsing:
		return c.parse()
	case StateAuthenticating:
		return c.authenticate()
	case StateDispatching:
		return c.dispatch()
	case StateResponding:
		return c.respond()
	case StateErrorClosing:
		return c.errorClose()
	default:
		return StateClosed
	}
}

func (c *conn) transition(from, to State) {
	c.srv.config.Metrics.ObserveTransition(from.String(), to.String())
	if c.srv.config.OnTransition != nil {
		c.srv.config.OnTransition(c.hctx.SessionID, from, to)
	}
}

// read accumulates chunks until EOF, an empty read or, when Content-Length
// is declared, the whole declared body.
func (c *conn) read() State {
	cfg := c.srv.config
	if cfg.ReadTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)); err != nil {
			return c.fail("read", StateReading, err)
		}
	}

	chunk := c.srv.getBuffer()
	defer c.srv.putBuffer(chunk)

	for {
		n, err := c.nc.Read(*chunk)
		c.buf = append(c.buf, (*chunk)[:n]...)

		if cfg.MaxRequestSize > 0 && len(c.buf) > cfg.MaxRequestSize {
			c.logger.Debug("rejecting request",
				slog.String("error", mrerrors.ErrSizeLimitExceeded.Error()),
				slog.Int("limit", cfg.MaxRequestSize))
			c.code = status.BadRequest
			return StateResponding
		}

		switch {
		case errors.Is(err, io.EOF):
			return StateParsing
		case err != nil:
			return c.fail("read", StateReading, err)
		case n == 0, parser.Complete(c.buf):
			return StateParsing
		}
	}
}

func (c *conn) parse() State {
	if len(c.buf) == 0 {
		return StateClosed
	}
	c.srv.config.Metrics.ObserveRequestSize(len(c.buf))

	req, err := parser.Parse(c.buf)
	c.buf = nil
	if err != nil {
		c.logger.Debug("malformed request", slog.String("error", err.Error()))
		c.code = status.BadRequest
		return StateResponding
	}

	c.req = req
	return StateAuthenticating
}

func (c *conn) authenticate() State {
	username, err := c.srv.gate.Authenticate(c.req.Headers)
	if err != nil {
		reason := auth.Reason(err)
		c.srv.config.Metrics.ObserveAuthFailure(reason)
		c.logger.Debug("authentication failed",
			slog.String("client", c.hctx.RemoteAddr),
			slog.String("reason", reason))
		c.code = status.Unauthorized
		return StateResponding
	}

	c.hctx.Username = username
	return StateDispatching
}

func (c *conn) dispatch() State {
	body := c.req.Body
	if len(body) == 0 {
		c.logger.Debug("rejecting request", slog.String("error", mrerrors.ErrEmptyBody.Error()))
		c.code = status.BadRequest
		return StateResponding
	}

	cfg := c.srv.config
	if cfg.HandlerTimeout <= 0 {
		cfg.Metrics.ObserveHandler(func() {
			c.srv.handler.Handle(context.Background(), &c.hctx, body)
		})
		c.code = status.OK
		return StateResponding
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandlerTimeout)
	hctx := c.hctx
	done := make(chan struct{})
	go func() {
		defer cancel()
		defer close(done)
		cfg.Metrics.ObserveHandler(func() {
			c.srv.handler.Handle(ctx, &hctx, body)
		})
	}()

	select {
	case <-done:
		c.code = status.OK
		return StateResponding
	case <-ctx.Done():
	}

	// done is closed before cancel runs, so a finished handler is visible here.
	select {
	case <-done:
		c.code = status.OK
		return StateResponding
	default:
	}

	cfg.Metrics.ObserveHandlerTimeout()
	return c.fail("dispatch", StateDispatching, mrerrors.ErrHandlerTimeout)
}

func (c *conn) respond() State {
	c.write()
	return StateClosed
}

func (c *conn) errorClose() State {
	if c.code == 0 {
		c.code = status.InternalServerError
	}
	c.write()
	return StateClosed
}

// fail records err against the connection and moves to ErrorClosing with 500.
func (c *conn) fail(op string, s State, err error) State {
	cerr := mrerrors.New(op, s.String(), c.hctx.SessionID, c.hctx.RemoteAddr, err)
	c.logger.Debug("connection handler error", slog.String("error", cerr.Error()))
	c.code = status.InternalServerError
	return StateErrorClosing
}

func (c *conn) write() {
	if wt := c.srv.config.WriteTimeout; wt > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(wt)); err != nil {
			c.logWriteError(err)
			return
		}
	}

	if _, err := c.nc.Write(response.Encode(c.code)); err != nil {
		c.logWriteError(err)
		return
	}
	c.sent = true
}

func (c *conn) logWriteError(err error) {
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		err = fmt.Errorf("%w: %v", mrerrors.ErrConnectionClosed, err)
	}
	cerr := mrerrors.New("write", StateResponding.String(), c.hctx.SessionID, c.hctx.RemoteAddr, err)
	c.logger.Debug("failed to write response", slog.String("error", cerr.Error()))
}
