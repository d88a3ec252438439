// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
)

// Context contains connection metadata for an authenticated request.
type Context struct {
	// SessionID is a unique identifier for this connection
	SessionID string

	// Username that passed Basic authentication. The password is never kept.
	Username string

	// RemoteAddr is the client's network address
	RemoteAddr string
}

// Handler receives the body of every authenticated, non-empty request.
//
// Handle is called at most once per connection and the connection waits for
// it to return before answering 200. It cannot signal failure; anything that
// goes wrong inside is the handler's own business. When the server runs with
// a handler timeout, ctx carries that deadline and the server answers 500 if
// it expires, but Handle itself keeps running until it returns.
type Handler interface {
	Handle(ctx context.Context, hctx *Context, body []byte)
}

// Func adapts a plain function to the Handler interface.
type Func func(ctx context.Context, body []byte)

var _ Handler = (Func)(nil)

// Handle calls f(ctx, body).
func (f Func) Handle(ctx context.Context, hctx *Context, body []byte) {
	f(ctx, body)
}

// NoopHandler is a Handler that discards every body.
// Useful for testing or load measurements.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) Handle(ctx context.Context, hctx *Context, body []byte) {}
