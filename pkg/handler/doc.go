// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the interface that links the listener to business
// logic.
//
// # Data Flow
//
//	Client → Server (read, frame, authenticate) → Handler.Handle(body) → Server → 200
//
// The server only calls Handle for requests that passed Basic authentication
// and carry a non-empty body. Everything else is answered (400, 401, 500)
// without the handler ever seeing it.
//
// # Context
//
// Each call receives a Context with connection metadata:
//
//	type Context struct {
//		SessionID  string // uuid for this connection
//		Username   string // authenticated user
//		RemoteAddr string // client address
//	}
//
// # Implementing a Handler
//
// A plain function works through Func:
//
//	h := handler.Func(func(ctx context.Context, body []byte) {
//		log.Printf("received %d bytes", len(body))
//	})
//
// Types that need connection metadata implement Handle directly:
//
//	type Forwarder struct{ out chan<- []byte }
//
//	func (f *Forwarder) Handle(ctx context.Context, hctx *handler.Context, body []byte) {
//		select {
//		case f.out <- body:
//		case <-ctx.Done():
//		}
//	}
//
// # Blocking
//
// Handle runs on the connection's own goroutine. A slow handler delays only
// its own response; other connections and the accept loop are unaffected.
// Without a handler timeout a handler that never returns keeps its
// connection open forever, so long-running work should watch ctx.
//
// # Wrapping
//
// Handlers compose by wrapping, the way the daemon adds rate limiting and
// instrumentation:
//
//	type Instrumented struct {
//		next    handler.Handler
//		metrics *metrics.Metrics
//	}
//
//	func (h *Instrumented) Handle(ctx context.Context, hctx *handler.Context, body []byte) {
//		start := time.Now()
//		h.next.Handle(ctx, hctx, body)
//		h.metrics.HandlerDuration.Observe(time.Since(start).Seconds())
//	}
package handler
