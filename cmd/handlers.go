// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/absmach/mrest/pkg/handler"
	"github.com/absmach/mrest/pkg/metrics"
	"github.com/absmach/mrest/pkg/ratelimit"
)

// RateLimitedHandler drops bodies once a limiter runs dry. The client still
// gets 200; the drop is only visible in logs and metrics. Nil limiters are
// skipped.
type RateLimitedHandler struct {
	handler          handler.Handler
	perClientLimiter *ratelimit.Limiter
	globalLimiter    *ratelimit.TokenBucket
	metrics          *metrics.Metrics
	logger           *slog.Logger
}

// Handle implements handler.Handler with rate limiting.
func (h *RateLimitedHandler) Handle(ctx context.Context, hctx *handler.Context, body []byte) {
	if h.globalLimiter != nil && !h.globalLimiter.Allow() {
		h.metrics.ObserveRateLimited("global")
		h.logger.Warn("Dropping body",
			slog.String("error", ratelimit.ErrRateLimitExceeded.Error()),
			slog.String("limit", "global"),
			slog.String("session", hctx.SessionID),
			slog.String("remote", hctx.RemoteAddr))
		return
	}

	clientID := clientKey(hctx.RemoteAddr)
	if h.perClientLimiter != nil && !h.perClientLimiter.Allow(clientID) {
		h.metrics.ObserveRateLimited("per_client")
		h.logger.Warn("Dropping body",
			slog.String("error", ratelimit.ErrRateLimitExceeded.Error()),
			slog.String("limit", "per_client"),
			slog.String("session", hctx.SessionID),
			slog.String("client", clientID))
		return
	}

	h.handler.Handle(ctx, hctx, body)
}

// clientKey strips the ephemeral port so every connection from one host
// shares a bucket.
func clientKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// InstrumentedHandler recovers handler panics so a faulty sink cannot take
// the listener down with it.
type InstrumentedHandler struct {
	handler handler.Handler
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Handle implements handler.Handler with panic recovery.
func (h *InstrumentedHandler) Handle(ctx context.Context, hctx *handler.Context, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.ObserveHandlerPanic()
			h.logger.Error("Handler panicked",
				slog.String("session", hctx.SessionID),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()

	h.logger.Debug("Dispatching body",
		slog.String("session", hctx.SessionID),
		slog.String("username", hctx.Username),
		slog.Int("payload_size", len(body)))

	h.handler.Handle(ctx, hctx, body)
}
