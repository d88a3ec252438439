// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides rate limiting using token bucket algorithm.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

const (
	defaultMaxClients = 10000
	defaultIdleTTL    = 5 * time.Minute
)

var (
	// ErrRateLimitExceeded reports a request dropped by a limiter.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Option configures a TokenBucket or Limiter.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TokenBucket implements the token bucket algorithm for rate limiting.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket holding at most capacity tokens and
// gaining refillRate tokens per second.
func NewTokenBucket(capacity, refillRate int64, opts ...Option) *TokenBucket {
	o := buildOptions(opts)
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: o.now(),
		now:        o.now,
	}
}

// Allow takes one token if available.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN takes n tokens if all of them are available.
func (tb *TokenBucket) AllowN(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}

	return false
}

// refill adds whole tokens for the elapsed time. lastRefill only advances by
// the time those tokens account for, so partial intervals are not lost.
func (tb *TokenBucket) refill() {
	if tb.refillRate <= 0 {
		return
	}

	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	tokensToAdd := int64(elapsed.Seconds() * float64(tb.refillRate))
	if tokensToAdd <= 0 {
		return
	}

	tb.tokens += tokensToAdd
	if tb.tokens >= tb.capacity {
		tb.tokens = tb.capacity
		tb.lastRefill = now
		return
	}
	tb.lastRefill = tb.lastRefill.Add(time.Duration(tokensToAdd) * time.Second / time.Duration(tb.refillRate))
}

// Available returns the number of available tokens.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

type client struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// Limiter keeps one TokenBucket per client key. Clients that stay idle for
// the idle TTL are evicted by a background sweep.
type Limiter struct {
	mu         sync.Mutex
	clients    map[string]*client
	capacity   int64
	refillRate int64
	maxClients int
	idleTTL    time.Duration
	now        func() time.Time
	opts       []Option
	sweep      *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
}

// NewLimiter creates a per-client limiter. maxClients caps the number of
// tracked clients; new clients beyond it are refused. Zero selects 10000.
func NewLimiter(capacity, refillRate int64, maxClients int, opts ...Option) *Limiter {
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	o := buildOptions(opts)

	l := &Limiter{
		clients:    make(map[string]*client),
		capacity:   capacity,
		refillRate: refillRate,
		maxClients: maxClients,
		idleTTL:    defaultIdleTTL,
		now:        o.now,
		opts:       opts,
		sweep:      time.NewTicker(defaultIdleTTL),
		done:       make(chan struct{}),
	}
	go l.sweepLoop()

	return l
}

// Allow checks if a request from the given client should be allowed.
func (l *Limiter) Allow(clientID string) bool {
	return l.AllowN(clientID, 1)
}

// AllowN takes n tokens from clientID's bucket.
func (l *Limiter) AllowN(clientID string, n int64) bool {
	l.mu.Lock()
	c, ok := l.clients[clientID]
	if !ok {
		if len(l.clients) >= l.maxClients {
			l.mu.Unlock()
			return false
		}
		c = &client{bucket: NewTokenBucket(l.capacity, l.refillRate, l.opts...)}
		l.clients[clientID] = c
	}
	c.lastSeen = l.now()
	l.mu.Unlock()

	return c.bucket.AllowN(n)
}

// Remove removes a client's rate limiter.
func (l *Limiter) Remove(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, clientID)
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Prune evicts clients idle for longer than the idle TTL and returns how
// many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for id, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, id)
			removed++
		}
	}
	return removed
}

func (l *Limiter) sweepLoop() {
	for {
		select {
		case <-l.sweep.C:
			l.Prune()
		case <-l.done:
			return
		}
	}
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		l.sweep.Stop()
		close(l.done)
	})
}
