// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package breaker provides a circuit breaker for calls to an external sink.
//
// After MaxFailures consecutive failures the breaker opens and rejects calls
// with ErrCircuitOpen. Once ResetTimeout has passed it lets calls through in
// the half-open state; SuccessThreshold consecutive successes close it again,
// and any failure reopens it.
package breaker

import (
	"errors"
	"sync"
	"time"
)

const (
	defaultMaxFailures      = 5
	defaultResetTimeout     = 30 * time.Second
	defaultSuccessThreshold = 2
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the
	// circuit. Defaults to 5.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open. Defaults to 30s.
	ResetTimeout time.Duration

	// SuccessThreshold is the number of half-open successes that close the
	// circuit. Defaults to 2.
	SuccessThreshold int

	// OnStateChange, when set, is called synchronously on every transition
	// while the breaker lock is held; it must not call back into the breaker.
	OnStateChange func(from, to State)

	// Now replaces time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu        sync.Mutex
	config    Config
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New creates a closed circuit breaker.
func New(config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = defaultMaxFailures
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = defaultResetTimeout
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaultSuccessThreshold
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Call runs fn unless the circuit is open, and records its outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn()

	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if cb.config.Now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		cb.setState(StateHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) setState(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.successes = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.config.Now()
	case StateClosed:
		cb.failures = 0
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
