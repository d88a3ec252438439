// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mrest.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrUnauthorized indicates a missing or invalid Authorization header.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedRequest indicates a request without a header/body delimiter.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrEmptyBody indicates an authenticated request that carried no body.
	ErrEmptyBody = errors.New("empty body")

	// ErrSizeLimitExceeded indicates the request outgrew the configured limit.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")

	// ErrHandlerTimeout indicates the request handler did not return in time.
	ErrHandlerTimeout = errors.New("handler timeout")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")
)

// ConnError wraps an error with the connection it happened on.
type ConnError struct {
	Op         string // Operation that failed (read, write, dispatch)
	SessionID  string // Session identifier
	RemoteAddr string // Client address
	State      string // Connection state when the error occurred
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ConnError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s in %s [%s] %s: %v", e.Op, e.State, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s in %s %s: %v", e.Op, e.State, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnError) Unwrap() error {
	return e.Err
}

// New creates a new ConnError. It returns nil when err is nil.
func New(op, state, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnError{
		Op:         op,
		State:      state,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
