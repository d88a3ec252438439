// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package auth checks HTTP Basic Authentication headers against a single,
// fixed credential pair.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	mrerrors "github.com/absmach/mrest/pkg/errors"
)

// HeaderName is the header carrying the credentials. Lookups are exact-case.
const HeaderName = "Authorization"

const scheme = "Basic "

// Reasons a header is rejected. All of them wrap errors.ErrUnauthorized.
var (
	ErrMissingHeader   = fmt.Errorf("%w: missing authorization header", mrerrors.ErrUnauthorized)
	ErrInvalidScheme   = fmt.Errorf("%w: not basic authentication", mrerrors.ErrUnauthorized)
	ErrInvalidEncoding = fmt.Errorf("%w: invalid base64 or utf-8", mrerrors.ErrUnauthorized)
	ErrInvalidFormat   = fmt.Errorf("%w: expected username:password", mrerrors.ErrUnauthorized)
	ErrMismatch        = fmt.Errorf("%w: credentials do not match", mrerrors.ErrUnauthorized)
)

// Credentials is the username/password pair requests must present.
type Credentials struct {
	Username string
	Password string
}

// Gate validates Authorization headers. It is safe for concurrent use.
type Gate struct {
	creds Credentials
}

// New creates a Gate for creds. The pair cannot be changed afterwards.
func New(creds Credentials) *Gate {
	return &Gate{creds: creds}
}

// Verify reports whether value is a Basic Authorization header value carrying
// the configured credentials.
func (g *Gate) Verify(value string) bool {
	_, err := g.check(value)
	return err == nil
}

// Authenticate looks up the Authorization header and validates it. It
// returns the authenticated username, or an error naming why the request was
// rejected.
func (g *Gate) Authenticate(headers map[string]string) (string, error) {
	value, ok := headers[HeaderName]
	if !ok {
		return "", ErrMissingHeader
	}
	return g.check(value)
}

func (g *Gate) check(value string) (string, error) {
	_, encoded, found := strings.Cut(value, scheme)
	if !found {
		return "", ErrInvalidScheme
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || !utf8.Valid(decoded) {
		return "", ErrInvalidEncoding
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 2 {
		return "", ErrInvalidFormat
	}

	// Both comparisons run so timing does not reveal which half matched.
	userOK := subtle.ConstantTimeCompare([]byte(parts[0]), []byte(g.creds.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(parts[1]), []byte(g.creds.Password)) == 1
	if !userOK || !passOK {
		return "", ErrMismatch
	}

	return parts[0], nil
}

// Reason maps an Authenticate error to a short metric label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingHeader):
		return "missing_header"
	case errors.Is(err, ErrInvalidScheme):
		return "invalid_scheme"
	case errors.Is(err, ErrInvalidEncoding):
		return "invalid_encoding"
	case errors.Is(err, ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, ErrMismatch):
		return "mismatch"
	default:
		return "unknown"
	}
}
