// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package status defines the closed set of HTTP status codes mrest speaks.
package status

import "strconv"

// Code is an HTTP status code from the closed set below.
type Code int

const (
	OK                  Code = 200
	Created             Code = 201
	Accepted            Code = 202
	NoContent           Code = 204
	BadRequest          Code = 400
	Unauthorized        Code = 401
	Forbidden           Code = 403
	NotFound            Code = 404
	MethodNotAllowed    Code = 405
	Conflict            Code = 409
	InternalServerError Code = 500
	NotImplemented      Code = 501
	ServiceUnavailable  Code = 503
)

var reasons = map[Code]string{
	OK:                  "OK",
	Created:             "Created",
	Accepted:            "Accepted",
	NoContent:           "No Content",
	BadRequest:          "Bad Request",
	Unauthorized:        "Unauthorized",
	Forbidden:           "Forbidden",
	NotFound:            "Not Found",
	MethodNotAllowed:    "Method Not Allowed",
	Conflict:            "Conflict",
	InternalServerError: "Internal Server Error",
	NotImplemented:      "Not Implemented",
	ServiceUnavailable:  "Service Unavailable",
}

// Reason returns the canonical reason phrase, or an empty string for codes
// outside the set.
func (c Code) Reason() string {
	return reasons[c]
}

// Valid reports whether c belongs to the set.
func (c Code) Valid() bool {
	_, ok := reasons[c]
	return ok
}

// String returns the numeric code, used as a metric label.
func (c Code) String() string {
	return strconv.Itoa(int(c))
}
