// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser frames raw request bytes into headers and body.
//
// # Framing
//
// A request is everything a client sends on one connection. The request line
// is not interpreted; it simply ends up as a header line without a colon and
// is dropped. The header block ends at the first blank line:
//
//	POST / HTTP/1.1\r\n
//	Authorization: Basic dXNlcjpwYXNz\r\n
//	\r\n
//	{"a":1}
//
// Parse yields:
//
//	Headers: {"Authorization": "Basic dXNlcjpwYXNz"}
//	Body:    {"a":1}
//
// Header names keep the case they were sent with, so lookups must use the
// exact name ("Authorization", not "authorization").
//
// # Incremental reads
//
// Servers accumulate chunks and call Complete after each one. Complete
// returns true once the blank line has arrived and a declared Content-Length
// worth of body bytes has followed it, so such a client does not have to
// half-close its side of the connection to get a response. Requests without
// Content-Length end only at end of data.
package parser
