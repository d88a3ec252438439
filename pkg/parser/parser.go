// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	mrerrors "github.com/absmach/mrest/pkg/errors"
)

// Delimiter separates the header block from the body.
const Delimiter = "\r\n\r\n"

const lineBreak = "\r\n"

// ErrNoDelimiter is returned by Parse for buffers without a Delimiter.
var ErrNoDelimiter = fmt.Errorf("%w: no header/body delimiter", mrerrors.ErrMalformedRequest)

// Request is one framed request: headers as received and the trimmed body.
type Request struct {
	Headers map[string]string
	Body    []byte
}

// Header looks up a header by its exact name.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.Headers[name]
	return v, ok
}

// Parse frames raw into a Request. Buffers without a Delimiter never produce
// a Request.
func Parse(raw []byte) (*Request, error) {
	if !bytes.Contains(raw, []byte(Delimiter)) {
		return nil, ErrNoDelimiter
	}
	headers, body := Split(string(raw))
	return &Request{
		Headers: headers,
		Body:    []byte(body),
	}, nil
}

// Split separates raw into headers and body. The body is the last
// Delimiter-separated segment, trimmed of surrounding whitespace. Header lines
// are split on their first colon; lines without one, or with an empty name,
// are dropped. Later duplicates overwrite earlier ones and names keep their
// case. A buffer without a Delimiter yields empty headers and body.
func Split(raw string) (map[string]string, string) {
	headers := make(map[string]string)

	segments := strings.Split(raw, Delimiter)
	if len(segments) < 2 {
		return headers, ""
	}

	body := strings.TrimSpace(segments[len(segments)-1])

	for _, line := range strings.Split(segments[0], lineBreak) {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		headers[name] = strings.TrimSpace(value)
	}

	return headers, body
}

// Complete reports whether raw is known to hold a whole request before the
// peer finishes sending: the Delimiter has arrived, a numeric Content-Length
// header is present, and at least that many bytes follow the first Delimiter.
// Without Content-Length only end of data ends a request, so Complete is false.
func Complete(raw []byte) bool {
	idx := bytes.Index(raw, []byte(Delimiter))
	if idx < 0 {
		return false
	}

	n, ok := contentLength(raw[:idx])
	if !ok {
		return false
	}
	return len(raw)-idx-len(Delimiter) >= n
}

// contentLength scans a header block for Content-Length, ignoring case since
// it only drives framing.
func contentLength(block []byte) (int, bool) {
	for _, line := range strings.Split(string(block), lineBreak) {
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
