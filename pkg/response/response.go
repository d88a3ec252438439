// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package response renders the plain-text HTTP/1.1 status responses sent back
// to clients before their connection is closed.
package response

import (
	"strconv"

	"github.com/absmach/mrest/pkg/status"
)

const contentType = "text/plain; charset=utf-8"

// Encode renders a response whose body is the code's reason phrase.
func Encode(code status.Code) []byte {
	return EncodeMessage(code, code.Reason())
}

// EncodeMessage renders a response carrying message as its body. The status
// line always uses the canonical reason phrase.
func EncodeMessage(code status.Code, message string) []byte {
	buf := make([]byte, 0, 96+len(message))
	buf = append(buf, "HTTP/1.1 "...)
	buf = strconv.AppendInt(buf, int64(code), 10)
	buf = append(buf, ' ')
	buf = append(buf, code.Reason()...)
	buf = append(buf, "\r\nContent-Type: "...)
	buf = append(buf, contentType...)
	buf = append(buf, "\r\nContent-Length: "...)
	buf = strconv.AppendInt(buf, int64(len(message)), 10)
	buf = append(buf, "\r\n\r\n"...)
	buf = append(buf, message...)
	return buf
}
