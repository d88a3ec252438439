// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package response

import (
	"testing"

	"github.com/absmach/mrest/pkg/status"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		code status.Code
		want string
	}{
		{
			name: "ok",
			code: status.OK,
			want: "HTTP/1.1 200 OK\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: 2\r\n\r\nOK",
		},
		{
			name: "bad request",
			code: status.BadRequest,
			want: "HTTP/1.1 400 Bad Request\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: 11\r\n\r\nBad Request",
		},
		{
			name: "unauthorized",
			code: status.Unauthorized,
			want: "HTTP/1.1 401 Unauthorized\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: 12\r\n\r\nUnauthorized",
		},
		{
			name: "internal server error",
			code: status.InternalServerError,
			want: "HTTP/1.1 500 Internal Server Error\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: 21\r\n\r\nInternal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(Encode(tt.code)); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncode_Repeatable(t *testing.T) {
	first := string(Encode(status.OK))
	for i := 0; i < 3; i++ {
		if got := string(Encode(status.OK)); got != first {
			t.Fatalf("Encode() changed between calls: %q vs %q", got, first)
		}
	}
}

func TestEncodeMessage(t *testing.T) {
	got := string(EncodeMessage(status.Conflict, "déjà vu"))
	want := "HTTP/1.1 409 Conflict\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: 9\r\n\r\ndéjà vu"
	if got != want {
		t.Errorf("EncodeMessage() = %q, want %q", got, want)
	}

	got = string(EncodeMessage(status.NoContent, ""))
	want = "HTTP/1.1 204 No Content\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: 0\r\n\r\n"
	if got != want {
		t.Errorf("EncodeMessage() = %q, want %q", got, want)
	}
}
