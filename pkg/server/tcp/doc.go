// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the mrest listener: a plain TCP server that answers
// exactly one Basic-authenticated HTTP/1.1 request per connection.
//
// # Architecture
//
//	┌─────────┐         ┌──────────────┐
//	│ Client  │ ←─TCP─→ │    Server    │
//	└─────────┘         └──────────────┘
//	                           ↓ one goroutine per connection
//	                    ┌──────────────┐
//	                    │ parser/auth  │
//	                    └──────────────┘
//	                           ↓
//	                    ┌──────────────┐
//	                    │   Handler    │
//	                    └──────────────┘
//
// # Connection State Machine
//
// Every accepted connection runs the same machine; each state is a single
// method returning the next state:
//
//	Reading ──→ Parsing ──→ Authenticating ──→ Dispatching ──→ Responding ──→ Closed
//	   │           │  └─ empty buffer ─→ Closed        │             ↑
//	   │           └──── no delimiter (400) ───────────┼─────────────┤
//	   │                     bad auth (401) ───────────┼─────────────┤
//	   │                                 empty body (400)────────────┘
//	   └─ read error (500) ─→ ErrorClosing ←─ handler timeout (500)
//	                              └────────→ Closed
//
// Reading stops at EOF, at an empty read, or, for requests declaring
// Content-Length, as soon as parser.Complete reports the whole body. ErrorClosing makes a best-effort attempt to write
// 500 before the socket is closed. The socket is always closed when the
// machine reaches Closed; there is no keep-alive and no retry.
//
// Config.OnTransition observes every transition, which is how tests assert
// the path a request took.
//
// # Lifecycle
//
//	srv, err := tcp.New(cfg, gate, h) // binds the port
//	srv.Start()                        // accept loop in the background
//	...
//	srv.Stop()                         // stop accepting
//	srv.Wait(ctx)                      // drain in-flight connections
//
// Listen wraps the same sequence around a context, in the style of the
// other long-running components:
//
//	g.Go(func() error { return srv.Listen(ctx) })
//
// Stop never interrupts connections already being handled. A handler that
// never returns keeps its connection open unless Config.HandlerTimeout is
// set, in which case the client receives 500 when it expires.
//
// # Configuration
//
//   - Address: listen address (default ":8080")
//   - ReadBufferSize: bytes per read (default 64 KiB)
//   - MaxRequestSize: request cap, 400 when exceeded (default unlimited)
//   - ReadTimeout, WriteTimeout, HandlerTimeout: optional deadlines
//   - ShutdownTimeout: drain limit for Listen (default 30s)
//   - Logger, Metrics, OnTransition: observability hooks
package tcp
