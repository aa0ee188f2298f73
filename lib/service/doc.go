// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the transports bureau-ci binaries use to
// talk to each other and to operators.
//
//   - SocketServer and Client: a CBOR request-response protocol on a
//     Unix socket, one request per connection. The orchestrator serves
//     it; workers and the submit tooling call it. Every request is a
//     CBOR map with an "action" field used for routing; the remaining
//     fields are action-specific. Every response is a [Response]
//     envelope.
//   - HTTPServer: lifecycle wrapper for the orchestrator's admin HTTP
//     listener (health, metrics, job listing).
//
// Both servers block in Serve until their context is cancelled, then
// drain in-flight work before returning.
//
// # Authentication
//
// The socket carries no caller authentication. Filesystem permissions
// on the socket path decide who may connect. Actions that operate on a
// running job require that job's token in the request, and the token
// is the only credential a worker holds for its job.
package service
