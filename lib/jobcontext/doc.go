// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobcontext defines the immutable bundle the orchestrator hands
// to a build worker: who the job is (token, project, build), what it
// builds (the ref and the exact commit pinned when the build was
// queued), how it runs (the action tree, sidecar services, executor
// description), and how long it may take.
//
// A [Context] is created once with [New] when a build is queued and is
// never modified afterwards. There are no setters; accessors return
// copies of slices and maps. Any number of goroutines (worker steps,
// log shippers, status observers) may read one Context without
// synchronization.
//
// [New] fails fast with a [*ConfigurationError] when a mandatory field
// is missing rather than returning a partially valid context. The
// decoded form produced by [Decode] passes through the same checks.
//
// Tokens are credentials. A [Token] formats as its BLAKE3 fingerprint
// in logs and in fmt verbs; only [Token.Value] and the wire encoding
// expose the raw value.
package jobcontext
