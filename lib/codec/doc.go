// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the one CBOR configuration used by bureau-ci for
// everything that crosses a process boundary: job contexts handed from
// the orchestrator to a worker, the orchestrator socket protocol, and
// step requests made by a running worker.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so the same
// job context always produces the same bytes. Decoding ignores unknown
// fields, so an older worker can read a context produced by a newer
// orchestrator.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that only travel between bureau-ci processes use `cbor` struct
// tags. Types that are also printed as JSON by the admin endpoint use
// `json` tags, which fxamacker/cbor reads when no `cbor` tag is present.
// A field never carries both.
package codec
