// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobcontext

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/bureau-ci/lib/action"
	"github.com/bureau-foundation/bureau-ci/lib/codec"
)

// wireContext is the CBOR form of a Context. The timeout travels as
// integer nanoseconds.
type wireContext struct {
	Token     Token          `cbor:"token"`
	Executor  ExecutorConfig `cbor:"executor"`
	Project   ProjectRef     `cbor:"project"`
	Build     BuildRef       `cbor:"build"`
	Ref       RefPointer     `cbor:"ref"`
	Actions   action.Tree    `cbor:"actions"`
	Services  []ServiceSpec  `cbor:"services,omitempty"`
	TimeoutNS int64          `cbor:"timeout_ns"`
}

// MarshalCBOR encodes the context, including the raw token. The
// encoding is only sent to the worker that claimed the job.
func (c *Context) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(wireContext{
		Token:     c.token,
		Executor:  c.executor,
		Project:   c.project,
		Build:     c.build,
		Ref:       c.ref,
		Actions:   c.actions,
		Services:  c.services,
		TimeoutNS: int64(c.timeout),
	})
}

// Decode rebuilds a Context from its CBOR form. Unknown top-level
// fields are rejected so a worker never runs a job whose context it
// only partly understands. The decoded fields go through New, so a
// truncated or tampered payload fails with a *ConfigurationError
// instead of producing a partial context.
func Decode(data []byte) (*Context, error) {
	var wire wireContext
	if err := codec.UnmarshalStrict(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding job context: %w", err)
	}
	return New(Params{
		Token:    wire.Token,
		Executor: wire.Executor,
		Project:  wire.Project,
		Build:    wire.Build,
		Ref:      wire.Ref,
		Actions:  wire.Actions,
		Services: wire.Services,
		Timeout:  time.Duration(wire.TimeoutNS),
	})
}
