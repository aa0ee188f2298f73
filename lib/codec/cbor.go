// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode    = mustEncMode()
	decMode    = mustDecMode(false)
	strictMode = mustDecMode(true)
)

func mustEncMode() cbor.EncMode {
	options := cbor.CoreDetEncOptions()
	// Tokens and other TextMarshalers travel as text strings.
	options.TextMarshaler = cbor.TextMarshalerTextString
	mode, err := options.EncMode()
	if err != nil {
		panic("codec: building CBOR encoder: " + err.Error())
	}
	return mode
}

// mustDecMode builds the lenient or strict decoder. Both decode
// untyped maps as map[string]any, which request routing relies on.
// The strict decoder also rejects unknown struct fields and duplicate
// map keys.
func mustDecMode(strict bool) cbor.DecMode {
	options := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}
	if strict {
		options.ExtraReturnErrors = cbor.ExtraDecErrorUnknownField
		options.DupMapKey = cbor.DupMapKeyEnforcedAPF
	}
	mode, err := options.DecMode()
	if err != nil {
		panic("codec: building CBOR decoder: " + err.Error())
	}
	return mode
}

// Marshal encodes v with Core Deterministic Encoding (RFC 8949 §4.2).
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes data into v, ignoring fields v does not declare.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// UnmarshalStrict decodes data into v and fails on any field v does
// not declare or any repeated map key.
func UnmarshalStrict(data []byte, v any) error { return strictMode.Unmarshal(data, v) }

// Encoder, Decoder and RawMessage alias the cbor types so callers
// import only this package.
type (
	Encoder    = cbor.Encoder
	Decoder    = cbor.Decoder
	RawMessage = cbor.RawMessage
)

// NewEncoder returns a deterministic stream encoder writing to w.
func NewEncoder(w io.Writer) *Encoder { return encMode.NewEncoder(w) }

// NewDecoder returns a lenient stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder { return decMode.NewDecoder(r) }
