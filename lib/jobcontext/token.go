// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobcontext

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Token is the opaque credential identifying one running job. The zero
// value is the absent token.
type Token struct {
	value string
}

// NewToken generates a fresh random token.
func NewToken() Token {
	return Token{value: uuid.NewString()}
}

// ParseToken validates the text form of a token received over the wire.
func ParseToken(text string) (Token, error) {
	parsed, err := uuid.Parse(text)
	if err != nil {
		return Token{}, fmt.Errorf("invalid job token: %w", err)
	}
	return Token{value: parsed.String()}, nil
}

// IsZero reports whether the token is absent.
func (t Token) IsZero() bool { return t.value == "" }

// Value returns the raw credential. Only transport code should call
// this; use the token itself in logs.
func (t Token) Value() string { return t.value }

// Fingerprint returns a short BLAKE3 digest of the token, stable across
// processes, suitable for correlating log lines without revealing the
// credential.
func (t Token) Fingerprint() string {
	if t.value == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(t.value))
	return hex.EncodeToString(sum[:8])
}

// String returns the fingerprint, never the raw value.
func (t Token) String() string { return t.Fingerprint() }

// LogValue implements slog.LogValuer.
func (t Token) LogValue() slog.Value { return slog.StringValue(t.Fingerprint()) }

// MarshalText returns the raw value for the wire encoding.
func (t Token) MarshalText() ([]byte, error) { return []byte(t.value), nil }

// UnmarshalText parses the raw value. An empty input yields the zero
// token, which New then rejects.
func (t *Token) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = Token{}
		return nil
	}
	parsed, err := ParseToken(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
