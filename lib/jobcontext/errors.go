// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobcontext

import (
	"errors"
	"strings"
)

// ErrConfiguration matches every *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("invalid job context configuration")

// ConfigurationError reports every mandatory field that was missing or
// invalid when constructing a Context. It is fatal for that build: the
// orchestrator must fix the inputs, not retry.
type ConfigurationError struct {
	// Problems lists one entry per offending field, in a fixed order.
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return ErrConfiguration.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
