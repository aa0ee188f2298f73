// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned for an address that is malformed: a
// negative index or a text form that is not a dotted list of decimal
// integers. It is a caller error and is detected before any traversal.
var ErrInvalidPath = errors.New("invalid step path")

// ErrStepNotFound is returned for a well-formed address that does not
// resolve to a leaf of the tree.
var ErrStepNotFound = errors.New("step not found")

// Path is the address of a step: the zero-based child index taken at
// each level of the tree, starting from the top-level sequence.
type Path []int

// ParsePath parses the dotted text form of a path ("1.0.2"). The empty
// string is the empty path. Each segment must be written exactly as
// String writes it, so "+1", "-0" and "01" are rejected and every path
// has one text form.
func ParsePath(text string) (Path, error) {
	if text == "" {
		return Path{}, nil
	}

	segments := strings.Split(text, ".")
	path := make(Path, 0, len(segments))
	for position, segment := range segments {
		if segment == "" {
			return nil, &PathError{Text: text, Depth: position, Reason: "empty segment", Err: ErrInvalidPath}
		}
		if strings.HasPrefix(segment, "-") {
			return nil, &PathError{Text: text, Depth: position, Reason: fmt.Sprintf("negative index %s", segment), Err: ErrInvalidPath}
		}
		if !allDigits(segment) {
			return nil, &PathError{Text: text, Depth: position, Reason: fmt.Sprintf("segment %q is not an integer", segment), Err: ErrInvalidPath}
		}
		if len(segment) > 1 && segment[0] == '0' {
			return nil, &PathError{Text: text, Depth: position, Reason: fmt.Sprintf("segment %q has a leading zero", segment), Err: ErrInvalidPath}
		}
		index, err := strconv.Atoi(segment)
		if err != nil {
			return nil, &PathError{Text: text, Depth: position, Reason: fmt.Sprintf("segment %q: %v", segment, err), Err: ErrInvalidPath}
		}
		path = append(path, index)
	}
	return path, nil
}

// allDigits reports whether segment is a non-empty run of ASCII digits.
// strconv.Atoi alone would also accept a leading sign.
func allDigits(segment string) bool {
	if segment == "" {
		return false
	}
	for i := 0; i < len(segment); i++ {
		if segment[i] < '0' || segment[i] > '9' {
			return false
		}
	}
	return true
}

// String returns the dotted text form. The empty path renders as "".
func (p Path) String() string {
	var builder strings.Builder
	for position, index := range p {
		if position > 0 {
			builder.WriteByte('.')
		}
		builder.WriteString(strconv.Itoa(index))
	}
	return builder.String()
}

// Validate rejects paths containing negative indices.
func (p Path) Validate() error {
	for position, index := range p {
		if index < 0 {
			return &PathError{Path: p.Clone(), Depth: position, Reason: fmt.Sprintf("negative index %d", index), Err: ErrInvalidPath}
		}
	}
	return nil
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	return slices.Clone(p)
}

// Equal reports whether two paths address the same position.
func (p Path) Equal(other Path) bool { return slices.Equal(p, other) }

// Child returns a new path extended by one index. The receiver is not
// modified.
func (p Path) Child(index int) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, index)
}

// PathError describes why an address could not be parsed or resolved.
// Err is ErrInvalidPath or ErrStepNotFound.
type PathError struct {
	// Path is the address being resolved. Nil when the error came
	// from ParsePath, in which case Text holds the input.
	Path Path

	// Text is the raw input to ParsePath. Empty for resolution errors.
	Text string

	// Depth is the position in the path at which the problem was
	// found.
	Depth int

	// Reason is a human-readable explanation.
	Reason string

	Err error
}

func (e *PathError) Error() string {
	address := e.Text
	if e.Path != nil || address == "" {
		address = e.Path.String()
	}
	return fmt.Sprintf("%v at %q (depth %d): %s", e.Err, address, e.Depth, e.Reason)
}

func (e *PathError) Unwrap() error { return e.Err }
