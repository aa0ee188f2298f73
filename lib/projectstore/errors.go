// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package projectstore

import "errors"

var (
	// ErrProjectNotFound is returned when a project ID or path is not
	// registered.
	ErrProjectNotFound = errors.New("project not found")

	// ErrDuplicateProject is returned when registering an ID or path
	// that is already taken.
	ErrDuplicateProject = errors.New("project already registered")

	// ErrSequenceTaken is returned by CreateBuild when the project
	// already has a build with the given submit sequence.
	ErrSequenceTaken = errors.New("submit sequence already used")

	// ErrUnknownCommit is returned by Memory when a branch or parent
	// names a commit that was never added.
	ErrUnknownCommit = errors.New("unknown commit")
)
