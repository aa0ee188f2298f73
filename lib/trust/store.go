// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import "context"

// Project is the view of a project the evaluator needs. Implementations
// answer from current state on every call.
type Project interface {
	// ID returns the project's identifier.
	ID() int64

	// IsCommitOnDefaultBranch reports whether commitID is an ancestor
	// of, or equal to, the current tip of the project's default
	// branch.
	IsCommitOnDefaultBranch(ctx context.Context, commitID string) (bool, error)

	// IsSelfOrDescendantOf reports whether this project is other or
	// sits anywhere below other in the project hierarchy.
	IsSelfOrDescendantOf(ctx context.Context, other Project) (bool, error)
}

// ProjectStore loads projects by ID. Load may block on I/O; any
// timeout is the store's own concern (usually via ctx).
type ProjectStore interface {
	Load(ctx context.Context, projectID int64) (Project, error)
}
