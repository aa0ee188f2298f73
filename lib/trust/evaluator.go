// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
)

// Decision is the outcome of a trust check.
type Decision int

const (
	// Deny means the job may not act on the target.
	Deny Decision = iota

	// Allow means the job may act on the target.
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// DenyReason records which condition failed.
type DenyReason int

const (
	// ReasonNone is the reason on an Allow result.
	ReasonNone DenyReason = iota

	// ReasonNoContext means no job context was supplied.
	ReasonNoContext

	// ReasonProjectUnavailable means the owning or target project
	// could not be loaded.
	ReasonProjectUnavailable

	// ReasonNoCommit means the job context has no pinned commit.
	ReasonNoCommit

	// ReasonBranchCheckFailed means the store could not answer the
	// default-branch query.
	ReasonBranchCheckFailed

	// ReasonCommitNotOnDefaultBranch means the pinned commit is not
	// reachable from the default branch tip.
	ReasonCommitNotOnDefaultBranch

	// ReasonHierarchyCheckFailed means the store could not answer the
	// hierarchy query.
	ReasonHierarchyCheckFailed

	// ReasonTargetOutOfScope means the target is neither the owning
	// project nor one of its descendants.
	ReasonTargetOutOfScope
)

// String returns a human-readable reason.
func (r DenyReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoContext:
		return "no job context"
	case ReasonProjectUnavailable:
		return "project unavailable"
	case ReasonNoCommit:
		return "no pinned commit"
	case ReasonBranchCheckFailed:
		return "default branch check failed"
	case ReasonCommitNotOnDefaultBranch:
		return "commit not on default branch"
	case ReasonHierarchyCheckFailed:
		return "project hierarchy check failed"
	case ReasonTargetOutOfScope:
		return "target outside owning project scope"
	default:
		return "unknown"
	}
}

// Result is the decision plus the reason it was reached. Err holds the
// underlying store error for the *Failed and Unavailable reasons.
type Result struct {
	Decision Decision
	Reason   DenyReason
	Err      error
}

// Allowed reports whether the decision is Allow.
func (r Result) Allowed() bool { return r.Decision == Allow }

// Evaluator applies the trust policy against a project store. It is
// safe for concurrent use and stateless apart from its dependencies.
type Evaluator struct {
	store  ProjectStore
	logger *slog.Logger
}

// NewEvaluator returns an evaluator reading from store. A nil logger
// discards log output.
func NewEvaluator(store ProjectStore, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{store: store, logger: logger}
}

// Authorize reports whether job may act on target.
func (e *Evaluator) Authorize(ctx context.Context, job *jobcontext.Context, target Project) bool {
	return e.Evaluate(ctx, job, target).Allowed()
}

// AuthorizeProjectID is Authorize for a target known only by ID. The
// target is loaded from the store; a load failure denies.
func (e *Evaluator) AuthorizeProjectID(ctx context.Context, job *jobcontext.Context, targetID int64) Result {
	if job == nil {
		return e.deny(nil, targetID, ReasonNoContext, nil)
	}
	target, err := e.store.Load(ctx, targetID)
	if err != nil || target == nil {
		return e.deny(job, targetID, ReasonProjectUnavailable, err)
	}
	return e.Evaluate(ctx, job, target)
}

// Evaluate applies both conditions and returns the full result. The
// branch condition is checked first, against the owning project as it
// is in the store now, not as it was when the job was queued.
func (e *Evaluator) Evaluate(ctx context.Context, job *jobcontext.Context, target Project) Result {
	targetID := int64(0)
	if target != nil {
		targetID = target.ID()
	}
	if job == nil {
		return e.deny(nil, targetID, ReasonNoContext, nil)
	}

	owner, err := e.store.Load(ctx, job.Project().ID)
	if err != nil || owner == nil {
		return e.deny(job, targetID, ReasonProjectUnavailable, err)
	}

	commitID := job.Ref().CommitID
	if commitID == "" {
		return e.deny(job, targetID, ReasonNoCommit, nil)
	}
	onDefaultBranch, err := owner.IsCommitOnDefaultBranch(ctx, commitID)
	if err != nil {
		return e.deny(job, targetID, ReasonBranchCheckFailed, err)
	}
	if !onDefaultBranch {
		return e.deny(job, targetID, ReasonCommitNotOnDefaultBranch, nil)
	}

	if target == nil {
		return e.deny(job, targetID, ReasonProjectUnavailable, nil)
	}
	inScope, err := target.IsSelfOrDescendantOf(ctx, owner)
	if err != nil {
		return e.deny(job, targetID, ReasonHierarchyCheckFailed, err)
	}
	if !inScope {
		return e.deny(job, targetID, ReasonTargetOutOfScope, nil)
	}

	return Result{Decision: Allow, Reason: ReasonNone}
}

func (e *Evaluator) deny(job *jobcontext.Context, targetID int64, reason DenyReason, err error) Result {
	attributes := []any{"target_project", targetID, "reason", reason.String()}
	if job != nil {
		attributes = append(attributes, "job", job)
	}
	if err != nil {
		attributes = append(attributes, "error", err)
	}
	e.logger.Debug("trust denied", attributes...)
	return Result{Decision: Deny, Reason: reason, Err: err}
}
