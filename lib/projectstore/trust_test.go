// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package projectstore

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
	"github.com/bureau-foundation/bureau-ci/lib/trust"
)

func newJob(t *testing.T, projectID int64, commit string) *jobcontext.Context {
	t.Helper()
	job, err := jobcontext.New(jobcontext.Params{
		Token:   jobcontext.NewToken(),
		Project: jobcontext.ProjectRef{ID: projectID, Path: "org"},
		Build:   jobcontext.BuildRef{BuildID: 1, BuildNumber: 1, SubmitSequence: 1},
		Ref:     jobcontext.RefPointer{RefName: "refs/heads/main", CommitID: commit},
		Timeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("jobcontext.New: %v", err)
	}
	return job
}

// The evaluator sees force-pushes on the memory store without any
// cache invalidation.
func TestEvaluatorWithMemoryStore(t *testing.T) {
	t.Parallel()
	store := newHierarchy(t)
	evaluator := trust.NewEvaluator(store, nil)
	ctx := context.Background()

	job := newJob(t, 1, "b")
	service := mustLoad(t, store, 3)
	if result := evaluator.Evaluate(ctx, job, service); !result.Allowed() {
		t.Fatalf("before force-push: %v, want allow", result.Reason)
	}

	if err := store.SetBranch(1, "main", "f"); err != nil {
		t.Fatalf("SetBranch: %v", err)
	}
	result := evaluator.Evaluate(ctx, job, service)
	if result.Allowed() || result.Reason != trust.ReasonCommitNotOnDefaultBranch {
		t.Fatalf("after force-push: %+v, want deny with ReasonCommitNotOnDefaultBranch", result)
	}
}

func TestEvaluatorWithRegistry(t *testing.T) {
	t.Parallel()
	registry := openTestRegistry(t)
	ctx := context.Background()

	org := mustAddProject(t, registry, Record{Path: "org", GitDir: "/nonexistent", DefaultBranch: "main"})
	team := mustAddProject(t, registry, Record{Path: "org/team", ParentID: org, GitDir: "/nonexistent", DefaultBranch: "main"})
	evaluator := trust.NewEvaluator(registry, nil)

	// The git directory does not exist, so the branch check fails and
	// the evaluator denies rather than erroring.
	result := evaluator.AuthorizeProjectID(ctx, newJob(t, team, "deadbeef"), org)
	if result.Allowed() || result.Reason != trust.ReasonBranchCheckFailed {
		t.Fatalf("result = %+v, want deny with ReasonBranchCheckFailed", result)
	}

	result = evaluator.AuthorizeProjectID(ctx, newJob(t, 404, "deadbeef"), org)
	if result.Allowed() || result.Reason != trust.ReasonProjectUnavailable {
		t.Fatalf("unknown owner: %+v, want deny with ReasonProjectUnavailable", result)
	}
}
