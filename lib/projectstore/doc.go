// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package projectstore provides the project stores consulted by the
// trust evaluator.
//
// [Memory] keeps projects, a commit graph and branch tips in memory. It
// backs tests and single-process tooling that want to model pushes and
// force-pushes without a git repository.
//
// [Registry] is the orchestrator's durable store: a SQLite table of
// projects (path, parent, git directory, default branch) plus the
// per-project submit sequence counters. Its projects answer branch
// questions against the project's real git repository, so a build
// that was trusted when queued loses that trust as soon as its commit
// leaves the default branch.
//
// Both stores answer every question from current state; nothing is
// cached on the returned trust.Project values.
package projectstore
