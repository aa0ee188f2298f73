// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trust decides whether a running build may act on a project
// other than the one that triggered it.
//
// A build is trusted to manage a target project only when both hold:
//
//  1. The commit pinned in the job context is reachable from the tip of
//     the owning project's default branch. A build of an arbitrary
//     feature branch never gains elevated trust; only builds that trace
//     back to trunk do.
//  2. The target is the owning project itself or a transitive
//     descendant of it in the project hierarchy.
//
// The [Evaluator] reads the [ProjectStore] on every call and caches
// nothing, so two calls for the same job may disagree if the default
// branch moved in between. It holds no lock of its own; the store is
// responsible for serializing its own mutations.
//
// Evaluation never fails. A missing project, a store error, or a failed
// branch or hierarchy query all resolve to [Deny] with a [DenyReason]
// recorded for audit.
package trust
