// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by bureau-ci tests.
//
// [InitGitRepository] builds a repository with a main branch and a
// diverging feature branch for commit reachability tests.
// [RequireReceive] and [RequireClosed] bound channel waits so a broken
// test fails instead of hanging. [SocketDir] and [UniqueID] produce
// collision-free names. Helpers fail the test directly.
package testutil
