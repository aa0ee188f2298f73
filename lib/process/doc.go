// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the bureau-ci
// binaries: reporting the error that ended run() before the structured
// logger exists, choosing the exit code, and the shutdown signal
// context.
//
// Exit codes:
//
//   - 0: clean exit
//   - 1: runtime failure
//   - 2: usage or configuration error ([UsageError])
package process
