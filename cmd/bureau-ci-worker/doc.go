// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-ci-worker claims jobs from bureau-ci-orchestrator and runs
// them on the local machine.
//
// For each claimed job the worker:
//
//  1. Starts the job's sidecar services and waits for each readiness
//     check to exit zero.
//  2. Executes the action tree. Sequential groups run their children
//     in order and stop at the first failure; parallel groups run all
//     children concurrently and fail if any child fails. Every leaf is
//     fetched from the job context by its step address, and its run
//     command is executed as <shell> -c <command> in its own process
//     group.
//  3. Stops the services and reports success, failure, timeout or
//     cancelled back to the orchestrator.
//
// The whole job is bounded by the context's timeout. Each step's
// combined output is archived under paths.logs/<project>/<build>/ with
// the configured compression, next to a result.jsonl that records one
// line per step.
//
// Steps see the job through BUREAU_CI_* environment variables,
// including BUREAU_CI_JOB_TOKEN, which a step presents to the
// orchestrator's authorize action before touching another project.
package main
