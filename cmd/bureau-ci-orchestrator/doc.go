// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-ci-orchestrator owns the job queue and the project registry.
// Submitters and workers talk to it over one CBOR Unix socket:
//
//   - submit: resolve a project and commit, read the pipeline
//     definition, allocate a build and queue its job context
//   - claim: hand the next queued context to a worker, waiting up to
//     orchestrator.claim_wait for one to arrive
//   - step: resolve a step address against a running job
//   - authorize: apply the trust policy to a running job and a target
//     project
//   - complete: record a running job's final status
//   - status: liveness and queue depth
//
// A claimed job that is not completed within its timeout plus
// orchestrator.expiry_grace stops answering step and authorize and is
// recorded as timed out on its build.
//
// Every action that names a job takes its token. Tokens never appear
// in logs; log lines carry the token's fingerprint instead.
//
// An optional admin HTTP listener serves /healthz, /metrics (Prometheus
// text format), /jobs (JSON queue snapshot) and /debug/pprof.
package main
