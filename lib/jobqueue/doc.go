// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobqueue holds job contexts between submission and
// completion.
//
// A [Sequencer] hands out submit sequences, strictly increasing per
// project. The orchestrator allocates one per submission before the
// build is recorded, and the queue orders each project's jobs by it.
//
// A [Queue] tracks each job through three states: queued, running and
// completed. Workers block in [Queue.Claim] until a job is available.
// Within one project, jobs are claimed in submit sequence order even if
// they were pushed out of order; across projects, order is first in,
// first out. Running jobs are looked up by token so the step and trust
// endpoints can answer for them. A running job whose timeout plus a
// grace period has passed no longer resolves, and [Queue.Expire]
// completes it with [StatusTimeout].
package jobqueue
