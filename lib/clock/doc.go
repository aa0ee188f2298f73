// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for the worker's
// timeout budget and readiness polling.
//
// Production code receives Real(). Tests receive Fake(), which stands
// still until Advance is called, so a job's timeout can be exercised
// without sleeping:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	ctx, cancel := clock.WithDeadline(parent, fake, fake.Now().Add(time.Minute))
//	defer cancel()
//	fake.WaitForTimers(1)
//	fake.Advance(time.Minute) // ctx is now done with context.DeadlineExceeded
package clock
