// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "time"

// Fataler is the part of testing.TB the wait helpers need.
type Fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch. The test fails if ch
// is closed first or nothing arrives within timeout; what names the
// awaited event in the failure message.
//
//	status := testutil.RequireReceive(t, done, 30*time.Second, "execute")
func RequireReceive[T any](t Fataler, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	timer := time.NewTimer(timeout) //nolint:realclock bounds a hung test
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed with no value", what)
		}
		return value
	case <-timer.C:
		t.Fatalf("%s: nothing received within %v", what, timeout)
	}
	var zero T
	return zero
}

// RequireClosed waits for ch to close (or deliver) within timeout.
func RequireClosed(t Fataler, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	timer := time.NewTimer(timeout) //nolint:realclock bounds a hung test
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatalf("%s: not closed within %v", what, timeout)
	}
}
