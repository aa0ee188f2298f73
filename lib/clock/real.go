// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Real returns the wall clock.
func Real() Clock { return wall{} }

type wall struct{}

func (wall) Now() time.Time { return time.Now() }

func (wall) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- time.Now()
		return ch
	}
	time.AfterFunc(d, func() { ch <- time.Now() })
	return ch
}

func (wall) AfterFunc(d time.Duration, f func()) *Timer {
	return &Timer{stopFunc: time.AfterFunc(d, f).Stop}
}
