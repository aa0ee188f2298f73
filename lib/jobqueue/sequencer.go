// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobqueue

import "context"

// Sequencer allocates submit sequences. Next returns a value strictly
// greater than every value previously returned for the same project,
// and never returns the same value twice for a project. A sequence
// handed out and then abandoned stays consumed.
//
// The project registry implements Sequencer with a persistent counter.
type Sequencer interface {
	Next(ctx context.Context, projectID int64) (int64, error)
}
