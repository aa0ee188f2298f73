// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobqueue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/bureau-foundation/bureau-ci/lib/clock"
	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
)

var (
	// ErrDuplicateJob is returned by Push for a token already known.
	ErrDuplicateJob = errors.New("job already queued")

	// ErrUnknownJob is returned for tokens the queue has never seen or
	// has already forgotten.
	ErrUnknownJob = errors.New("unknown job")

	// ErrNotRunning is returned when an operation needs a running job
	// and the job is queued or completed.
	ErrNotRunning = errors.New("job is not running")
)

// State is where a job is in its lifecycle.
type State int

const (
	StateQueued State = iota
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is the outcome reported when a job completes.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// DefaultHistory is how many completed jobs a Queue remembers when
// Options.History is not positive.
const DefaultHistory = 256

// DefaultExpiryGrace is how long past its timeout a running job stays
// running when Options.ExpiryGrace is not positive. The worker enforces
// the timeout itself and needs a moment to report it.
const DefaultExpiryGrace = time.Minute

// Options configures a Queue. All fields are optional.
type Options struct {
	Clock   clock.Clock
	Metrics *Metrics
	Logger  *slog.Logger

	// History bounds the completed jobs kept for Snapshot.
	History int

	// ExpiryGrace is added to a job's timeout, counted from its claim,
	// to get the instant the queue stops treating it as running.
	ExpiryGrace time.Duration
}

// Summary is a point-in-time view of one job, safe to serialize. It
// carries the token fingerprint, never the token.
type Summary struct {
	Fingerprint    string    `json:"fingerprint" cbor:"fingerprint"`
	ProjectID      int64     `json:"project_id" cbor:"project_id"`
	ProjectPath    string    `json:"project_path" cbor:"project_path"`
	BuildID        int64     `json:"build_id" cbor:"build_id"`
	SubmitSequence int64     `json:"submit_sequence" cbor:"submit_sequence"`
	State          string    `json:"state" cbor:"state"`
	Status         Status    `json:"status,omitempty" cbor:"status,omitempty"`
	PushedAt       time.Time `json:"pushed_at" cbor:"pushed_at"`
	ClaimedAt      time.Time `json:"claimed_at,omitzero" cbor:"claimed_at"`
	ExpiresAt      time.Time `json:"expires_at,omitzero" cbor:"expires_at"`
	CompletedAt    time.Time `json:"completed_at,omitzero" cbor:"completed_at"`
}

type entry struct {
	job         *jobcontext.Context
	state       State
	status      Status
	pushedAt    time.Time
	claimedAt   time.Time
	completedAt time.Time
	// expiresAt is set at claim.
	expiresAt time.Time
}

// overdue reports whether a running entry has outlived its timeout and
// grace at now.
func (e *entry) overdue(now time.Time) bool {
	return e.state == StateRunning && !now.Before(e.expiresAt)
}

// Queue is safe for concurrent use.
type Queue struct {
	clock   clock.Clock
	metrics *Metrics
	logger  *slog.Logger
	history int
	grace   time.Duration

	mu        sync.Mutex
	pending   []*entry
	byToken   map[string]*entry
	completed []string // tokens, oldest first
	// available is closed and replaced whenever a job is pushed.
	available chan struct{}
}

// New returns an empty queue.
func New(options Options) *Queue {
	queue := &Queue{
		clock:     options.Clock,
		metrics:   options.Metrics,
		logger:    options.Logger,
		history:   options.History,
		grace:     options.ExpiryGrace,
		byToken:   make(map[string]*entry),
		available: make(chan struct{}),
	}
	if queue.clock == nil {
		queue.clock = clock.Real()
	}
	if queue.metrics == nil {
		queue.metrics = NewMetrics(nil)
	}
	if queue.logger == nil {
		queue.logger = slog.New(slog.DiscardHandler)
	}
	if queue.history <= 0 {
		queue.history = DefaultHistory
	}
	if queue.grace <= 0 {
		queue.grace = DefaultExpiryGrace
	}
	return queue
}

// Push enqueues job. A job is placed after every pending job except
// those of the same project with a higher submit sequence, which it
// overtakes.
func (q *Queue) Push(job *jobcontext.Context) error {
	if job == nil {
		return errors.New("push: nil job")
	}
	token := job.Token().Value()

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byToken[token]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Token())
	}

	added := &entry{job: job, state: StateQueued, pushedAt: q.clock.Now()}
	position := len(q.pending)
	for index, pending := range q.pending {
		if pending.job.Project().ID == job.Project().ID &&
			pending.job.Build().SubmitSequence > job.Build().SubmitSequence {
			position = index
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[position+1:], q.pending[position:])
	q.pending[position] = added
	q.byToken[token] = added

	close(q.available)
	q.available = make(chan struct{})

	q.metrics.queued.Inc()
	q.metrics.submitted.WithLabelValues(strconv.FormatInt(job.Project().ID, 10)).Inc()
	q.logger.Info("job queued", "job", job, "position", position)
	return nil
}

// Claim removes the next pending job and marks it running. It blocks
// until a job is available or ctx is done.
func (q *Queue) Claim(ctx context.Context) (*jobcontext.Context, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			claimed := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			claimed.state = StateRunning
			claimed.claimedAt = q.clock.Now()
			claimed.expiresAt = claimed.job.Deadline(claimed.claimedAt).Add(q.grace)
			q.mu.Unlock()

			q.metrics.queued.Dec()
			q.metrics.running.Inc()
			q.metrics.wait.Observe(claimed.claimedAt.Sub(claimed.pushedAt).Seconds())
			q.logger.Info("job claimed", "job", claimed.job)
			return claimed.job, nil
		}
		available := q.available
		q.mu.Unlock()

		select {
		case <-available:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Lookup returns the running job with the given token. A job past its
// timeout and grace is not running, even before Expire collects it.
func (q *Queue) Lookup(token jobcontext.Token) (*jobcontext.Context, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	found, err := q.runningLocked(token)
	if err != nil {
		return nil, err
	}
	return found.job, nil
}

func (q *Queue) runningLocked(token jobcontext.Token) (*entry, error) {
	found, exists := q.byToken[token.Value()]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, token)
	}
	if found.state != StateRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRunning, token, found.state)
	}
	if found.overdue(q.clock.Now()) {
		return nil, fmt.Errorf("%w: %s expired at %s", ErrNotRunning, token, found.expiresAt.Format(time.RFC3339))
	}
	return found, nil
}

// Complete records the final status of a running job.
func (q *Queue) Complete(token jobcontext.Token, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("complete %s: invalid status %q", token, status)
	}

	q.mu.Lock()
	found, err := q.runningLocked(token)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	q.completeLocked(found, status)
	q.mu.Unlock()

	q.recordCompletion(found, status)
	return nil
}

// Expire completes every running job past its timeout and grace with
// StatusTimeout and returns them, earliest claim first. The caller
// owns recording the outcome anywhere outside the queue.
func (q *Queue) Expire() []*jobcontext.Context {
	q.mu.Lock()
	now := q.clock.Now()
	var expired []*entry
	for _, known := range q.byToken {
		if known.overdue(now) {
			expired = append(expired, known)
		}
	}
	slices.SortFunc(expired, func(a, b *entry) int {
		return a.claimedAt.Compare(b.claimedAt)
	})
	for _, found := range expired {
		q.completeLocked(found, StatusTimeout)
	}
	q.mu.Unlock()

	jobs := make([]*jobcontext.Context, 0, len(expired))
	for _, found := range expired {
		q.recordCompletion(found, StatusTimeout)
		jobs = append(jobs, found.job)
	}
	return jobs
}

func (q *Queue) completeLocked(found *entry, status Status) {
	found.state = StateCompleted
	found.status = status
	found.completedAt = q.clock.Now()
	q.completed = append(q.completed, found.job.Token().Value())
	for len(q.completed) > q.history {
		delete(q.byToken, q.completed[0])
		q.completed = q.completed[1:]
	}
}

func (q *Queue) recordCompletion(found *entry, status Status) {
	q.metrics.running.Dec()
	q.metrics.completed.WithLabelValues(string(status)).Inc()
	if status == StatusTimeout {
		q.logger.Warn("job timed out", "job", found.job,
			"duration", found.completedAt.Sub(found.claimedAt))
		return
	}
	q.logger.Info("job completed", "job", found.job, "status", status,
		"duration", found.completedAt.Sub(found.claimedAt))
}

// Snapshot lists every known job: pending jobs in claim order, then
// running and completed jobs ordered by push time.
func (q *Queue) Snapshot() []Summary {
	q.mu.Lock()
	defer q.mu.Unlock()

	summaries := make([]Summary, 0, len(q.byToken))
	for _, pending := range q.pending {
		summaries = append(summaries, pending.summary())
	}
	var others []Summary
	for _, known := range q.byToken {
		if known.state != StateQueued {
			others = append(others, known.summary())
		}
	}
	slices.SortStableFunc(others, func(a, b Summary) int {
		if c := a.PushedAt.Compare(b.PushedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ProjectID, b.ProjectID); c != 0 {
			return c
		}
		return cmp.Compare(a.SubmitSequence, b.SubmitSequence)
	})
	return append(summaries, others...)
}

func (e *entry) summary() Summary {
	return Summary{
		Fingerprint:    e.job.Token().Fingerprint(),
		ProjectID:      e.job.Project().ID,
		ProjectPath:    e.job.Project().Path,
		BuildID:        e.job.Build().BuildID,
		SubmitSequence: e.job.Build().SubmitSequence,
		State:          e.state.String(),
		Status:         e.status,
		PushedAt:       e.pushedAt,
		ClaimedAt:      e.claimedAt,
		ExpiresAt:      e.expiresAt,
		CompletedAt:    e.completedAt,
	}
}
