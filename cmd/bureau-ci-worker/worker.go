// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/bureau-ci/lib/clock"
	"github.com/bureau-foundation/bureau-ci/lib/codec"
	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
	"github.com/bureau-foundation/bureau-ci/lib/jobqueue"
	"github.com/bureau-foundation/bureau-ci/lib/logging"
	"github.com/bureau-foundation/bureau-ci/lib/steplog"
)

// claimRetryDelay is the pause after a failed claim, so an
// unreachable orchestrator is not hammered.
const claimRetryDelay = 5 * time.Second

// reportTimeout bounds the completion report. The report is sent even
// while the worker shuts down.
const reportTimeout = 10 * time.Second

// orchestratorCaller is the subset of *service.Client the worker uses.
type orchestratorCaller interface {
	Call(ctx context.Context, action string, fields map[string]any, result any) error
}

// Worker claims and executes jobs one at a time.
type Worker struct {
	name               string
	orchestrator       orchestratorCaller
	orchestratorSocket string
	clock              clock.Clock

	shell             string
	logDir            string
	compression       steplog.Compression
	readinessInterval time.Duration
	readinessTimeout  time.Duration

	logger *slog.Logger
}

type workerConfig struct {
	Name         string
	Orchestrator orchestratorCaller
	// OrchestratorSocket is exported to steps so they can call
	// authorize.
	OrchestratorSocket string
	Clock              clock.Clock
	Shell              string
	LogDir             string
	Compression        steplog.Compression
	ReadinessInterval  time.Duration
	ReadinessTimeout   time.Duration
	Logger             *slog.Logger
}

func newWorker(cfg workerConfig) *Worker {
	return &Worker{
		name:               cfg.Name,
		orchestrator:       cfg.Orchestrator,
		orchestratorSocket: cfg.OrchestratorSocket,
		clock:              cfg.Clock,
		shell:              cfg.Shell,
		logDir:             cfg.LogDir,
		compression:        cfg.Compression,
		readinessInterval:  cfg.ReadinessInterval,
		readinessTimeout:   cfg.ReadinessTimeout,
		logger:             logging.OrDiscard(cfg.Logger),
	}
}

// Run claims and executes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if _, err := w.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce claims and executes exactly one job, waiting as long as it
// takes for one to arrive.
func (w *Worker) RunOnce(ctx context.Context) error {
	for ctx.Err() == nil {
		processed, err := w.step(ctx)
		if err != nil || processed {
			return err
		}
	}
	return nil
}

// step makes one claim attempt and runs the job if there is one. Claim
// failures are logged and retried; only shutdown stops the loop.
func (w *Worker) step(ctx context.Context) (bool, error) {
	job, err := w.claim(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		w.logger.Warn("claim failed", "error", err, "retry_in", claimRetryDelay)
		// A cancelled sleep ends the loop through ctx.
		_ = clock.Sleep(ctx, w.clock, claimRetryDelay)
		return false, nil
	}
	if job == nil {
		return false, nil
	}

	status := w.execute(ctx, job)
	if err := w.complete(ctx, job, status); err != nil {
		w.logger.Error("reporting completion failed", "job", job, "status", status, "error", err)
	}
	return true, nil
}

// claimResponse mirrors the orchestrator's claim response. The job is
// kept raw and decoded through jobcontext.Decode, which validates it.
type claimResponse struct {
	Job codec.RawMessage `cbor:"job"`
}

// claim returns the next job, or nil when none arrived during the
// orchestrator's claim wait.
func (w *Worker) claim(ctx context.Context) (*jobcontext.Context, error) {
	var response claimResponse
	if err := w.orchestrator.Call(ctx, "claim", map[string]any{"worker": w.name}, &response); err != nil {
		return nil, err
	}
	if len(response.Job) == 0 {
		return nil, nil
	}
	job, err := jobcontext.Decode(response.Job)
	if err != nil {
		return nil, fmt.Errorf("claimed job: %w", err)
	}
	w.logger.Info("job claimed", "job", job)
	return job, nil
}

func (w *Worker) complete(ctx context.Context, job *jobcontext.Context, status jobqueue.Status) error {
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	return w.orchestrator.Call(reportCtx, "complete", map[string]any{
		"token":  job.Token().Value(),
		"status": string(status),
	}, nil)
}
