// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/bureau-ci/lib/clock"
	"github.com/bureau-foundation/bureau-ci/lib/config"
	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
	"github.com/bureau-foundation/bureau-ci/lib/jobqueue"
	"github.com/bureau-foundation/bureau-ci/lib/logging"
	"github.com/bureau-foundation/bureau-ci/lib/projectstore"
	"github.com/bureau-foundation/bureau-ci/lib/service"
	"github.com/bureau-foundation/bureau-ci/lib/trust"
)

// Orchestrator is the orchestrator's service state. Socket handlers
// and admin endpoints share it; every field is safe for concurrent
// use.
type Orchestrator struct {
	registry  *projectstore.Registry
	sequencer jobqueue.Sequencer
	queue     *jobqueue.Queue
	evaluator *trust.Evaluator
	clock     clock.Clock

	pipelineDir    string
	defaultTimeout time.Duration
	claimWait      time.Duration
	executor       jobcontext.ExecutorConfig
	startedAt      time.Time

	// decisions counts trust evaluations by decision and deny reason.
	decisions *prometheus.CounterVec

	logger *slog.Logger
}

type orchestratorConfig struct {
	Registry *projectstore.Registry
	// Sequencer allocates submit sequences. Nil uses Registry.
	Sequencer      jobqueue.Sequencer
	Clock          clock.Clock
	Registerer     prometheus.Registerer
	PipelineDir    string
	DefaultTimeout time.Duration
	ClaimWait      time.Duration
	History        int
	ExpiryGrace    time.Duration
	Executor       jobcontext.ExecutorConfig
	Logger         *slog.Logger
}

func newOrchestrator(cfg orchestratorConfig) *Orchestrator {
	logger := logging.OrDiscard(cfg.Logger)
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bureau_ci",
		Subsystem: "trust",
		Name:      "decisions_total",
		Help:      "Trust evaluations, by decision and deny reason.",
	}, []string{"decision", "reason"})
	if cfg.Registerer != nil {
		cfg.Registerer.MustRegister(decisions)
	}

	var sequencer jobqueue.Sequencer = cfg.Registry
	if cfg.Sequencer != nil {
		sequencer = cfg.Sequencer
	}

	return &Orchestrator{
		registry:  cfg.Registry,
		sequencer: sequencer,
		queue: jobqueue.New(jobqueue.Options{
			Clock:       cfg.Clock,
			Metrics:     jobqueue.NewMetrics(cfg.Registerer),
			Logger:      logger,
			History:     cfg.History,
			ExpiryGrace: cfg.ExpiryGrace,
		}),
		evaluator:      trust.NewEvaluator(cfg.Registry, logger),
		clock:          cfg.Clock,
		pipelineDir:    cfg.PipelineDir,
		defaultTimeout: cfg.DefaultTimeout,
		claimWait:      cfg.ClaimWait,
		executor:       cfg.Executor,
		startedAt:      cfg.Clock.Now(),
		decisions:      decisions,
		logger:         logger,
	}
}

// reap times out running jobs whose worker never reported back and
// records the outcome on their builds.
func (o *Orchestrator) reap(ctx context.Context) {
	for _, job := range o.queue.Expire() {
		if err := o.registry.FinishBuild(ctx, job.Build().BuildID, string(jobqueue.StatusTimeout)); err != nil {
			o.logger.Error("recording expired build", "job", job, "error", err)
		}
	}
}

// runReaper calls reap every interval until ctx is done.
func (o *Orchestrator) runReaper(ctx context.Context, interval time.Duration) {
	for clock.Sleep(ctx, o.clock, interval) == nil {
		o.reap(ctx)
	}
}

func executorFromConfig(executor config.ExecutorConfig) jobcontext.ExecutorConfig {
	return jobcontext.ExecutorConfig{
		Name:          executor.Name,
		ResourceClass: executor.ResourceClass,
		PullPolicy:    executor.PullPolicy,
		Attributes:    maps.Clone(executor.Attributes),
	}
}

// registerActions registers every socket action. None of them is
// authenticated at the transport: the socket's file permissions decide
// who may connect, and job-scoped actions require the job's token.
func (o *Orchestrator) registerActions(server *service.SocketServer) {
	server.Handle("status", service.Typed(o.handleStatus))
	server.Handle("submit", service.Typed(o.handleSubmit))
	server.Handle("claim", service.Typed(o.handleClaim))
	server.Handle("step", service.Typed(o.handleStep))
	server.Handle("authorize", service.Typed(o.handleAuthorize))
	server.Handle("complete", service.Typed(o.handleComplete))
}
