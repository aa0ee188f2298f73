// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/bureau-ci/lib/action"
	"github.com/bureau-foundation/bureau-ci/lib/clock"
	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
	"github.com/bureau-foundation/bureau-ci/lib/jobqueue"
	"github.com/bureau-foundation/bureau-ci/lib/trust"
)

type statusRequest struct{}

type statusResponse struct {
	UptimeSeconds float64 `cbor:"uptime_seconds"`
	Queued        int     `cbor:"queued"`
	Running       int     `cbor:"running"`
}

func (o *Orchestrator) handleStatus(ctx context.Context, _ statusRequest) (any, error) {
	o.reap(ctx)
	response := statusResponse{UptimeSeconds: o.clock.Now().Sub(o.startedAt).Seconds()}
	for _, summary := range o.queue.Snapshot() {
		switch summary.State {
		case jobqueue.StateQueued.String():
			response.Queued++
		case jobqueue.StateRunning.String():
			response.Running++
		}
	}
	return response, nil
}

type claimRequest struct {
	// Worker names the claiming worker in logs.
	Worker string `cbor:"worker,omitempty"`
}

// claimResponse has no job when none arrived within the claim wait;
// the worker simply claims again.
type claimResponse struct {
	Job *jobcontext.Context `cbor:"job,omitempty"`
}

func (o *Orchestrator) handleClaim(ctx context.Context, request claimRequest) (any, error) {
	waitCtx, cancel := clock.WithDeadline(ctx, o.clock, o.clock.Now().Add(o.claimWait))
	defer cancel()

	job, err := o.queue.Claim(waitCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(waitCtx), context.DeadlineExceeded) {
			return claimResponse{}, nil
		}
		return nil, err
	}
	o.logger.Info("job handed to worker", "job", job, "worker", request.Worker)
	return claimResponse{Job: job}, nil
}

// runningJob returns the running job the token names.
func (o *Orchestrator) runningJob(text string) (*jobcontext.Context, error) {
	if text == "" {
		return nil, errors.New("missing required field: token")
	}
	token, err := jobcontext.ParseToken(text)
	if err != nil {
		return nil, err
	}
	return o.queue.Lookup(token)
}

type stepRequest struct {
	Token string `cbor:"token"`

	// Path is the dotted step address, e.g. "1.0".
	Path string `cbor:"path"`
}

type stepResponse struct {
	Path    string            `cbor:"path"`
	Name    string            `cbor:"name"`
	Command string            `cbor:"command"`
	Params  map[string]string `cbor:"params,omitempty"`
	Env     map[string]string `cbor:"env,omitempty"`
}

func (o *Orchestrator) handleStep(ctx context.Context, request stepRequest) (any, error) {
	job, err := o.runningJob(request.Token)
	if err != nil {
		return nil, err
	}
	path, err := action.ParsePath(request.Path)
	if err != nil {
		return nil, err
	}
	leaf, err := job.Step(path)
	if err != nil {
		return nil, err
	}
	return stepResponse{
		Path:    path.String(),
		Name:    leaf.Name(),
		Command: leaf.Command(),
		Params:  leaf.Params(),
		Env:     leaf.Env(),
	}, nil
}

type authorizeRequest struct {
	Token string `cbor:"token"`

	// The target is named by ID or by path.
	TargetProjectID   int64  `cbor:"target_project_id,omitempty"`
	TargetProjectPath string `cbor:"target_project_path,omitempty"`
}

type authorizeResponse struct {
	Allowed bool   `cbor:"allowed"`
	Reason  string `cbor:"reason,omitempty"`
}

// handleAuthorize answers whether the job may act on the target. A
// denial is a successful response with Allowed false; only a bad
// request is an error.
func (o *Orchestrator) handleAuthorize(ctx context.Context, request authorizeRequest) (any, error) {
	job, err := o.runningJob(request.Token)
	if err != nil {
		return nil, err
	}

	targetID := request.TargetProjectID
	if targetID == 0 {
		if request.TargetProjectPath == "" {
			return nil, errors.New("missing required field: target_project_id or target_project_path")
		}
		record, err := o.registry.ByPath(ctx, request.TargetProjectPath)
		if err != nil {
			o.recordDecision(trust.Result{Decision: trust.Deny, Reason: trust.ReasonProjectUnavailable})
			return authorizeResponse{Reason: trust.ReasonProjectUnavailable.String()}, nil
		}
		targetID = record.ID
	}

	result := o.evaluator.AuthorizeProjectID(ctx, job, targetID)
	o.recordDecision(result)
	response := authorizeResponse{Allowed: result.Allowed()}
	if !response.Allowed {
		response.Reason = result.Reason.String()
	}
	return response, nil
}

func (o *Orchestrator) recordDecision(result trust.Result) {
	reason := ""
	if !result.Allowed() {
		reason = result.Reason.String()
	}
	o.decisions.WithLabelValues(result.Decision.String(), reason).Inc()
}

type completeRequest struct {
	Token string `cbor:"token"`

	Status jobqueue.Status `cbor:"status"`
}

func (o *Orchestrator) handleComplete(ctx context.Context, request completeRequest) (any, error) {
	job, err := o.runningJob(request.Token)
	if err != nil {
		return nil, err
	}
	if !request.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", request.Status)
	}
	if err := o.queue.Complete(job.Token(), request.Status); err != nil {
		return nil, err
	}
	if err := o.registry.FinishBuild(ctx, job.Build().BuildID, string(request.Status)); err != nil {
		o.logger.Error("recording build status", "job", job, "status", request.Status, "error", err)
	}
	return nil, nil
}
