// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/bureau-ci/lib/action"
	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
	"github.com/bureau-foundation/bureau-ci/lib/jobqueue"
)

// resultLog writes one JSON object per line as the job runs. A worker
// killed mid-job leaves every finished step's line intact, and readers
// can tail the file for progress.
//
// Parallel steps finish concurrently; writes are serialized.
type resultLog struct {
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

type resultStartEntry struct {
	Type        string    `json:"type"`
	Fingerprint string    `json:"fingerprint"`
	ProjectPath string    `json:"project_path"`
	BuildID     int64     `json:"build_id"`
	BuildNumber int64     `json:"build_number"`
	Ref         string    `json:"ref"`
	Commit      string    `json:"commit"`
	StepCount   int       `json:"step_count"`
	Timeout     string    `json:"timeout"`
	Timestamp   time.Time `json:"timestamp"`
}

type resultStepEntry struct {
	Type       string `json:"type"`
	Path       string `json:"path"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Log        string `json:"log"`
	Error      string `json:"error,omitempty"`
}

type resultCompleteEntry struct {
	Type       string          `json:"type"`
	Status     jobqueue.Status `json:"status"`
	DurationMS int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

// newResultLog creates (truncating) the result log at path.
func newResultLog(path string, logger *slog.Logger) (*resultLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result log %s: %w", path, err)
	}
	return &resultLog{
		logger:  logger,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close closes the result log file.
func (r *resultLog) Close() error {
	return r.file.Close()
}

func (r *resultLog) writeStart(job *jobcontext.Context, start time.Time) {
	r.write(resultStartEntry{
		Type:        "start",
		Fingerprint: job.Token().Fingerprint(),
		ProjectPath: job.Project().Path,
		BuildID:     job.Build().BuildID,
		BuildNumber: job.Build().BuildNumber,
		Ref:         job.Ref().RefName,
		Commit:      job.Ref().CommitID,
		StepCount:   len(action.Leaves(job.Actions())),
		Timeout:     job.Timeout().String(),
		Timestamp:   start.UTC(),
	})
}

func (r *resultLog) writeStep(path action.Path, name, status string, exitCode int, duration time.Duration, logPath string, stepErr error) {
	entry := resultStepEntry{
		Type:       "step",
		Path:       path.String(),
		Name:       name,
		Status:     status,
		ExitCode:   exitCode,
		DurationMS: duration.Milliseconds(),
		Log:        logPath,
	}
	if stepErr != nil {
		entry.Error = stepErr.Error()
	}
	r.write(entry)
}

func (r *resultLog) writeComplete(status jobqueue.Status, duration time.Duration, jobErr error) {
	entry := resultCompleteEntry{
		Type:       "complete",
		Status:     status,
		DurationMS: duration.Milliseconds(),
	}
	if jobErr != nil {
		entry.Error = jobErr.Error()
	}
	r.write(entry)
}

func (r *resultLog) write(entry any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.encoder.Encode(entry); err != nil {
		r.logger.Warn("failed to write result log entry", "error", err)
		return
	}
	// Sync each line so partial results survive a crash.
	if err := r.file.Sync(); err != nil {
		r.logger.Warn("failed to sync result log", "error", err)
	}
}
