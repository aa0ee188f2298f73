// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/bureau-ci/lib/action"
	"github.com/bureau-foundation/bureau-ci/lib/clock"
	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
	"github.com/bureau-foundation/bureau-ci/lib/jobqueue"
	"github.com/bureau-foundation/bureau-ci/lib/steplog"
)

// stepWaitDelay bounds how long a killed step's output pipes may stay
// open after the process group is gone.
const stepWaitDelay = 5 * time.Second

// jobRun is the state of one executing job.
type jobRun struct {
	worker  *Worker
	job     *jobcontext.Context
	archive *steplog.Archive
	results *resultLog
}

// execute runs job to completion and returns its final status. It
// never returns early on step failure without first stopping the
// job's services.
func (w *Worker) execute(ctx context.Context, job *jobcontext.Context) jobqueue.Status {
	start := w.clock.Now()
	jobCtx, cancel := clock.WithDeadline(ctx, w.clock, job.Deadline(start))
	defer cancel()

	logDir := filepath.Join(w.logDir, projectLogDir(job.Project()), strconv.FormatInt(job.Build().BuildID, 10))
	archive, err := steplog.NewArchive(logDir, w.compression)
	if err != nil {
		w.logger.Error("preparing step logs", "job", job, "error", err)
		return jobqueue.StatusFailure
	}
	results, err := newResultLog(filepath.Join(logDir, "result.jsonl"), w.logger)
	if err != nil {
		w.logger.Error("preparing result log", "job", job, "error", err)
		return jobqueue.StatusFailure
	}
	defer results.Close()
	results.writeStart(job, start)

	run := &jobRun{worker: w, job: job, archive: archive, results: results}

	services, err := run.startServices(jobCtx)
	if err == nil {
		err = run.executeTree(jobCtx)
	}
	services.stop()

	status := jobStatus(ctx, jobCtx, err)
	duration := w.clock.Now().Sub(start)
	results.writeComplete(status, duration, err)
	if err != nil {
		w.logger.Warn("job finished", "job", job, "status", status, "duration", duration, "error", err)
	} else {
		w.logger.Info("job finished", "job", job, "status", status, "duration", duration)
	}
	return status
}

// projectLogDir is the project's directory under the log root. A path
// that could escape the root falls back to the project ID.
func projectLogDir(project jobcontext.ProjectRef) string {
	if project.Path != "" && filepath.IsLocal(project.Path) {
		return project.Path
	}
	return "project-" + strconv.FormatInt(project.ID, 10)
}

// jobStatus classifies the outcome. Worker shutdown wins over the job
// deadline, which wins over step failure.
func jobStatus(workerCtx, jobCtx context.Context, err error) jobqueue.Status {
	switch {
	case err == nil:
		return jobqueue.StatusSuccess
	case workerCtx.Err() != nil:
		return jobqueue.StatusCancelled
	case errors.Is(context.Cause(jobCtx), context.DeadlineExceeded):
		return jobqueue.StatusTimeout
	default:
		return jobqueue.StatusFailure
	}
}

// executeTree runs the root actions as an implicit sequential group.
func (r *jobRun) executeTree(ctx context.Context) error {
	for index, node := range r.job.Actions().Actions() {
		if err := r.executeNode(ctx, action.Path{index}, node); err != nil {
			return err
		}
	}
	return nil
}

func (r *jobRun) executeNode(ctx context.Context, path action.Path, node action.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch node.Kind() {
	case action.KindLeaf:
		return r.executeLeaf(ctx, path)

	case action.KindSequential:
		group := node.(action.Group)
		for index, child := range group.Children() {
			if err := r.executeNode(ctx, path.Child(index), child); err != nil {
				return err
			}
		}
		return nil

	case action.KindParallel:
		group := node.(action.Group)
		workers, groupCtx := errgroup.WithContext(ctx)
		for index, child := range group.Children() {
			workers.Go(func() error {
				return r.executeNode(groupCtx, path.Child(index), child)
			})
		}
		return workers.Wait()

	default:
		return fmt.Errorf("step %s: unknown action kind %s", path, node.Kind())
	}
}

// executeLeaf fetches the leaf by its address and runs its command.
func (r *jobRun) executeLeaf(ctx context.Context, path action.Path) error {
	leaf, err := r.job.Step(path)
	if err != nil {
		return err
	}

	logWriter, err := r.archive.Create(path, leaf.Name())
	if err != nil {
		return err
	}
	defer logWriter.Close()

	start := r.worker.clock.Now()
	r.worker.logger.Info("step started", "job", r.job, "step", path.String(), "name", leaf.Name())

	exitCode, runErr := runShellCommand(ctx, r.worker.shell, leaf.Command(), r.stepEnv(path, leaf), r.job.Project().GitDir, logWriter)
	if runErr == nil && exitCode != 0 {
		runErr = fmt.Errorf("exit code %d", exitCode)
	}

	duration := r.worker.clock.Now().Sub(start)
	status := "ok"
	if runErr != nil {
		status = "failed"
		if ctx.Err() != nil {
			status = "aborted"
		}
	}
	r.results.writeStep(path, leaf.Name(), status, exitCode, duration, logWriter.Path(), runErr)
	r.worker.logger.Info("step finished", "job", r.job, "step", path.String(), "status", status, "duration", duration)

	if runErr != nil {
		return fmt.Errorf("step %s %q: %w", path, leaf.Name(), runErr)
	}
	return nil
}

// stepEnv returns the variables a step sees on top of the worker's
// environment: the job's identity first, then the leaf's own env,
// which may not override the job variables.
func (r *jobRun) stepEnv(path action.Path, leaf action.Leaf) map[string]string {
	env := leaf.Env()
	if env == nil {
		env = make(map[string]string)
	}
	job := r.job
	jobVariables := map[string]string{
		"BUREAU_CI":                     "true",
		"BUREAU_CI_JOB_TOKEN":           job.Token().Value(),
		"BUREAU_CI_ORCHESTRATOR_SOCKET": r.worker.orchestratorSocket,
		"BUREAU_CI_PROJECT_ID":          strconv.FormatInt(job.Project().ID, 10),
		"BUREAU_CI_PROJECT_PATH":        job.Project().Path,
		"BUREAU_CI_BUILD_ID":            strconv.FormatInt(job.Build().BuildID, 10),
		"BUREAU_CI_BUILD_NUMBER":        strconv.FormatInt(job.Build().BuildNumber, 10),
		"BUREAU_CI_REF":                 job.Ref().RefName,
		"BUREAU_CI_COMMIT":              job.Ref().CommitID,
		"BUREAU_CI_STEP_PATH":           path.String(),
		"BUREAU_CI_STEP_NAME":           leaf.Name(),
	}
	for name, value := range jobVariables {
		env[name] = value
	}
	return env
}

// runShellCommand runs command via shell -c in its own process group,
// sending combined output to output. Cancelling ctx kills the whole
// group so that children the command spawned die with it.
//
// Returns the exit code; a non-nil error means the command could not
// be run or was killed.
func runShellCommand(ctx context.Context, shell, command string, env map[string]string, dir string, output *steplog.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = stepWaitDelay
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			cmd.Dir = dir
		}
	}
	cmd.Env = os.Environ()
	for name, value := range env {
		cmd.Env = append(cmd.Env, name+"="+value)
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}
	return -1, err
}
