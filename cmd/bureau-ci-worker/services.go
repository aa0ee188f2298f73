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
	"syscall"
	"time"

	"github.com/bureau-foundation/bureau-ci/lib/action"
	"github.com/bureau-foundation/bureau-ci/lib/clock"
	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
	"github.com/bureau-foundation/bureau-ci/lib/steplog"
)

// serviceStopGrace is how long a service has to exit after SIGTERM
// before its process group is killed.
const serviceStopGrace = 5 * time.Second

// runningService is one started sidecar.
type runningService struct {
	spec   jobcontext.ServiceSpec
	cmd    *exec.Cmd
	output *steplog.Writer
	// exited is closed once the process has been reaped.
	exited  chan struct{}
	waitErr error
}

// serviceSet is the job's sidecars. The zero value has nothing to
// stop.
type serviceSet struct {
	services []*runningService
	clock    clock.Clock
}

// startServices starts every sidecar in declaration order and waits
// for each to pass its readiness check before starting the next. On
// failure, the services already started are stopped and the returned
// set is empty.
func (r *jobRun) startServices(ctx context.Context) (*serviceSet, error) {
	set := &serviceSet{clock: r.worker.clock}
	specs := r.job.Services()
	if len(specs) == 0 {
		return set, nil
	}

	archive, err := steplog.NewArchive(filepath.Join(r.archive.Dir(), "services"), r.worker.compression)
	if err != nil {
		return set, err
	}

	for index, spec := range specs {
		service, err := r.startService(archive, index, spec)
		if err != nil {
			set.stop()
			return &serviceSet{clock: r.worker.clock}, err
		}
		set.services = append(set.services, service)

		if err := r.waitReady(ctx, service); err != nil {
			set.stop()
			return &serviceSet{clock: r.worker.clock}, err
		}
		r.worker.logger.Info("service ready", "job", r.job, "service", spec.Name)
	}
	return set, nil
}

func (r *jobRun) startService(archive *steplog.Archive, index int, spec jobcontext.ServiceSpec) (*runningService, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("service %q: image %q needs a container executor; this worker runs commands only", spec.Name, spec.Image)
	}

	output, err := archive.Create(action.Path{index}, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", spec.Name, err)
	}

	// Services outlive any single step, so they are not tied to a
	// context; stop() ends them.
	cmd := exec.Command(spec.Command, spec.Arguments...)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for name, value := range spec.Env {
		cmd.Env = append(cmd.Env, name+"="+value)
	}
	if err := cmd.Start(); err != nil {
		output.Close()
		return nil, fmt.Errorf("service %q: %w", spec.Name, err)
	}

	service := &runningService{spec: spec, cmd: cmd, output: output, exited: make(chan struct{})}
	go func() {
		service.waitErr = cmd.Wait()
		close(service.exited)
	}()
	r.worker.logger.Info("service started", "job", r.job, "service", spec.Name, "pid", cmd.Process.Pid)
	return service, nil
}

// waitReady polls the service's readiness check until it exits zero.
// A service without a check is ready once started. The wait fails if
// the service exits, the readiness timeout passes or ctx is done.
func (r *jobRun) waitReady(ctx context.Context, service *runningService) error {
	if service.spec.ReadinessCheck == "" {
		return nil
	}
	readyCtx, cancel := clock.WithDeadline(ctx, r.worker.clock, r.worker.clock.Now().Add(r.worker.readinessTimeout))
	defer cancel()

	for {
		select {
		case <-service.exited:
			return fmt.Errorf("service %q exited before becoming ready: %v", service.spec.Name, service.waitErr)
		default:
		}

		exitCode, err := runShellCommand(readyCtx, r.worker.shell, service.spec.ReadinessCheck, service.spec.Env, "", service.output)
		if err == nil && exitCode == 0 {
			return nil
		}

		if err := clock.Sleep(readyCtx, r.worker.clock, r.worker.readinessInterval); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("service %q not ready after %s", service.spec.Name, r.worker.readinessTimeout)
		}
	}
}

// stop terminates the services in reverse start order.
func (s *serviceSet) stop() {
	for index := len(s.services) - 1; index >= 0; index-- {
		s.services[index].stop(s.clock)
	}
	s.services = nil
}

func (s *runningService) stop(clk clock.Clock) {
	defer s.output.Close()

	processGroup := -s.cmd.Process.Pid
	if err := syscall.Kill(processGroup, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		syscall.Kill(processGroup, syscall.SIGKILL)
	}
	select {
	case <-s.exited:
		return
	case <-clk.After(serviceStopGrace):
	}
	syscall.Kill(processGroup, syscall.SIGKILL)
	<-s.exited
}
