// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/bureau-ci/lib/clock"
	"github.com/bureau-foundation/bureau-ci/lib/codec"
	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
	"github.com/bureau-foundation/bureau-ci/lib/jobqueue"
	"github.com/bureau-foundation/bureau-ci/lib/projectstore"
	"github.com/bureau-foundation/bureau-ci/lib/service"
	libtestutil "github.com/bureau-foundation/bureau-ci/lib/testutil"
)

var testClockEpoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

const testClaimWait = 20 * time.Second

const testPipeline = `
timeout: 10m
services:
  - name: cache
    command: redis-server
    ready: redis-cli ping
steps:
  - name: build
    run: make build
  - name: checks
    parallel:
      - name: lint
        run: make lint
        env:
          LINT_STRICT: "1"
      - name: unit
        run: make test
`

// testEnv is a running orchestrator with a three-project registry
// sharing one git repository:
//
//	org (1) ── org/app (2)
//	other (3)
type testEnv struct {
	orchestrator *Orchestrator
	registry     *projectstore.Registry
	repository   libtestutil.GitRepository
	pipelineDir  string
	clock        *clock.FakeClock
	client       *service.Client
	metrics      *prometheus.Registry
}

// newTestEnv builds the environment. Each option may adjust the
// orchestrator configuration before the orchestrator is created.
func newTestEnv(t *testing.T, options ...func(*orchestratorConfig)) *testEnv {
	t.Helper()
	repository := libtestutil.InitGitRepository(t)

	registry, err := projectstore.OpenRegistry(filepath.Join(t.TempDir(), "registry.db"), nil)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	ctx := context.Background()
	for _, record := range []projectstore.Record{
		{ID: 1, Path: "org", GitDir: repository.Dir, DefaultBranch: "main"},
		{ID: 2, Path: "org/app", ParentID: 1, GitDir: repository.Dir, DefaultBranch: "main"},
		{ID: 3, Path: "other", GitDir: repository.Dir, DefaultBranch: "main"},
	} {
		if _, err := registry.AddProject(ctx, record); err != nil {
			t.Fatalf("AddProject(%s): %v", record.Path, err)
		}
	}

	pipelineDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(pipelineDir, "ci.yaml"), []byte(testPipeline), 0o644); err != nil {
		t.Fatalf("writing pipeline: %v", err)
	}

	fakeClock := clock.Fake(testClockEpoch)
	metrics := prometheus.NewRegistry()
	cfg := orchestratorConfig{
		Registry:       registry,
		Clock:          fakeClock,
		Registerer:     metrics,
		PipelineDir:    pipelineDir,
		DefaultTimeout: 30 * time.Minute,
		ClaimWait:      testClaimWait,
		History:        16,
		Executor:       jobcontext.ExecutorConfig{Name: "shell", ResourceClass: "small"},
	}
	for _, option := range options {
		option(&cfg)
	}
	orchestrator := newOrchestrator(cfg)

	socketPath := filepath.Join(libtestutil.SocketDir(t), "orchestrator.sock")
	server := service.NewSocketServer(socketPath, nil)
	orchestrator.registerActions(server)

	serveCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(serveCtx) }()
	t.Cleanup(func() {
		cancel()
		libtestutil.RequireReceive(t, done, 5*time.Second, "socket server shutdown")
	})
	libtestutil.RequireClosed(t, server.Ready(), 5*time.Second, "socket server ready")

	return &testEnv{
		orchestrator: orchestrator,
		registry:     registry,
		repository:   repository,
		pipelineDir:  pipelineDir,
		clock:        fakeClock,
		client:       service.NewClient(socketPath),
		metrics:      metrics,
	}
}

func (e *testEnv) submit(t *testing.T, fields map[string]any) submitResponse {
	t.Helper()
	if _, ok := fields["pipeline"]; !ok {
		fields["pipeline"] = "ci.yaml"
	}
	var response submitResponse
	if err := e.client.Call(context.Background(), "submit", fields, &response); err != nil {
		t.Fatalf("submit: %v", err)
	}
	return response
}

// wireClaim is the worker's view of a claim response.
type wireClaim struct {
	Job codec.RawMessage `cbor:"job"`
}

func (e *testEnv) claim(t *testing.T) *jobcontext.Context {
	t.Helper()
	var response wireClaim
	if err := e.client.Call(context.Background(), "claim", nil, &response); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(response.Job) == 0 {
		t.Fatal("claim returned no job")
	}
	job, err := jobcontext.Decode(response.Job)
	if err != nil {
		t.Fatalf("decoding claimed job: %v", err)
	}
	return job
}

func (e *testEnv) authorize(t *testing.T, token string, fields map[string]any) authorizeResponse {
	t.Helper()
	fields["token"] = token
	var response authorizeResponse
	if err := e.client.Call(context.Background(), "authorize", fields, &response); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	return response
}

func TestSubmitClaimStepComplete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submitted := env.submit(t, map[string]any{"project_path": "org/app"})
	if submitted.Commit != env.repository.MainTip() {
		t.Errorf("pinned commit = %s, want main tip %s", submitted.Commit, env.repository.MainTip())
	}
	if submitted.Ref != "refs/heads/main" {
		t.Errorf("ref = %q, want refs/heads/main", submitted.Ref)
	}
	if submitted.SubmitSequence != 1 || submitted.BuildNumber != 1 {
		t.Errorf("sequence/number = %d/%d, want 1/1", submitted.SubmitSequence, submitted.BuildNumber)
	}

	job := env.claim(t)
	if job.Token().Value() != submitted.Token {
		t.Fatal("claimed job token differs from submitted token")
	}
	if job.Project().ID != 2 || job.Project().Path != "org/app" {
		t.Errorf("project = %+v, want org/app (2)", job.Project())
	}
	if job.Timeout() != 10*time.Minute {
		t.Errorf("timeout = %v, want pipeline timeout 10m", job.Timeout())
	}
	if job.Executor().Name != "shell" {
		t.Errorf("executor = %+v", job.Executor())
	}
	if services := job.Services(); len(services) != 1 || services[0].ReadinessCheck != "redis-cli ping" {
		t.Errorf("services = %+v", services)
	}

	var step stepResponse
	if err := env.client.Call(ctx, "step", map[string]any{"token": submitted.Token, "path": "1.0"}, &step); err != nil {
		t.Fatalf("step: %v", err)
	}
	if step.Name != "lint" || step.Command != "make lint" || step.Env["LINT_STRICT"] != "1" {
		t.Errorf("step 1.0 = %+v", step)
	}

	err := env.client.Call(ctx, "step", map[string]any{"token": submitted.Token, "path": "1"}, nil)
	var serviceError *service.ServiceError
	if !errors.As(err, &serviceError) {
		t.Errorf("step at a group: err = %v, want ServiceError", err)
	}

	if err := env.client.Call(ctx, "complete", map[string]any{"token": submitted.Token, "status": "success"}, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	build, err := env.registry.Build(ctx, submitted.BuildID)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if build.Status != "success" {
		t.Errorf("build status = %q, want success", build.Status)
	}

	// A completed job's token no longer resolves steps.
	err = env.client.Call(ctx, "step", map[string]any{"token": submitted.Token, "path": "0"}, nil)
	if !errors.As(err, &serviceError) {
		t.Errorf("step after complete: err = %v, want ServiceError", err)
	}

	var status statusResponse
	if err := env.client.Call(ctx, "status", nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Queued != 0 || status.Running != 0 {
		t.Errorf("status = %+v, want empty queue", status)
	}
}

func TestSubmitSequencesIncrease(t *testing.T) {
	env := newTestEnv(t)

	var previous int64
	for range 3 {
		response := env.submit(t, map[string]any{"project_id": 1})
		if response.SubmitSequence <= previous {
			t.Fatalf("sequence %d not greater than %d", response.SubmitSequence, previous)
		}
		previous = response.SubmitSequence
	}
	other := env.submit(t, map[string]any{"project_id": 3})
	if other.SubmitSequence != 1 {
		t.Errorf("first sequence of another project = %d, want 1", other.SubmitSequence)
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"missing pipeline", map[string]any{"project_id": 1}},
		{"missing project", map[string]any{"pipeline": "ci.yaml"}},
		{"unknown project", map[string]any{"project_path": "nowhere", "pipeline": "ci.yaml"}},
		{"pipeline outside directory", map[string]any{"project_id": 1, "pipeline": "../ci.yaml"}},
		{"absolute pipeline path", map[string]any{"project_id": 1, "pipeline": filepath.Join(env.pipelineDir, "ci.yaml")}},
		{"missing pipeline file", map[string]any{"project_id": 1, "pipeline": "absent.yaml"}},
		{"unknown ref", map[string]any{"project_id": 1, "pipeline": "ci.yaml", "ref": "no-such-branch"}},
		{"unknown commit", map[string]any{"project_id": 1, "pipeline": "ci.yaml", "commit": "0123456789abcdef0123456789abcdef01234567"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := env.client.Call(context.Background(), "submit", test.fields, nil)
			var serviceError *service.ServiceError
			if !errors.As(err, &serviceError) {
				t.Errorf("err = %v, want ServiceError", err)
			}
		})
	}

	if snapshot := env.orchestrator.queue.Snapshot(); len(snapshot) != 0 {
		t.Errorf("rejected submissions queued %d jobs", len(snapshot))
	}
}

func TestAuthorize(t *testing.T) {
	env := newTestEnv(t)

	trusted := env.submit(t, map[string]any{"project_id": 1})
	env.claim(t)

	tests := []struct {
		name        string
		fields      map[string]any
		wantAllowed bool
		wantReason  string
	}{
		{"self", map[string]any{"target_project_id": 1}, true, ""},
		{"descendant", map[string]any{"target_project_id": 2}, true, ""},
		{"descendant by path", map[string]any{"target_project_path": "org/app"}, true, ""},
		{"unrelated", map[string]any{"target_project_id": 3}, false, "target outside owning project scope"},
		{"unknown id", map[string]any{"target_project_id": 99}, false, "project unavailable"},
		{"unknown path", map[string]any{"target_project_path": "ghost"}, false, "project unavailable"},
	}
	for _, test := range tests {
		response := env.authorize(t, trusted.Token, test.fields)
		if response.Allowed != test.wantAllowed || response.Reason != test.wantReason {
			t.Errorf("%s: got %+v, want allowed=%v reason=%q", test.name, response, test.wantAllowed, test.wantReason)
		}
	}

	// The feature commit is not on main, so even the owning project
	// denies.
	untrusted := env.submit(t, map[string]any{"project_id": 1, "ref": "feature"})
	if untrusted.Commit != env.repository.Feature {
		t.Fatalf("feature build pinned %s, want %s", untrusted.Commit, env.repository.Feature)
	}
	env.claim(t)
	response := env.authorize(t, untrusted.Token, map[string]any{"target_project_id": 1})
	if response.Allowed || response.Reason != "commit not on default branch" {
		t.Errorf("feature build: got %+v", response)
	}

	allowed := testutil.ToFloat64(env.orchestrator.decisions.WithLabelValues("allow", ""))
	if allowed != 3 {
		t.Errorf("allow decisions = %v, want 3", allowed)
	}
	outOfScope := testutil.ToFloat64(env.orchestrator.decisions.WithLabelValues("deny", "target outside owning project scope"))
	if outOfScope != 1 {
		t.Errorf("out-of-scope decisions = %v, want 1", outOfScope)
	}
}

func TestAuthorizeRequiresRunningJob(t *testing.T) {
	env := newTestEnv(t)
	queued := env.submit(t, map[string]any{"project_id": 1})

	for name, token := range map[string]string{
		"queued job":   queued.Token,
		"unknown":      jobcontext.NewToken().Value(),
		"not a token":  "not-a-token",
		"empty string": "",
	} {
		err := env.client.Call(context.Background(), "authorize",
			map[string]any{"token": token, "target_project_id": 1}, nil)
		var serviceError *service.ServiceError
		if !errors.As(err, &serviceError) {
			t.Errorf("%s: err = %v, want ServiceError", name, err)
		}
	}
}

func TestClaimWaitExpires(t *testing.T) {
	env := newTestEnv(t)

	result := make(chan wireClaim, 1)
	go func() {
		var response wireClaim
		if err := env.client.Call(context.Background(), "claim", map[string]any{"worker": "w1"}, &response); err != nil {
			t.Errorf("claim: %v", err)
		}
		result <- response
	}()

	env.clock.WaitForTimers(1)
	env.clock.Advance(testClaimWait)

	response := libtestutil.RequireReceive(t, result, 5*time.Second, "claim response")
	if len(response.Job) != 0 {
		t.Errorf("claim returned a job from an empty queue")
	}
}

func TestClaimWakesOnSubmit(t *testing.T) {
	env := newTestEnv(t)

	claimed := make(chan *jobcontext.Context, 1)
	go func() {
		var response wireClaim
		if err := env.client.Call(context.Background(), "claim", nil, &response); err != nil {
			t.Errorf("claim: %v", err)
			claimed <- nil
			return
		}
		job, err := jobcontext.Decode(response.Job)
		if err != nil {
			t.Errorf("decoding: %v", err)
		}
		claimed <- job
	}()

	env.clock.WaitForTimers(1)
	submitted := env.submit(t, map[string]any{"project_id": 2})

	job := libtestutil.RequireReceive(t, claimed, 5*time.Second, "claimed job")
	if job == nil || job.Token().Value() != submitted.Token {
		t.Fatalf("claimed %v, want the submitted job", job)
	}
}

func (e *testEnv) buildStatus(t *testing.T, buildID int64) string {
	t.Helper()
	build, err := e.registry.Build(context.Background(), buildID)
	if err != nil {
		t.Fatalf("Build(%d): %v", buildID, err)
	}
	return build.Status
}

func TestUnreportedJobTimesOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submitted := env.submit(t, map[string]any{"project_id": 1})
	env.claim(t)

	// The pipeline allows 10m; a day later the worker has still not
	// reported.
	env.clock.Advance(24 * time.Hour)

	var serviceError *service.ServiceError
	err := env.client.Call(ctx, "step", map[string]any{"token": submitted.Token, "path": "0"}, nil)
	if !errors.As(err, &serviceError) {
		t.Errorf("step after timeout: err = %v, want ServiceError", err)
	}
	err = env.client.Call(ctx, "authorize", map[string]any{"token": submitted.Token, "target_project_id": 1}, nil)
	if !errors.As(err, &serviceError) {
		t.Errorf("authorize after timeout: err = %v, want ServiceError", err)
	}

	var status statusResponse
	if err := env.client.Call(ctx, "status", nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Running != 0 {
		t.Errorf("running = %d, want 0", status.Running)
	}
	snapshot := env.orchestrator.queue.Snapshot()
	if len(snapshot) != 1 || snapshot[0].State != "completed" || snapshot[0].Status != jobqueue.StatusTimeout {
		t.Errorf("snapshot = %+v, want one completed timeout", snapshot)
	}
	if got := env.buildStatus(t, submitted.BuildID); got != "timeout" {
		t.Errorf("build status = %q, want timeout", got)
	}

	// A late report does not overwrite the recorded timeout.
	err = env.client.Call(ctx, "complete", map[string]any{"token": submitted.Token, "status": "success"}, nil)
	if !errors.As(err, &serviceError) {
		t.Errorf("late complete: err = %v, want ServiceError", err)
	}
	if got := env.buildStatus(t, submitted.BuildID); got != "timeout" {
		t.Errorf("build status after late complete = %q, want timeout", got)
	}
}

func TestReaperRecordsTimeouts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submitted := env.submit(t, map[string]any{"project_id": 1})
	env.claim(t)

	reaperCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.orchestrator.runReaper(reaperCtx, time.Minute)
	}()
	t.Cleanup(func() {
		cancel()
		libtestutil.RequireClosed(t, done, 5*time.Second, "reaper shutdown")
	})

	// Each pass ends by arming the next sleep, so waiting for a timer
	// after Advance waits for the pass to finish.
	env.clock.WaitForTimers(1)
	env.clock.Advance(5 * time.Minute)
	env.clock.WaitForTimers(1)
	if got := env.buildStatus(t, submitted.BuildID); got != "" {
		t.Fatalf("build status within timeout = %q, want empty", got)
	}
	if err := env.client.Call(ctx, "step", map[string]any{"token": submitted.Token, "path": "0"}, nil); err != nil {
		t.Fatalf("step within timeout: %v", err)
	}

	env.clock.Advance(24 * time.Hour)
	env.clock.WaitForTimers(1)
	if got := env.buildStatus(t, submitted.BuildID); got != "timeout" {
		t.Errorf("build status = %q, want timeout", got)
	}
	if _, err := env.orchestrator.queue.Lookup(mustParseToken(t, submitted.Token)); !errors.Is(err, jobqueue.ErrNotRunning) {
		t.Errorf("Lookup after reap = %v, want ErrNotRunning", err)
	}
}

func mustParseToken(t *testing.T, text string) jobcontext.Token {
	t.Helper()
	token, err := jobcontext.ParseToken(text)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	return token
}

// stubSequencer hands out consecutive sequences from next, or fails
// with err when it is set.
type stubSequencer struct {
	mu   sync.Mutex
	next int64
	err  error
}

func (s *stubSequencer) Next(_ context.Context, _ int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	sequence := s.next
	s.next++
	return sequence, nil
}

func TestSubmitUsesSequencer(t *testing.T) {
	sequencer := &stubSequencer{next: 41}
	env := newTestEnv(t, func(cfg *orchestratorConfig) { cfg.Sequencer = sequencer })

	first := env.submit(t, map[string]any{"project_id": 1})
	second := env.submit(t, map[string]any{"project_id": 1})
	if first.SubmitSequence != 41 || second.SubmitSequence != 42 {
		t.Errorf("sequences = %d, %d; want 41, 42", first.SubmitSequence, second.SubmitSequence)
	}
	build, err := env.registry.Build(context.Background(), second.BuildID)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if build.SubmitSequence != 42 {
		t.Errorf("stored sequence = %d, want 42", build.SubmitSequence)
	}

	// A sequence the registry already holds is refused rather than
	// reused.
	sequencer.mu.Lock()
	sequencer.next = 41
	sequencer.mu.Unlock()
	err = env.client.Call(context.Background(), "submit", map[string]any{"project_id": 1, "pipeline": "ci.yaml"}, nil)
	var serviceError *service.ServiceError
	if !errors.As(err, &serviceError) {
		t.Errorf("submit with reused sequence: err = %v, want ServiceError", err)
	}

	sequencer.mu.Lock()
	sequencer.err = errors.New("sequence store unavailable")
	sequencer.mu.Unlock()
	err = env.client.Call(context.Background(), "submit", map[string]any{"project_id": 1, "pipeline": "ci.yaml"}, nil)
	if !errors.As(err, &serviceError) || !strings.Contains(serviceError.Message, "sequence store unavailable") {
		t.Errorf("submit with failing sequencer: err = %v", err)
	}
	if snapshot := env.orchestrator.queue.Snapshot(); len(snapshot) != 2 {
		t.Errorf("queue holds %d jobs, want the 2 accepted", len(snapshot))
	}
}

func TestQualifyRef(t *testing.T) {
	tests := []struct{ ref, want string }{
		{"", "refs/heads/main"},
		{"feature", "refs/heads/feature"},
		{"refs/tags/v1", "refs/tags/v1"},
	}
	for _, test := range tests {
		if got := qualifyRef(test.ref, "main"); got != test.want {
			t.Errorf("qualifyRef(%q) = %q, want %q", test.ref, got, test.want)
		}
	}
}
