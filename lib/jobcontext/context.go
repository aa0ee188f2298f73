// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobcontext

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/bureau-foundation/bureau-ci/lib/action"
)

// ExecutorConfig describes the environment a job runs in. The core
// treats it as inert data and passes it through to the worker.
type ExecutorConfig struct {
	// Name identifies the executor definition (e.g., "linux-large").
	Name string `cbor:"name,omitempty"`

	// ResourceClass selects machine size or pool.
	ResourceClass string `cbor:"resource_class,omitempty"`

	// PullPolicy is the image pull policy for step and service
	// images ("always", "if-not-present", "never").
	PullPolicy string `cbor:"pull_policy,omitempty"`

	// Attributes carries executor-specific settings not modeled
	// above.
	Attributes map[string]string `cbor:"attributes,omitempty"`
}

func (e ExecutorConfig) clone() ExecutorConfig {
	e.Attributes = maps.Clone(e.Attributes)
	return e
}

// ProjectRef identifies the project that owns the build. Resolved once
// when the context is created.
type ProjectRef struct {
	ID     int64  `cbor:"id"`
	Path   string `cbor:"path"`
	GitDir string `cbor:"git_dir,omitempty"`
}

// BuildRef identifies the build within its project.
type BuildRef struct {
	BuildID     int64 `cbor:"build_id"`
	BuildNumber int64 `cbor:"build_number"`

	// SubmitSequence orders queued builds of one project. Strictly
	// increasing per project and never reused; see jobqueue.Sequencer.
	SubmitSequence int64 `cbor:"submit_sequence"`
}

// RefPointer is the branch or tag a build was triggered from and the
// commit it resolved to when the build was queued. The commit stays
// pinned even if the branch moves afterwards.
type RefPointer struct {
	RefName  string `cbor:"ref_name"`
	CommitID string `cbor:"commit_id"`
}

// ServiceSpec is a sidecar the job needs for its whole lifetime (a
// database, a message broker).
type ServiceSpec struct {
	Name      string            `cbor:"name"`
	Image     string            `cbor:"image,omitempty"`
	Command   string            `cbor:"command,omitempty"`
	Arguments []string          `cbor:"arguments,omitempty"`
	Env       map[string]string `cbor:"env,omitempty"`

	// ReadinessCheck is a shell command that exits zero once the
	// service accepts connections.
	ReadinessCheck string `cbor:"readiness_check,omitempty"`
}

func (s ServiceSpec) clone() ServiceSpec {
	s.Arguments = slices.Clone(s.Arguments)
	s.Env = maps.Clone(s.Env)
	return s
}

// Params are the inputs to New. Token, Project.ID, Project.Path,
// Build.BuildID and a positive Timeout are mandatory.
type Params struct {
	Token    Token
	Executor ExecutorConfig
	Project  ProjectRef
	Build    BuildRef
	Ref      RefPointer
	Actions  action.Tree
	Services []ServiceSpec
	Timeout  time.Duration
}

// Context is the immutable per-build bundle. Obtain one from New or
// Decode; the zero value is not usable.
type Context struct {
	token    Token
	executor ExecutorConfig
	project  ProjectRef
	build    BuildRef
	ref      RefPointer
	actions  action.Tree
	services []ServiceSpec
	timeout  time.Duration
}

// New validates params and returns the context. Every problem is
// reported in a single *ConfigurationError; on error no context is
// returned.
func New(params Params) (*Context, error) {
	var problems []string
	if params.Token.IsZero() {
		problems = append(problems, "job token is required")
	}
	if params.Project.ID == 0 {
		problems = append(problems, "project id is required")
	}
	if params.Project.Path == "" {
		problems = append(problems, "project path is required")
	}
	if params.Build.BuildID == 0 {
		problems = append(problems, "build id is required")
	}
	if params.Timeout <= 0 {
		problems = append(problems, fmt.Sprintf("timeout must be positive (got %s)", params.Timeout))
	}
	if len(problems) > 0 {
		return nil, &ConfigurationError{Problems: problems}
	}

	services := make([]ServiceSpec, len(params.Services))
	for index, service := range params.Services {
		services[index] = service.clone()
	}

	return &Context{
		token:    params.Token,
		executor: params.Executor.clone(),
		project:  params.Project,
		build:    params.Build,
		ref:      params.Ref,
		// Tree is immutable and NewTree already copied its slice.
		actions:  params.Actions,
		services: services,
		timeout:  params.Timeout,
	}, nil
}

// Token returns the job credential.
func (c *Context) Token() Token { return c.token }

// Executor returns a copy of the executor description.
func (c *Context) Executor() ExecutorConfig { return c.executor.clone() }

// Project returns the owning project.
func (c *Context) Project() ProjectRef { return c.project }

// Build returns the build identity and its submit sequence.
func (c *Context) Build() BuildRef { return c.build }

// Ref returns the pinned ref and commit.
func (c *Context) Ref() RefPointer { return c.ref }

// Actions returns the action tree.
func (c *Context) Actions() action.Tree { return c.actions }

// Services returns a copy of the sidecar specifications.
func (c *Context) Services() []ServiceSpec {
	services := make([]ServiceSpec, len(c.services))
	for index, service := range c.services {
		services[index] = service.clone()
	}
	return services
}

// Timeout returns the wall-clock budget for the whole job.
func (c *Context) Timeout() time.Duration { return c.timeout }

// Deadline returns the instant the job must finish by if it started at
// start.
func (c *Context) Deadline(start time.Time) time.Time { return start.Add(c.timeout) }

// Step resolves a step address against this context's action tree. See
// action.Resolve for the error contract.
func (c *Context) Step(path action.Path) (action.Leaf, error) {
	return action.Resolve(c.actions, path)
}

// LogValue implements slog.LogValuer. The token appears only as its
// fingerprint.
func (c *Context) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("job", c.token.Fingerprint()),
		slog.Int64("project_id", c.project.ID),
		slog.String("project", c.project.Path),
		slog.Int64("build", c.build.BuildNumber),
		slog.Int64("sequence", c.build.SubmitSequence),
		slog.String("ref", c.ref.RefName),
		slog.String("commit", c.ref.CommitID),
	)
}
