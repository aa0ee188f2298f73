// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/bureau-ci/lib/git"
	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
	"github.com/bureau-foundation/bureau-ci/lib/pipelinedef"
	"github.com/bureau-foundation/bureau-ci/lib/projectstore"
)

// submitRequest queues a build. The project is named by ID or by path.
// Ref defaults to the project's default branch; a bare branch name is
// qualified to refs/heads/. Commit defaults to the ref's current tip
// and is pinned in the job context either way.
type submitRequest struct {
	ProjectID   int64  `cbor:"project_id,omitempty"`
	ProjectPath string `cbor:"project_path,omitempty"`
	Ref         string `cbor:"ref,omitempty"`
	Commit      string `cbor:"commit,omitempty"`

	// Pipeline is a definition file, relative to paths.pipelines. It
	// may not be absolute or leave that directory.
	Pipeline string `cbor:"pipeline"`
}

// submitResponse carries the new job's token. The submitter passes it
// to whatever runs on the job's behalf; the orchestrator never shows it
// again.
type submitResponse struct {
	Token          string `cbor:"token"`
	Fingerprint    string `cbor:"fingerprint"`
	BuildID        int64  `cbor:"build_id"`
	BuildNumber    int64  `cbor:"build_number"`
	SubmitSequence int64  `cbor:"submit_sequence"`
	Ref            string `cbor:"ref"`
	Commit         string `cbor:"commit"`
}

func (o *Orchestrator) handleSubmit(ctx context.Context, request submitRequest) (any, error) {
	if request.Pipeline == "" {
		return nil, errors.New("missing required field: pipeline")
	}

	project, err := o.resolveProject(ctx, request.ProjectID, request.ProjectPath)
	if err != nil {
		return nil, err
	}

	pipelinePath, err := o.pipelinePath(request.Pipeline)
	if err != nil {
		return nil, err
	}
	definition, err := pipelinedef.ReadFile(pipelinePath)
	if err != nil {
		return nil, err
	}
	tree, err := pipelinedef.Build(definition)
	if err != nil {
		return nil, err
	}

	refName := qualifyRef(request.Ref, project.DefaultBranch)
	repository := git.NewRepository(project.GitDir)
	revision := request.Commit
	if revision == "" {
		revision = refName
	}
	commitID, err := repository.ResolveCommit(ctx, revision)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", project.Path, err)
	}

	sequence, err := o.sequencer.Next(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("allocating submit sequence: %w", err)
	}
	build, err := o.registry.CreateBuild(ctx, project.ID, sequence, refName, commitID, o.clock.Now())
	if err != nil {
		return nil, err
	}

	job, err := jobcontext.New(jobcontext.Params{
		Token:    jobcontext.NewToken(),
		Executor: o.executor,
		Project: jobcontext.ProjectRef{
			ID:     project.ID,
			Path:   project.Path,
			GitDir: project.GitDir,
		},
		Build: jobcontext.BuildRef{
			BuildID:        build.ID,
			BuildNumber:    build.SubmitSequence,
			SubmitSequence: build.SubmitSequence,
		},
		Ref:      jobcontext.RefPointer{RefName: refName, CommitID: commitID},
		Actions:  tree,
		Services: pipelinedef.Services(definition),
		Timeout:  pipelinedef.Timeout(definition, o.defaultTimeout),
	})
	if err == nil {
		err = o.queue.Push(job)
	}
	if err != nil {
		o.abandonBuild(build.ID, err)
		return nil, err
	}

	o.logger.Info("build submitted",
		"job", job,
		"pipeline", pipelinedef.NameFromPath(pipelinePath),
		"steps", len(tree.Actions()),
	)
	return submitResponse{
		Token:          job.Token().Value(),
		Fingerprint:    job.Token().Fingerprint(),
		BuildID:        build.ID,
		BuildNumber:    build.SubmitSequence,
		SubmitSequence: build.SubmitSequence,
		Ref:            refName,
		Commit:         commitID,
	}, nil
}

// abandonBuild marks a build that never reached the queue. The
// sequence it consumed stays consumed.
func (o *Orchestrator) abandonBuild(buildID int64, cause error) {
	if err := o.registry.FinishBuild(context.Background(), buildID, "rejected"); err != nil {
		o.logger.Error("marking build rejected", "build_id", buildID, "error", err, "cause", cause)
	}
}

func (o *Orchestrator) resolveProject(ctx context.Context, id int64, path string) (projectstore.Record, error) {
	switch {
	case id != 0:
		return o.registry.Lookup(ctx, id)
	case path != "":
		return o.registry.ByPath(ctx, path)
	default:
		return projectstore.Record{}, errors.New("missing required field: project_id or project_path")
	}
}

// pipelinePath maps a submitted pipeline name to a file under
// paths.pipelines. Absolute names are refused along with names that
// climb out of the directory.
func (o *Orchestrator) pipelinePath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("pipeline path %q must be relative to the pipeline directory", name)
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("pipeline path %q escapes the pipeline directory", name)
	}
	return filepath.Join(o.pipelineDir, name), nil
}

func qualifyRef(ref, defaultBranch string) string {
	switch {
	case ref == "":
		return "refs/heads/" + defaultBranch
	case strings.HasPrefix(ref, "refs/"):
		return ref
	default:
		return "refs/heads/" + ref
	}
}
