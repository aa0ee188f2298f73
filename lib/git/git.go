// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for the questions
// bureau-ci asks of a project's repository: which commit a ref points
// at when a build is queued, and whether a pinned commit is reachable
// from the default branch when a build asks for trust. Every command
// targets a specific repository directory via the -C flag, injected by
// all Repository methods.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Repository is a git repository at a specific directory, bare or
// with a working tree. There is no default directory.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is included in the error on failure. The returned
// error wraps the *exec.ExitError so callers can inspect the exit code.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := r.Command(ctx, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Command returns an *exec.Cmd for a git command without running it.
// The -C flag targeting this repository is prepended.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-C", r.dir}, args...)
	return exec.CommandContext(ctx, "git", fullArgs...)
}

// ResolveCommit returns the full commit ID that ref points at now. The
// ref may be a branch, tag, or commit ID; tags are peeled to their
// commit.
func (r *Repository) ResolveCommit(ctx context.Context, ref string) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", ref, err)
	}
	return strings.TrimSpace(output), nil
}

// IsAncestor reports whether ancestor is reachable from descendant
// (equal commits count as reachable). Uses "git merge-base
// --is-ancestor", which exits 1 for "no" and anything else non-zero for
// errors such as an unknown commit.
func (r *Repository) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := r.Run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) && exitError.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}
