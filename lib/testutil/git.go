// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"os/exec"
	"strings"
	"testing"
)

// GitRepository is a throwaway repository created by InitGitRepository.
//
//	main:    Main[0] -- Main[1]
//	feature:        \-- Feature
type GitRepository struct {
	// Dir is the repository's working tree.
	Dir string

	// Main holds the commits of the main branch, oldest first.
	Main []string

	// Feature is the single commit on the feature branch, forked from
	// Main[0].
	Feature string
}

// MainTip returns the current tip of main as created.
func (r GitRepository) MainTip() string { return r.Main[len(r.Main)-1] }

// Commit adds an empty commit on the checked-out branch and returns its
// ID.
func (r GitRepository) Commit(t *testing.T, message string) string {
	t.Helper()
	runGit(t, r.Dir, "commit", "--allow-empty", "-q", "-m", message)
	return strings.TrimSpace(runGit(t, r.Dir, "rev-parse", "HEAD"))
}

// InitGitRepository creates the repository in a temp directory. Skips
// the test if git is not installed.
func InitGitRepository(t *testing.T) GitRepository {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git not available: %v", err)
	}

	repository := GitRepository{Dir: t.TempDir()}
	runGit(t, repository.Dir, "init", "-q")
	runGit(t, repository.Dir, "symbolic-ref", "HEAD", "refs/heads/main")

	repository.Main = append(repository.Main, repository.Commit(t, "initial"))

	runGit(t, repository.Dir, "checkout", "-q", "-b", "feature")
	repository.Feature = repository.Commit(t, "feature work")

	runGit(t, repository.Dir, "checkout", "-q", "main")
	repository.Main = append(repository.Main, repository.Commit(t, "trunk work"))

	return repository
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	command := exec.Command("git", append([]string{"-C", dir}, args...)...)
	command.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.local",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.local",
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_CONFIG_GLOBAL=/dev/null",
	)
	output, err := command.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return string(output)
}
