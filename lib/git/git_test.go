// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"strings"
	"testing"

	"github.com/bureau-foundation/bureau-ci/lib/testutil"
)

func TestRepository_ResolveCommit(t *testing.T) {
	t.Parallel()

	fixture := testutil.InitGitRepository(t)
	repo := NewRepository(fixture.Dir)
	ctx := context.Background()

	head, err := repo.ResolveCommit(ctx, "refs/heads/main")
	if err != nil {
		t.Fatalf("ResolveCommit(main): %v", err)
	}
	if head != fixture.MainTip() {
		t.Errorf("ResolveCommit(main) = %s, want %s", head, fixture.MainTip())
	}

	feature, err := repo.ResolveCommit(ctx, "feature")
	if err != nil {
		t.Fatalf("ResolveCommit(feature): %v", err)
	}
	if feature != fixture.Feature {
		t.Errorf("ResolveCommit(feature) = %s, want %s", feature, fixture.Feature)
	}

	if _, err := repo.ResolveCommit(ctx, "refs/heads/missing"); err == nil {
		t.Error("ResolveCommit(missing) succeeded")
	}
}

func TestRepository_IsAncestor(t *testing.T) {
	t.Parallel()

	fixture := testutil.InitGitRepository(t)
	repo := NewRepository(fixture.Dir)
	ctx := context.Background()

	tests := []struct {
		name       string
		ancestor   string
		descendant string
		want       bool
	}{
		{"first main commit reaches tip", fixture.Main[0], "refs/heads/main", true},
		{"tip reaches itself", fixture.MainTip(), "refs/heads/main", true},
		{"feature commit is not on main", fixture.Feature, "refs/heads/main", false},
		{"main tip is not on feature", fixture.MainTip(), "refs/heads/feature", false},
		{"fork point is on feature", fixture.Main[0], "refs/heads/feature", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := repo.IsAncestor(ctx, test.ancestor, test.descendant)
			if err != nil {
				t.Fatalf("IsAncestor: %v", err)
			}
			if got != test.want {
				t.Errorf("IsAncestor(%s, %s) = %v, want %v", test.ancestor, test.descendant, got, test.want)
			}
		})
	}

	_, err := repo.IsAncestor(ctx, strings.Repeat("f", 40), "refs/heads/main")
	if err == nil {
		t.Error("IsAncestor with an unknown commit should fail, not report false")
	}
}

func TestRepository_Run_NonexistentDirectory(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/tmp/nonexistent-git-repo-abcxyz")
	_, err := repo.Run(context.Background(), "status")
	if err == nil {
		t.Fatal("expected error for nonexistent directory")
	}
	if !strings.Contains(err.Error(), "/tmp/nonexistent-git-repo-abcxyz") {
		t.Errorf("error = %v, want to contain the repository dir", err)
	}
}

func TestRepository_Command(t *testing.T) {
	t.Parallel()

	command := NewRepository("/some/dir").Command(context.Background(), "merge-base", "--is-ancestor", "a", "b")
	want := []string{"git", "-C", "/some/dir", "merge-base", "--is-ancestor", "a", "b"}
	if strings.Join(command.Args, " ") != strings.Join(want, " ") {
		t.Errorf("Args = %v, want %v", command.Args, want)
	}
}
