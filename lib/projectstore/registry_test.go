// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package projectstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/bureau-ci/lib/jobqueue"
	"github.com/bureau-foundation/bureau-ci/lib/testutil"
)

var _ jobqueue.Sequencer = (*Registry)(nil)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := OpenRegistry(filepath.Join(t.TempDir(), "registry.db"), nil)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	t.Cleanup(func() {
		if err := registry.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return registry
}

func mustAddProject(t *testing.T, registry *Registry, record Record) int64 {
	t.Helper()
	id, err := registry.AddProject(context.Background(), record)
	if err != nil {
		t.Fatalf("AddProject(%q): %v", record.Path, err)
	}
	return id
}

func TestRegistryAddAndLookup(t *testing.T) {
	t.Parallel()
	registry := openTestRegistry(t)
	ctx := context.Background()

	org := mustAddProject(t, registry, Record{Path: "org", GitDir: "/srv/git/org", DefaultBranch: "main"})
	team := mustAddProject(t, registry, Record{Path: "org/team", ParentID: org, GitDir: "/srv/git/team", DefaultBranch: "trunk"})

	record, err := registry.Lookup(ctx, team)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	want := Record{ID: team, Path: "org/team", ParentID: org, GitDir: "/srv/git/team", DefaultBranch: "trunk"}
	if record != want {
		t.Errorf("Lookup = %+v, want %+v", record, want)
	}

	byPath, err := registry.ByPath(ctx, "org")
	if err != nil {
		t.Fatalf("ByPath: %v", err)
	}
	if byPath.ID != org || byPath.ParentID != 0 {
		t.Errorf("ByPath(org) = %+v, want id %d with no parent", byPath, org)
	}

	records, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 || records[0].Path != "org" || records[1].Path != "org/team" {
		t.Errorf("List = %+v, want [org org/team]", records)
	}
}

func TestRegistryRejectsDuplicatesAndOrphans(t *testing.T) {
	t.Parallel()
	registry := openTestRegistry(t)
	ctx := context.Background()

	mustAddProject(t, registry, Record{ID: 7, Path: "org", GitDir: "/g", DefaultBranch: "main"})

	if _, err := registry.AddProject(ctx, Record{Path: "org", GitDir: "/g", DefaultBranch: "main"}); !errors.Is(err, ErrDuplicateProject) {
		t.Errorf("duplicate path: err = %v, want ErrDuplicateProject", err)
	}
	if _, err := registry.AddProject(ctx, Record{ID: 7, Path: "other", GitDir: "/g", DefaultBranch: "main"}); !errors.Is(err, ErrDuplicateProject) {
		t.Errorf("duplicate id: err = %v, want ErrDuplicateProject", err)
	}
	if _, err := registry.AddProject(ctx, Record{Path: "orphan", ParentID: 99, GitDir: "/g", DefaultBranch: "main"}); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("missing parent: err = %v, want ErrProjectNotFound", err)
	}
	if _, err := registry.AddProject(ctx, Record{Path: "incomplete"}); err == nil {
		t.Error("AddProject without git dir succeeded")
	}
	if _, err := registry.Load(ctx, 99); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("Load(99): err = %v, want ErrProjectNotFound", err)
	}
}

func TestRegistryHierarchy(t *testing.T) {
	t.Parallel()
	registry := openTestRegistry(t)
	ctx := context.Background()

	org := mustAddProject(t, registry, Record{Path: "org", GitDir: "/g", DefaultBranch: "main"})
	team := mustAddProject(t, registry, Record{Path: "org/team", ParentID: org, GitDir: "/g", DefaultBranch: "main"})
	service := mustAddProject(t, registry, Record{Path: "org/team/svc", ParentID: team, GitDir: "/g", DefaultBranch: "main"})
	sibling := mustAddProject(t, registry, Record{Path: "org/other", ParentID: org, GitDir: "/g", DefaultBranch: "main"})

	for _, test := range []struct {
		name           string
		self, ancestor int64
		want           bool
	}{
		{"self", team, team, true},
		{"child", service, team, true},
		{"grandchild", service, org, true},
		{"parent", org, team, false},
		{"sibling", sibling, team, false},
	} {
		t.Run(test.name, func(t *testing.T) {
			self, err := registry.Load(ctx, test.self)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			ancestor, err := registry.Load(ctx, test.ancestor)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			got, err := self.IsSelfOrDescendantOf(ctx, ancestor)
			if err != nil {
				t.Fatalf("IsSelfOrDescendantOf: %v", err)
			}
			if got != test.want {
				t.Errorf("IsSelfOrDescendantOf = %v, want %v", got, test.want)
			}
		})
	}
}

func TestRegistrySubmitSequence(t *testing.T) {
	t.Parallel()
	registry := openTestRegistry(t)
	ctx := context.Background()

	first := mustAddProject(t, registry, Record{Path: "a", GitDir: "/g", DefaultBranch: "main"})
	second := mustAddProject(t, registry, Record{Path: "b", GitDir: "/g", DefaultBranch: "main"})

	var previous int64
	for range 5 {
		sequence, err := registry.Next(ctx, first)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if sequence <= previous {
			t.Fatalf("sequence %d not greater than previous %d", sequence, previous)
		}
		previous = sequence
	}

	sequence, err := registry.Next(ctx, second)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if sequence != 1 {
		t.Errorf("first sequence of second project = %d, want 1", sequence)
	}

	if _, err := registry.Next(ctx, 404); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("Next(404): err = %v, want ErrProjectNotFound", err)
	}
}

func TestRegistryNextConcurrent(t *testing.T) {
	t.Parallel()
	registry := openTestRegistry(t)
	ctx := context.Background()
	project := mustAddProject(t, registry, Record{Path: "a", GitDir: "/g", DefaultBranch: "main"})

	const goroutines, perGoroutine = 8, 20
	results := make(chan int64, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var previous int64
			for range perGoroutine {
				sequence, err := registry.Next(ctx, project)
				if err != nil {
					t.Errorf("Next: %v", err)
					return
				}
				if sequence <= previous {
					t.Errorf("sequence %d not greater than %d seen earlier by the same caller", sequence, previous)
				}
				previous = sequence
				results <- sequence
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for sequence := range results {
		if seen[sequence] {
			t.Fatalf("sequence %d issued twice", sequence)
		}
		seen[sequence] = true
	}
	if len(seen) != goroutines*perGoroutine {
		t.Errorf("issued %d distinct sequences, want %d", len(seen), goroutines*perGoroutine)
	}
}

func TestRegistrySequenceSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	registry, err := OpenRegistry(path, nil)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	id := mustAddProject(t, registry, Record{Path: "a", GitDir: "/g", DefaultBranch: "main"})
	for range 3 {
		if _, err := registry.Next(ctx, id); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if err := registry.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenRegistry(path, nil)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()
	sequence, err := reopened.Next(ctx, id)
	if err != nil {
		t.Fatalf("Next after reopen: %v", err)
	}
	if sequence != 4 {
		t.Errorf("sequence after reopen = %d, want 4", sequence)
	}
}

func TestRegistryDefaultBranchAgainstGit(t *testing.T) {
	t.Parallel()
	repository := testutil.InitGitRepository(t)
	registry := openTestRegistry(t)
	ctx := context.Background()

	id := mustAddProject(t, registry, Record{Path: "repo", GitDir: repository.Dir, DefaultBranch: "main"})
	project, err := registry.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, test := range []struct {
		name   string
		commit string
		want   bool
	}{
		{"tip", repository.MainTip(), true},
		{"history", repository.Main[0], true},
		{"feature", repository.Feature, false},
	} {
		got, err := project.IsCommitOnDefaultBranch(ctx, test.commit)
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if got != test.want {
			t.Errorf("%s: IsCommitOnDefaultBranch = %v, want %v", test.name, got, test.want)
		}
	}

	// Trusting the feature branch instead flips the answers without
	// reloading the project.
	if err := registry.SetDefaultBranch(ctx, id, "feature"); err != nil {
		t.Fatalf("SetDefaultBranch: %v", err)
	}
	got, err := project.IsCommitOnDefaultBranch(ctx, repository.Feature)
	if err != nil || !got {
		t.Errorf("feature commit after switching default = (%v, %v), want (true, nil)", got, err)
	}
	got, err = project.IsCommitOnDefaultBranch(ctx, repository.MainTip())
	if err != nil || got {
		t.Errorf("main tip after switching default = (%v, %v), want (false, nil)", got, err)
	}
}

func TestRegistryMissingBranchIsError(t *testing.T) {
	t.Parallel()
	repository := testutil.InitGitRepository(t)
	registry := openTestRegistry(t)
	ctx := context.Background()

	id := mustAddProject(t, registry, Record{Path: "repo", GitDir: repository.Dir, DefaultBranch: "release"})
	project, err := registry.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := project.IsCommitOnDefaultBranch(ctx, repository.MainTip()); err == nil {
		t.Error("IsCommitOnDefaultBranch with missing default branch returned no error")
	}
}

func TestRegistryBuilds(t *testing.T) {
	t.Parallel()
	registry := openTestRegistry(t)
	ctx := context.Background()
	project := mustAddProject(t, registry, Record{Path: "a", GitDir: "/g", DefaultBranch: "main"})
	createdAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	createBuild := func(commitID string) BuildRecord {
		t.Helper()
		sequence, err := registry.Next(ctx, project)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		build, err := registry.CreateBuild(ctx, project, sequence, "refs/heads/main", commitID, createdAt)
		if err != nil {
			t.Fatalf("CreateBuild: %v", err)
		}
		return build
	}
	first := createBuild("abc")
	second := createBuild("def")
	if second.ID <= first.ID {
		t.Errorf("build ids not increasing: %d then %d", first.ID, second.ID)
	}
	if first.SubmitSequence != 1 || second.SubmitSequence != 2 {
		t.Errorf("sequences = %d, %d; want 1, 2", first.SubmitSequence, second.SubmitSequence)
	}

	// A sequence backs one build.
	if _, err := registry.CreateBuild(ctx, project, second.SubmitSequence, "refs/heads/main", "ghi", createdAt); !errors.Is(err, ErrSequenceTaken) {
		t.Errorf("reusing sequence %d: err = %v, want ErrSequenceTaken", second.SubmitSequence, err)
	}
	if _, err := registry.CreateBuild(ctx, project, 0, "refs/heads/main", "ghi", createdAt); err == nil {
		t.Error("CreateBuild with sequence 0 succeeded")
	}

	if err := registry.FinishBuild(ctx, first.ID, "success"); err != nil {
		t.Fatalf("FinishBuild: %v", err)
	}
	stored, err := registry.Build(ctx, first.ID)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !stored.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt = %v, want %v", stored.CreatedAt, createdAt)
	}
	want := first
	want.Status = "success"
	stored.CreatedAt = want.CreatedAt
	if stored != want {
		t.Errorf("Build(%d) = %+v, want %+v", first.ID, stored, want)
	}

	if _, err := registry.CreateBuild(ctx, 404, 1, "refs/heads/main", "abc", createdAt); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("CreateBuild(404): err = %v, want ErrProjectNotFound", err)
	}
	if err := registry.FinishBuild(ctx, 9999, "success"); err == nil {
		t.Error("FinishBuild of unknown build succeeded")
	}
}
