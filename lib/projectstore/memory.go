// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package projectstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/bureau-ci/lib/trust"
)

// Memory is an in-memory trust.ProjectStore. Mutations and reads may
// run concurrently; a project loaded earlier observes later mutations.
type Memory struct {
	mu       sync.RWMutex
	projects map[int64]*memoryRecord
	// commits maps a commit ID to its parent commit IDs.
	commits map[string][]string
}

type memoryRecord struct {
	parent        int64
	defaultBranch string
	branches      map[string]string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[int64]*memoryRecord),
		commits:  make(map[string][]string),
	}
}

// AddProject registers a project. parent is zero for a top-level
// project and must already be registered otherwise, so the hierarchy
// cannot contain cycles.
func (m *Memory) AddProject(id, parent int64, defaultBranch string) error {
	if id == 0 {
		return errors.New("project id must be non-zero")
	}
	if defaultBranch == "" {
		return fmt.Errorf("project %d: default branch is required", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[id]; exists {
		return fmt.Errorf("%w: id %d", ErrDuplicateProject, id)
	}
	if parent != 0 {
		if _, exists := m.projects[parent]; !exists {
			return fmt.Errorf("parent of %d: %w: %d", id, ErrProjectNotFound, parent)
		}
	}
	m.projects[id] = &memoryRecord{
		parent:        parent,
		defaultBranch: defaultBranch,
		branches:      make(map[string]string),
	}
	return nil
}

// AddCommit records a commit and its parents. Parents must have been
// added first. Re-adding a commit replaces its parent list.
func (m *Memory) AddCommit(commitID string, parents ...string) error {
	if commitID == "" {
		return errors.New("commit id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, parent := range parents {
		if _, exists := m.commits[parent]; !exists {
			return fmt.Errorf("parent of %s: %w: %s", commitID, ErrUnknownCommit, parent)
		}
	}
	m.commits[commitID] = append([]string(nil), parents...)
	return nil
}

// SetBranch points a project's branch at commitID. Moving the default
// branch to a commit that does not descend from its previous tip models
// a force-push.
func (m *Memory) SetBranch(projectID int64, branch, commitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, exists := m.projects[projectID]
	if !exists {
		return fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
	}
	if _, exists := m.commits[commitID]; !exists {
		return fmt.Errorf("branch %s: %w: %s", branch, ErrUnknownCommit, commitID)
	}
	record.branches[branch] = commitID
	return nil
}

// Load returns a view of the project. The view holds only the ID and
// consults the store on each call.
func (m *Memory) Load(_ context.Context, projectID int64) (trust.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, exists := m.projects[projectID]; !exists {
		return nil, fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
	}
	return &memoryProject{store: m, id: projectID}, nil
}

type memoryProject struct {
	store *Memory
	id    int64
}

func (p *memoryProject) ID() int64 { return p.id }

func (p *memoryProject) IsCommitOnDefaultBranch(_ context.Context, commitID string) (bool, error) {
	m := p.store
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.projects[p.id]
	if !exists {
		return false, fmt.Errorf("%w: %d", ErrProjectNotFound, p.id)
	}
	tip, exists := record.branches[record.defaultBranch]
	if !exists {
		return false, nil
	}
	return m.reachableLocked(tip, commitID), nil
}

// reachableLocked walks the commit graph from tip looking for target.
func (m *Memory) reachableLocked(tip, target string) bool {
	visited := map[string]bool{tip: true}
	queue := []string{tip}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == target {
			return true
		}
		for _, parent := range m.commits[current] {
			if !visited[parent] {
				visited[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return false
}

func (p *memoryProject) IsSelfOrDescendantOf(_ context.Context, other trust.Project) (bool, error) {
	m := p.store
	m.mu.RLock()
	defer m.mu.RUnlock()

	ancestor := other.ID()
	for current := p.id; current != 0; {
		if current == ancestor {
			return true, nil
		}
		record, exists := m.projects[current]
		if !exists {
			return false, fmt.Errorf("%w: %d", ErrProjectNotFound, current)
		}
		current = record.parent
	}
	return false, nil
}
