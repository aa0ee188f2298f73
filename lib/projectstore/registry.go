// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package projectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/bureau-ci/lib/git"
	"github.com/bureau-foundation/bureau-ci/lib/sqlitepool"
	"github.com/bureau-foundation/bureau-ci/lib/trust"
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS projects (
	id             INTEGER PRIMARY KEY,
	path           TEXT NOT NULL UNIQUE,
	parent_id      INTEGER REFERENCES projects(id),
	git_dir        TEXT NOT NULL,
	default_branch TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS projects_parent ON projects(parent_id);

CREATE TABLE IF NOT EXISTS submit_sequences (
	project_id    INTEGER PRIMARY KEY REFERENCES projects(id),
	last_sequence INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS builds (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id      INTEGER NOT NULL REFERENCES projects(id),
	submit_sequence INTEGER NOT NULL,
	ref_name        TEXT NOT NULL,
	commit_id       TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	status          TEXT NOT NULL DEFAULT '',
	UNIQUE (project_id, submit_sequence)
);
`

// Record is one row of the project registry.
type Record struct {
	ID int64
	// Path is the project's full path, e.g. "platform/ci-tools".
	Path string
	// ParentID is zero for top-level projects.
	ParentID      int64
	GitDir        string
	DefaultBranch string
}

// Registry is the SQLite-backed project registry. It implements
// trust.ProjectStore and the job queue's submit sequencer.
type Registry struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// OpenRegistry opens (creating if needed) the registry database at
// path. The caller must Close the registry.
func OpenRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Schema: registrySchema,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening project registry: %w", err)
	}
	return &Registry{pool: pool, logger: logger}, nil
}

// Close closes the underlying pool.
func (r *Registry) Close() error {
	return r.pool.Close()
}

// AddProject inserts record and returns its ID. A zero record.ID lets
// SQLite assign one. The parent, when set, must already exist.
func (r *Registry) AddProject(ctx context.Context, record Record) (id int64, err error) {
	if record.Path == "" || record.GitDir == "" || record.DefaultBranch == "" {
		return 0, fmt.Errorf("project %q: path, git dir and default branch are required", record.Path)
	}

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer r.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("project registry: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if record.ParentID != 0 {
		if _, err := lookup(conn, "WHERE id = ?", record.ParentID); err != nil {
			return 0, fmt.Errorf("parent of %q: %w", record.Path, err)
		}
	}

	var explicitID, parentID any
	if record.ID != 0 {
		explicitID = record.ID
	}
	if record.ParentID != 0 {
		parentID = record.ParentID
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO projects (id, path, parent_id, git_dir, default_branch) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{explicitID, record.Path, parentID, record.GitDir, record.DefaultBranch}})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique || sqlite.ErrCode(err) == sqlite.ResultConstraintPrimaryKey {
			return 0, fmt.Errorf("%w: %q", ErrDuplicateProject, record.Path)
		}
		return 0, fmt.Errorf("inserting project %q: %w", record.Path, err)
	}

	id = conn.LastInsertRowID()
	r.logger.Info("project registered", "project_id", id, "path", record.Path, "parent_id", record.ParentID)
	return id, nil
}

// SetDefaultBranch changes which branch a project trusts.
func (r *Registry) SetDefaultBranch(ctx context.Context, projectID int64, branch string) error {
	return r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE projects SET default_branch = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{branch, projectID}})
		if err != nil {
			return fmt.Errorf("updating project %d: %w", projectID, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
		}
		return nil
	})
}

// Lookup returns the record for projectID.
func (r *Registry) Lookup(ctx context.Context, projectID int64) (record Record, err error) {
	err = r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		record, err = lookup(conn, "WHERE id = ?", projectID)
		return err
	})
	return record, err
}

// ByPath returns the record registered under path.
func (r *Registry) ByPath(ctx context.Context, path string) (record Record, err error) {
	err = r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		record, err = lookup(conn, "WHERE path = ?", path)
		return err
	})
	return record, err
}

// List returns every project ordered by path.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectRecord+" ORDER BY path", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				records = append(records, scanRecord(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return records, nil
}

// Load implements trust.ProjectStore.
func (r *Registry) Load(ctx context.Context, projectID int64) (trust.Project, error) {
	if _, err := r.Lookup(ctx, projectID); err != nil {
		return nil, err
	}
	return &registryProject{registry: r, id: projectID}, nil
}

// Next returns the next submit sequence for projectID, starting at 1.
// Sequences are persisted, so they keep increasing across restarts.
func (r *Registry) Next(ctx context.Context, projectID int64) (int64, error) {
	var sequence int64
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		var err error
		sequence, err = nextSequence(conn, projectID)
		return err
	})
	return sequence, err
}

func nextSequence(conn *sqlite.Conn, projectID int64) (int64, error) {
	var sequence int64
	err := sqlitex.Execute(conn, `
		INSERT INTO submit_sequences (project_id, last_sequence) VALUES (?, 1)
		ON CONFLICT (project_id) DO UPDATE SET last_sequence = last_sequence + 1
		RETURNING last_sequence`,
		&sqlitex.ExecOptions{
			Args: []any{projectID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sequence = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintForeignKey {
			return 0, fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
		}
		return 0, fmt.Errorf("allocating submit sequence for project %d: %w", projectID, err)
	}
	return sequence, nil
}

// BuildRecord is one row of the builds table.
type BuildRecord struct {
	ID             int64
	ProjectID      int64
	SubmitSequence int64
	RefName        string
	CommitID       string
	CreatedAt      time.Time
	// Status is empty until FinishBuild records an outcome.
	Status string
}

// CreateBuild records a build holding a submit sequence the caller
// already allocated, normally from Next. A sequence can back at most
// one build per project.
func (r *Registry) CreateBuild(ctx context.Context, projectID, sequence int64, refName, commitID string, createdAt time.Time) (BuildRecord, error) {
	if sequence <= 0 {
		return BuildRecord{}, fmt.Errorf("creating build for project %d: invalid submit sequence %d", projectID, sequence)
	}

	var buildID int64
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO builds (project_id, submit_sequence, ref_name, commit_id, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{projectID, sequence, refName, commitID, createdAt.UnixNano()}})
		switch sqlite.ErrCode(err) {
		case sqlite.ResultOK:
			buildID = conn.LastInsertRowID()
			return nil
		case sqlite.ResultConstraintForeignKey:
			return fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
		case sqlite.ResultConstraintUnique:
			return fmt.Errorf("%w: project %d sequence %d", ErrSequenceTaken, projectID, sequence)
		default:
			return fmt.Errorf("inserting build for project %d: %w", projectID, err)
		}
	})
	if err != nil {
		return BuildRecord{}, err
	}

	return BuildRecord{
		ID:             buildID,
		ProjectID:      projectID,
		SubmitSequence: sequence,
		RefName:        refName,
		CommitID:       commitID,
		CreatedAt:      createdAt,
	}, nil
}

// FinishBuild records the outcome of a build.
func (r *Registry) FinishBuild(ctx context.Context, buildID int64, status string) error {
	return r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE builds SET status = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{status, buildID}})
		if err != nil {
			return fmt.Errorf("updating build %d: %w", buildID, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("build %d not found", buildID)
		}
		return nil
	})
}

// Build returns one build by ID.
func (r *Registry) Build(ctx context.Context, buildID int64) (BuildRecord, error) {
	var build BuildRecord
	found := false
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, project_id, submit_sequence, ref_name, commit_id, created_at, status
			FROM builds WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{buildID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					build = BuildRecord{
						ID:             stmt.ColumnInt64(0),
						ProjectID:      stmt.ColumnInt64(1),
						SubmitSequence: stmt.ColumnInt64(2),
						RefName:        stmt.ColumnText(3),
						CommitID:       stmt.ColumnText(4),
						CreatedAt:      time.Unix(0, stmt.ColumnInt64(5)).UTC(),
						Status:         stmt.ColumnText(6),
					}
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return BuildRecord{}, fmt.Errorf("querying build %d: %w", buildID, err)
	}
	if !found {
		return BuildRecord{}, fmt.Errorf("build %d not found", buildID)
	}
	return build, nil
}

const selectRecord = `SELECT id, path, parent_id, git_dir, default_branch FROM projects`

func lookup(conn *sqlite.Conn, where string, arg any) (Record, error) {
	var record Record
	found := false
	err := sqlitex.Execute(conn, selectRecord+" "+where, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record = scanRecord(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return Record{}, fmt.Errorf("querying project %v: %w", arg, err)
	}
	if !found {
		return Record{}, fmt.Errorf("%w: %v", ErrProjectNotFound, arg)
	}
	return record, nil
}

func scanRecord(stmt *sqlite.Stmt) Record {
	record := Record{
		ID:            stmt.ColumnInt64(0),
		Path:          stmt.ColumnText(1),
		GitDir:        stmt.ColumnText(3),
		DefaultBranch: stmt.ColumnText(4),
	}
	if stmt.ColumnType(2) != sqlite.TypeNull {
		record.ParentID = stmt.ColumnInt64(2)
	}
	return record
}

// registryProject re-reads its row on every question so that moved
// default branches and git directories take effect immediately.
type registryProject struct {
	registry *Registry
	id       int64
}

func (p *registryProject) ID() int64 { return p.id }

func (p *registryProject) IsCommitOnDefaultBranch(ctx context.Context, commitID string) (bool, error) {
	record, err := p.registry.Lookup(ctx, p.id)
	if err != nil {
		return false, err
	}
	repository := git.NewRepository(record.GitDir)
	tip, err := repository.ResolveCommit(ctx, "refs/heads/"+record.DefaultBranch)
	if err != nil {
		return false, fmt.Errorf("project %q default branch: %w", record.Path, err)
	}
	return repository.IsAncestor(ctx, commitID, tip)
}

const lineageQuery = `
WITH RECURSIVE lineage(id) AS (
	SELECT ?1
	UNION
	SELECT projects.parent_id FROM projects
	JOIN lineage ON projects.id = lineage.id
	WHERE projects.parent_id IS NOT NULL
)
SELECT EXISTS (SELECT 1 FROM lineage WHERE id = ?2)`

func (p *registryProject) IsSelfOrDescendantOf(ctx context.Context, other trust.Project) (bool, error) {
	if other == nil {
		return false, errors.New("nil project")
	}
	var inLineage bool
	err := p.registry.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, lineageQuery, &sqlitex.ExecOptions{
			Args: []any{p.id, other.ID()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				inLineage = stmt.ColumnBool(0)
				return nil
			},
		})
	})
	if err != nil {
		return false, fmt.Errorf("walking hierarchy of project %d: %w", p.id, err)
	}
	return inLineage, nil
}
