// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite connection pool behind the
// orchestrator's project registry.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Every connection is
// prepared with WAL journaling, NORMAL synchronous, a five second busy
// timeout and foreign keys enabled (the registry's parent links are
// enforced by the database). An optional schema script is applied once
// when the pool opens, before any caller can Take a connection.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/bureau-ci/registry.db",
//	    Schema: registrySchema,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Do(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "SELECT ...", &sqlitex.ExecOptions{...})
//	})
//
// Connections are not safe for concurrent use. Each goroutine takes its
// own and returns it.
package sqlitepool
