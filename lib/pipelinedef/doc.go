// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipelinedef reads pipeline definitions from disk and turns
// them into the action trees and service specs a job context carries.
//
// Definitions are authored either as JSONC (JSON with comments and
// trailing commas) or YAML:
//
//	// ci.jsonc
//	{
//	  "timeout": "20m",
//	  "services": [{"name": "db", "command": "postgres", "ready": "pg_isready"}],
//	  "steps": [
//	    {"name": "fetch", "run": "make deps"},
//	    {"name": "checks", "parallel": [
//	      {"name": "lint", "run": "make lint"},
//	      {"name": "test", "run": "make test", "env": {"CGO_ENABLED": "0"}},
//	    ]},
//	  ],
//	}
//
// The typical flow:
//
//  1. ReadFile or Parse: bytes → Definition
//  2. Validate: structural checks, returned as human-readable issues
//  3. Build: Definition → action.Tree, plus Services and Timeout for
//     the remaining job context fields
package pipelinedef
