// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration shared by the bureau-ci
// orchestrator and worker.
//
// Configuration comes from a single file named by either the
// BUREAU_CI_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no fallback file.
//
// The file may contain development, staging and production sections
// that override base values when [Config].Environment matches.
// Production without an explicit section gets zstd step logs and a
// loopback-only admin listener.
//
// After loading, ${HOME}, ${BUREAU_CI_ROOT} and ${VAR:-default}
// patterns are expanded in path fields. No other environment
// variables override config values.
package config
