// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package steplog archives the combined stdout and stderr of each step
// a worker runs.
//
// One file is written per leaf step, named after the step's address
// and name ("1.0-lint.log.zst"). Files are compressed as they are
// written, with zstd (better ratio, the default for build output) or
// LZ4 (cheaper CPU), or left as plain text. [Open] picks the
// decompressor from the file extension.
package steplog
