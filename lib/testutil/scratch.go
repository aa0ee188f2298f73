// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
)

var sequence atomic.Uint64

// UniqueID returns prefix-N with N unique within the test binary.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, sequence.Add(1))
}

// SocketDir returns a fresh directory under /tmp for Unix sockets,
// removed at cleanup. t.TempDir paths can overflow the 108 byte
// sun_path limit on deep TMPDIRs.
func SocketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "bureau-ci-")
	if err != nil {
		t.Fatalf("socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}
