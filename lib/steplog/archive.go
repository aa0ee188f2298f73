// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package steplog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/bureau-ci/lib/action"
)

// Archive writes step logs into one directory.
type Archive struct {
	dir         string
	compression Compression
}

// NewArchive creates dir if needed and returns an archive writing
// into it.
func NewArchive(dir string, compression Compression) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating step log directory: %w", err)
	}
	return &Archive{dir: dir, compression: compression}, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.dir }

var unsafeNameCharacters = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns the archive file name for a step.
func (a *Archive) FileName(path action.Path, stepName string) string {
	name := strings.Trim(unsafeNameCharacters.ReplaceAllString(stepName, "_"), "_")
	if name == "" {
		name = "step"
	}
	address := path.String()
	if address == "" {
		address = "root"
	}
	return address + "-" + name + ".log" + a.compression.Extension()
}

// Create opens a new log for the step, truncating any previous one.
func (a *Archive) Create(path action.Path, stepName string) (*Writer, error) {
	filePath := filepath.Join(a.dir, a.FileName(path, stepName))
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating step log: %w", err)
	}

	writer := &Writer{file: file, path: filePath}
	switch a.compression {
	case CompressionNone:
	case CompressionLZ4:
		writer.stream = lz4.NewWriter(file)
	case CompressionZstd:
		encoder, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		writer.stream = encoder
	default:
		file.Close()
		return nil, fmt.Errorf("unsupported log compression %s", a.compression)
	}
	return writer, nil
}

// Writer is one step's log. It may be shared by a command's stdout and
// stderr; writes are serialized.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	stream  io.WriteCloser
	path    string
	written int64
	closed  bool
}

// Write appends p to the log.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	var target io.Writer = w.file
	if w.stream != nil {
		target = w.stream
	}
	n, err := target.Write(p)
	w.written += int64(n)
	return n, err
}

// Close flushes the compressor and closes the file. Closing twice is a
// no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var streamErr error
	if w.stream != nil {
		streamErr = w.stream.Close()
	}
	fileErr := w.file.Close()
	if streamErr != nil {
		return fmt.Errorf("flushing step log %s: %w", w.path, streamErr)
	}
	return fileErr
}

// Path returns the log file's path.
func (w *Writer) Path() string { return w.path }

// Written returns the uncompressed bytes written so far.
func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Open returns the decompressed contents of a step log written by an
// Archive.
func Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, CompressionZstd.Extension()):
		decoder, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("opening zstd step log: %w", err)
		}
		return &decodedLog{Reader: decoder.IOReadCloser(), file: file}, nil
	case strings.HasSuffix(path, CompressionLZ4.Extension()):
		return &decodedLog{Reader: lz4.NewReader(file), file: file}, nil
	default:
		return file, nil
	}
}

type decodedLog struct {
	io.Reader
	file *os.File
}

func (d *decodedLog) Close() error {
	if closer, ok := d.Reader.(io.Closer); ok {
		closer.Close()
	}
	return d.file.Close()
}
