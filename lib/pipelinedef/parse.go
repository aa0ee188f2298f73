// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format identifies a definition's source syntax.
type Format int

const (
	// FormatJSONC accepts plain JSON as well.
	FormatJSONC Format = iota
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSONC:
		return "jsonc"
	case FormatYAML:
		return "yaml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatFromPath picks the format from a file extension: .json and
// .jsonc are JSONC, .yaml and .yml are YAML.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSONC, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("%s: unrecognized pipeline extension (want .jsonc, .json, .yaml or .yml)", path)
	}
}

// Parse decodes data in the given format. Unknown fields are errors in
// both formats, so a misspelled "paralel" does not silently become an
// empty step.
func Parse(data []byte, format Format) (*Definition, error) {
	var definition Definition
	switch format {
	case FormatJSONC:
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&definition); err != nil {
			return nil, fmt.Errorf("parsing pipeline: %w", err)
		}
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&definition); err != nil {
			return nil, fmt.Errorf("parsing pipeline: %w", err)
		}
	default:
		return nil, fmt.Errorf("parsing pipeline: unsupported format %s", format)
	}
	return &definition, nil
}

// ReadFile reads and parses the definition at path, choosing the format
// from its extension.
func ReadFile(path string) (*Definition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	definition, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return definition, nil
}

// NameFromPath strips the directory and extension from path:
// "ci/pipelines/release.jsonc" becomes "release".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
