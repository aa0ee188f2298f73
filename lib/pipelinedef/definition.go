// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

// Definition is a parsed pipeline file.
type Definition struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Timeout bounds the whole job, in time.ParseDuration syntax. Empty
	// means the orchestrator's default.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Services []Service `json:"services,omitempty" yaml:"services,omitempty"`
	Steps    []Step    `json:"steps" yaml:"steps"`
}

// Step is one entry of a step list. Exactly one of Run, Sequential or
// Parallel is set: Run makes the step a leaf, the others make it a
// group of nested steps.
type Step struct {
	Name string `json:"name" yaml:"name"`

	Run    string            `json:"run,omitempty" yaml:"run,omitempty"`
	Env    map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`

	Sequential []Step `json:"sequential,omitempty" yaml:"sequential,omitempty"`
	Parallel   []Step `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// Service is a sidecar started before the first step.
type Service struct {
	Name    string            `json:"name" yaml:"name"`
	Image   string            `json:"image,omitempty" yaml:"image,omitempty"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Ready is a shell command that exits zero once the service
	// accepts work. Empty means ready as soon as it starts.
	Ready string `json:"ready,omitempty" yaml:"ready,omitempty"`
}
