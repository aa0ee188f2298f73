// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/bureau-ci/lib/action"
)

// Validate checks a Definition for structural issues and returns them
// as human-readable descriptions. An empty result means Build will
// succeed.
//
// Checks:
//   - at least one top-level step
//   - every step has a name, unique among its siblings
//   - every step sets exactly one of run, sequential or parallel
//   - groups are non-empty; env and params appear only on run steps
//   - params do not use the reserved "run" key
//   - timeout, when present, is a positive duration
//   - services have unique names and a command or image
func Validate(definition *Definition) []string {
	var issues []string

	if len(definition.Steps) == 0 {
		issues = append(issues, "pipeline has no steps (at least one step is required)")
	}
	issues = append(issues, validateSteps(definition.Steps, "steps")...)

	if definition.Timeout != "" {
		timeout, err := time.ParseDuration(definition.Timeout)
		switch {
		case err != nil:
			issues = append(issues, fmt.Sprintf("invalid timeout %q: %v", definition.Timeout, err))
		case timeout <= 0:
			issues = append(issues, fmt.Sprintf("timeout must be positive, got %q", definition.Timeout))
		}
	}

	serviceNames := make(map[string]int, len(definition.Services))
	for index, service := range definition.Services {
		prefix := fmt.Sprintf("services[%d]", index)
		if service.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
		} else {
			prefix = fmt.Sprintf("%s %q", prefix, service.Name)
			if first, exists := serviceNames[service.Name]; exists {
				issues = append(issues, fmt.Sprintf("%s: duplicate service name (first used at services[%d])", prefix, first))
			} else {
				serviceNames[service.Name] = index
			}
		}
		if service.Command == "" && service.Image == "" {
			issues = append(issues, fmt.Sprintf("%s: command or image is required", prefix))
		}
	}

	return issues
}

func validateSteps(steps []Step, listPrefix string) []string {
	var issues []string
	names := make(map[string]int, len(steps))
	for index, step := range steps {
		prefix := fmt.Sprintf("%s[%d]", listPrefix, index)
		if step.Name != "" {
			prefix = fmt.Sprintf("%s %q", prefix, step.Name)
			if first, exists := names[step.Name]; exists {
				issues = append(issues, fmt.Sprintf("%s: duplicate step name (first used at %s[%d])", prefix, listPrefix, first))
			} else {
				names[step.Name] = index
			}
		}
		issues = append(issues, validateStep(step, prefix)...)
	}
	return issues
}

func validateStep(step Step, prefix string) []string {
	var issues []string

	if step.Name == "" {
		issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
	}

	hasRun := step.Run != ""
	hasSequential := step.Sequential != nil
	hasParallel := step.Parallel != nil

	kinds := 0
	for _, set := range []bool{hasRun, hasSequential, hasParallel} {
		if set {
			kinds++
		}
	}
	switch {
	case kinds > 1:
		issues = append(issues, fmt.Sprintf("%s: run, sequential, and parallel are mutually exclusive (set exactly one)", prefix))
	case kinds == 0:
		issues = append(issues, fmt.Sprintf("%s: must set exactly one of run, sequential, or parallel", prefix))
	}

	if !hasRun {
		if len(step.Env) > 0 {
			issues = append(issues, fmt.Sprintf("%s: env is only valid on run steps", prefix))
		}
		if len(step.Params) > 0 {
			issues = append(issues, fmt.Sprintf("%s: params are only valid on run steps", prefix))
		}
	}
	if _, reserved := step.Params[action.ParamRun]; reserved {
		issues = append(issues, fmt.Sprintf("%s: params key %q is reserved for the run command", prefix, action.ParamRun))
	}

	if hasSequential {
		if len(step.Sequential) == 0 {
			issues = append(issues, fmt.Sprintf("%s: sequential group has no steps", prefix))
		}
		issues = append(issues, validateSteps(step.Sequential, prefix+".sequential")...)
	}
	if hasParallel {
		if len(step.Parallel) == 0 {
			issues = append(issues, fmt.Sprintf("%s: parallel group has no steps", prefix))
		}
		issues = append(issues, validateSteps(step.Parallel, prefix+".parallel")...)
	}

	return issues
}
