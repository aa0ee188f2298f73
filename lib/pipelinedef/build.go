// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/bureau-foundation/bureau-ci/lib/action"
	"github.com/bureau-foundation/bureau-ci/lib/jobcontext"
)

// ValidationError carries the issues that stopped Build.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid pipeline (%d issues): %s", len(e.Issues), strings.Join(e.Issues, "; "))
}

// Build validates definition and converts its steps to an action tree.
// Run steps become leaves whose "run" parameter holds the command.
func Build(definition *Definition) (action.Tree, error) {
	if issues := Validate(definition); len(issues) > 0 {
		return action.Tree{}, &ValidationError{Issues: issues}
	}
	return action.NewTree(buildSteps(definition.Steps)...), nil
}

func buildSteps(steps []Step) []action.Action {
	actions := make([]action.Action, len(steps))
	for index, step := range steps {
		actions[index] = buildStep(step)
	}
	return actions
}

func buildStep(step Step) action.Action {
	switch {
	case step.Sequential != nil:
		return action.NewSequential(step.Name, buildSteps(step.Sequential)...)
	case step.Parallel != nil:
		return action.NewParallel(step.Name, buildSteps(step.Parallel)...)
	default:
		params := maps.Clone(step.Params)
		if params == nil {
			params = make(map[string]string, 1)
		}
		params[action.ParamRun] = step.Run
		return action.NewLeaf(step.Name, params, step.Env)
	}
}

// Services converts the definition's sidecars to job context specs.
func Services(definition *Definition) []jobcontext.ServiceSpec {
	specs := make([]jobcontext.ServiceSpec, 0, len(definition.Services))
	for _, service := range definition.Services {
		specs = append(specs, jobcontext.ServiceSpec{
			Name:           service.Name,
			Image:          service.Image,
			Command:        service.Command,
			Arguments:      service.Args,
			Env:            service.Env,
			ReadinessCheck: service.Ready,
		})
	}
	return specs
}

// Timeout returns the definition's timeout, or fallback when none is
// set. Call after Validate; an unparseable timeout also yields
// fallback.
func Timeout(definition *Definition, fallback time.Duration) time.Duration {
	if definition.Timeout == "" {
		return fallback
	}
	timeout, err := time.ParseDuration(definition.Timeout)
	if err != nil || timeout <= 0 {
		return fallback
	}
	return timeout
}
