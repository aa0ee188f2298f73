// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobcontext

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/bureau-ci/lib/action"
	"github.com/bureau-foundation/bureau-ci/lib/codec"
)

func testTree() action.Tree {
	return action.NewTree(
		action.NewLeaf("A", map[string]string{action.ParamRun: "echo A"}, nil),
		action.NewSequential("inner",
			action.NewLeaf("B", map[string]string{action.ParamRun: "echo B"}, nil),
			action.NewLeaf("C", map[string]string{action.ParamRun: "echo C"}, nil),
		),
	)
}

func validParams() Params {
	return Params{
		Token: NewToken(),
		Executor: ExecutorConfig{
			Name:          "linux-small",
			ResourceClass: "small",
			PullPolicy:    "if-not-present",
			Attributes:    map[string]string{"arch": "amd64"},
		},
		Project: ProjectRef{ID: 1, Path: "acme/widgets", GitDir: "/srv/git/acme/widgets.git"},
		Build:   BuildRef{BuildID: 100, BuildNumber: 12, SubmitSequence: 3},
		Ref:     RefPointer{RefName: "refs/heads/main", CommitID: "3f2a9c0d8e7b6a5f4e3d2c1b0a9f8e7d6c5b4a39"},
		Actions: testTree(),
		Services: []ServiceSpec{{
			Name:           "postgres",
			Image:          "postgres:16",
			Env:            map[string]string{"POSTGRES_PASSWORD": "test"},
			ReadinessCheck: "pg_isready -h localhost",
		}},
		Timeout: 30 * time.Minute,
	}
}

func TestNew_MissingBuildID(t *testing.T) {
	t.Parallel()

	params := validParams()
	params.Build.BuildID = 0

	context, err := New(params)
	if context != nil {
		t.Fatal("New returned a context alongside an error")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
	var configurationError *ConfigurationError
	if !errors.As(err, &configurationError) {
		t.Fatalf("error %T is not a *ConfigurationError", err)
	}
	if diff := cmp.Diff([]string{"build id is required"}, configurationError.Problems); diff != "" {
		t.Errorf("Problems mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	_, err := New(Params{Timeout: -time.Second})
	var configurationError *ConfigurationError
	if !errors.As(err, &configurationError) {
		t.Fatalf("error = %v, want *ConfigurationError", err)
	}
	want := []string{
		"job token is required",
		"project id is required",
		"project path is required",
		"build id is required",
		"timeout must be positive (got -1s)",
	}
	if diff := cmp.Diff(want, configurationError.Problems); diff != "" {
		t.Errorf("Problems mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_MandatoryFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"token", func(p *Params) { p.Token = Token{} }},
		{"project id", func(p *Params) { p.Project.ID = 0 }},
		{"project path", func(p *Params) { p.Project.Path = "" }},
		{"build id", func(p *Params) { p.Build.BuildID = 0 }},
		{"zero timeout", func(p *Params) { p.Timeout = 0 }},
		{"negative timeout", func(p *Params) { p.Timeout = -time.Minute }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			params := validParams()
			test.mutate(&params)
			if _, err := New(params); !errors.Is(err, ErrConfiguration) {
				t.Errorf("New error = %v, want ErrConfiguration", err)
			}
		})
	}

	// Executor, ref, actions and services are optional.
	params := validParams()
	params.Executor = ExecutorConfig{}
	params.Ref = RefPointer{}
	params.Actions = action.NewTree()
	params.Services = nil
	if _, err := New(params); err != nil {
		t.Errorf("New with only mandatory fields: %v", err)
	}
}

func TestContext_AccessorsAreStable(t *testing.T) {
	t.Parallel()

	params := validParams()
	context, err := New(params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Mutating the inputs after construction must not reach the
	// context.
	params.Executor.Attributes["arch"] = "arm64"
	params.Services[0].Env["POSTGRES_PASSWORD"] = "changed"
	params.Services[0].Name = "changed"

	// Mutating returned values must not reach the context either.
	context.Executor().Attributes["arch"] = "riscv"
	context.Services()[0].Env["POSTGRES_PASSWORD"] = "changed"

	for range 3 {
		if got := context.Executor().Attributes["arch"]; got != "amd64" {
			t.Errorf("Executor().Attributes[arch] = %q, want amd64", got)
		}
		services := context.Services()
		if services[0].Name != "postgres" || services[0].Env["POSTGRES_PASSWORD"] != "test" {
			t.Errorf("Services() = %+v, changed after construction", services)
		}
		if context.Token() != params.Token {
			t.Error("Token() changed")
		}
		if context.Project() != params.Project {
			t.Errorf("Project() = %+v, want %+v", context.Project(), params.Project)
		}
		if context.Build() != params.Build {
			t.Errorf("Build() = %+v, want %+v", context.Build(), params.Build)
		}
		if context.Ref() != params.Ref {
			t.Errorf("Ref() = %+v, want %+v", context.Ref(), params.Ref)
		}
		if context.Timeout() != 30*time.Minute {
			t.Errorf("Timeout() = %s", context.Timeout())
		}
		if context.Actions().Len() != 2 {
			t.Errorf("Actions().Len() = %d, want 2", context.Actions().Len())
		}
	}
}

func TestContext_Step(t *testing.T) {
	t.Parallel()

	context, err := New(validParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	leaf, err := context.Step(action.Path{1, 0})
	if err != nil {
		t.Fatalf("Step([1,0]): %v", err)
	}
	if leaf.Name() != "B" {
		t.Errorf("Step([1,0]) = %q, want B", leaf.Name())
	}

	if _, err := context.Step(action.Path{1, 5}); !errors.Is(err, action.ErrStepNotFound) {
		t.Errorf("Step([1,5]) error = %v, want ErrStepNotFound", err)
	}
	if _, err := context.Step(action.Path{-1}); !errors.Is(err, action.ErrInvalidPath) {
		t.Errorf("Step([-1]) error = %v, want ErrInvalidPath", err)
	}
}

func TestContext_Deadline(t *testing.T) {
	t.Parallel()

	context, err := New(validParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if got, want := context.Deadline(start), start.Add(30*time.Minute); !got.Equal(want) {
		t.Errorf("Deadline = %s, want %s", got, want)
	}
}

func TestContext_LogValueHidesToken(t *testing.T) {
	t.Parallel()

	context, err := New(validParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var buffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buffer, nil))
	logger.Info("claimed", "job", context, "token", context.Token())
	fmt.Fprintf(&buffer, "%v %s", context.Token(), context.Token())

	output := buffer.String()
	if strings.Contains(output, context.Token().Value()) {
		t.Errorf("log output leaks raw token: %s", output)
	}
	if !strings.Contains(output, context.Token().Fingerprint()) {
		t.Errorf("log output missing fingerprint: %s", output)
	}
	if !strings.Contains(output, "acme/widgets") {
		t.Errorf("log output missing project path: %s", output)
	}
}

func TestContext_WireRoundTrip(t *testing.T) {
	t.Parallel()

	original, err := New(validParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := original.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Token() != original.Token() {
		t.Error("token changed across the wire")
	}
	if decoded.Build() != original.Build() || decoded.Project() != original.Project() || decoded.Ref() != original.Ref() {
		t.Errorf("identity changed across the wire: %+v", decoded.LogValue())
	}
	if decoded.Timeout() != original.Timeout() {
		t.Errorf("Timeout = %s, want %s", decoded.Timeout(), original.Timeout())
	}
	if diff := cmp.Diff(original.Services(), decoded.Services()); diff != "" {
		t.Errorf("Services mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(original.Executor(), decoded.Executor()); diff != "" {
		t.Errorf("Executor mismatch (-want +got):\n%s", diff)
	}
	leaf, err := decoded.Step(action.Path{1, 1})
	if err != nil || leaf.Name() != "C" {
		t.Errorf("decoded Step([1,1]) = %v, %v; want C", leaf, err)
	}
}

func TestDecode_RejectsIncompletePayload(t *testing.T) {
	t.Parallel()

	params := validParams()
	params.Build.BuildID = 0
	incomplete := &Context{
		token:   params.Token,
		project: params.Project,
		build:   params.Build,
		timeout: params.Timeout,
	}
	data, err := incomplete.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	if _, err := Decode(data); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Decode error = %v, want ErrConfiguration", err)
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	job, err := New(validParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := job.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	var fields map[string]any
	if err := codec.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	fields["priority"] = "high"
	extended, err := codec.Marshal(fields)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if _, err := Decode(extended); err == nil {
		t.Fatal("Decode accepted a context with an unknown field")
	} else if errors.Is(err, ErrConfiguration) {
		t.Errorf("Decode error = %v, want a decoding error", err)
	}
}
