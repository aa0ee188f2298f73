// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the bureau-ci binaries.
//
// Release builds stamp the variables with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/bureau-ci/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Unstamped builds fall back to the VCS metadata the go command embeds.
package version

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
)

// Set by -ldflags.
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	GitDirty  = ""
	BuildTime = ""
)

// Build is the resolved build identity.
type Build struct {
	Version string
	Commit  string
	Dirty   bool
	Time    string
	Go      string
}

// Current returns the build identity, preferring -ldflags values over
// embedded VCS settings.
func Current() Build {
	build := Build{
		Version: Version,
		Commit:  GitCommit,
		Dirty:   GitDirty == "true",
		Time:    BuildTime,
		Go:      runtime.Version(),
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		build = fillFromSettings(build, info.Settings)
	}
	if build.Commit == "" {
		build.Commit = "unknown"
	}
	if build.Time == "" {
		build.Time = "unknown"
	}
	return build
}

func fillFromSettings(build Build, settings []debug.BuildSetting) Build {
	stamped := build.Commit != ""
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			if !stamped {
				build.Commit = shortCommit(setting.Value)
			}
		case "vcs.modified":
			if !stamped {
				build.Dirty = setting.Value == "true"
			}
		case "vcs.time":
			if build.Time == "" {
				build.Time = setting.Value
			}
		}
	}
	return build
}

func shortCommit(revision string) string {
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}

// Info returns the one-line --version string.
func Info() string {
	build := Current()
	dirty := ""
	if build.Dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", build.Version, build.Commit, dirty, build.Time)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Attr returns the build identity as a "build" log group, logged once
// at startup.
func Attr() slog.Attr {
	build := Current()
	return slog.Group("build",
		slog.String("version", build.Version),
		slog.String("commit", build.Commit),
		slog.Bool("dirty", build.Dirty),
	)
}
