// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bureau-ci/lib/clock"
	"github.com/bureau-foundation/bureau-ci/lib/config"
	"github.com/bureau-foundation/bureau-ci/lib/logging"
	"github.com/bureau-foundation/bureau-ci/lib/process"
	"github.com/bureau-foundation/bureau-ci/lib/service"
	"github.com/bureau-foundation/bureau-ci/lib/steplog"
	"github.com/bureau-foundation/bureau-ci/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		workerName  string
		once        bool
		showVersion bool
	)

	flags := pflag.NewFlagSet("bureau-ci-worker", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to bureau-ci.yaml (default: $"+config.EnvConfigPath+")")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&workerName, "name", "", "worker name reported to the orchestrator (default: hostname/pid)")
	flags.BoolVar(&once, "once", false, "exit after one job")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return process.Usage(err)
	}

	if showVersion {
		fmt.Printf("bureau-ci-worker %s\n", version.Info())
		return nil
	}

	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return process.Usage(err)
	}
	logger := logging.New(level)

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return process.Usage(fmt.Errorf("loading config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return process.Usage(fmt.Errorf("invalid config: %w", err))
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	compression, err := steplog.ParseCompression(cfg.Worker.LogCompression)
	if err != nil {
		return err
	}

	if workerName == "" {
		hostname, _ := os.Hostname()
		workerName = fmt.Sprintf("%s/%d", hostname, os.Getpid())
	}

	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	worker := newWorker(workerConfig{
		Name:               workerName,
		Orchestrator:       service.NewClient(cfg.Worker.OrchestratorSocket),
		OrchestratorSocket: cfg.Worker.OrchestratorSocket,
		Clock:              clock.Real(),
		Shell:              cfg.Worker.Shell,
		LogDir:             cfg.Paths.Logs,
		Compression:        compression,
		ReadinessInterval:  cfg.Worker.ReadinessInterval.Std(),
		ReadinessTimeout:   cfg.Worker.ReadinessTimeout.Std(),
		Logger:             logger,
	})

	logger.Info("worker running",
		version.Attr(),
		"name", workerName,
		"orchestrator", cfg.Worker.OrchestratorSocket,
		"logs", cfg.Paths.Logs,
	)

	if once || cfg.Worker.Once {
		return worker.RunOnce(ctx)
	}
	return worker.Run(ctx)
}
