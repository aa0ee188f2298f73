// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bureau-ci/lib/clock"
	"github.com/bureau-foundation/bureau-ci/lib/config"
	"github.com/bureau-foundation/bureau-ci/lib/logging"
	"github.com/bureau-foundation/bureau-ci/lib/process"
	"github.com/bureau-foundation/bureau-ci/lib/projectstore"
	"github.com/bureau-foundation/bureau-ci/lib/service"
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
		showVersion bool
	)

	flags := pflag.NewFlagSet("bureau-ci-orchestrator", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to bureau-ci.yaml (default: $"+config.EnvConfigPath+")")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return process.Usage(err)
	}

	if showVersion {
		fmt.Printf("bureau-ci-orchestrator %s\n", version.Info())
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

	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	registry, err := projectstore.OpenRegistry(cfg.RegistryDatabase(), logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orchestrator := newOrchestrator(orchestratorConfig{
		Registry:       registry,
		Clock:          clock.Real(),
		Registerer:     metricsRegistry,
		PipelineDir:    cfg.Paths.Pipelines,
		DefaultTimeout: cfg.Orchestrator.DefaultTimeout.Std(),
		ClaimWait:      cfg.Orchestrator.ClaimWait.Std(),
		History:        cfg.Orchestrator.History,
		ExpiryGrace:    cfg.Orchestrator.ExpiryGrace.Std(),
		Executor:       executorFromConfig(cfg.Orchestrator.Executor),
		Logger:         logger,
	})

	socketServer := service.NewSocketServer(cfg.Orchestrator.SocketPath, logger)
	orchestrator.registerActions(socketServer)
	if err := socketServer.Instrument(metricsRegistry); err != nil {
		return err
	}

	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		orchestrator.runReaper(ctx, cfg.Orchestrator.ReapInterval.Std())
	}()

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	adminDone := make(chan error, 1)
	if cfg.Orchestrator.AdminAddress != "" {
		admin := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.Orchestrator.AdminAddress,
			Handler: orchestrator.adminRouter(metricsRegistry),
			Logger:  logger,
		})
		go func() {
			adminDone <- admin.Serve(ctx)
		}()
	} else {
		adminDone <- nil
	}

	logger.Info("orchestrator running",
		version.Attr(),
		"environment", cfg.Environment,
		"socket", cfg.Orchestrator.SocketPath,
		"admin", cfg.Orchestrator.AdminAddress,
		"registry", cfg.RegistryDatabase(),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-socketDone:
		// The socket is the orchestrator's reason to exist; take the
		// admin listener down with it.
		stop()
		<-adminDone
		<-reaperDone
		if err == nil {
			err = errors.New("stopped unexpectedly")
		}
		return fmt.Errorf("socket server: %w", err)
	}

	var errs []error
	if err := <-socketDone; err != nil {
		errs = append(errs, fmt.Errorf("socket server: %w", err))
	}
	if err := <-adminDone; err != nil {
		errs = append(errs, fmt.Errorf("admin server: %w", err))
	}
	<-reaperDone
	return errors.Join(errs...)
}
