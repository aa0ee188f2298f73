// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/bureau-ci/lib/steplog"
)

// EnvConfigPath names the environment variable Load reads.
const EnvConfigPath = "BUREAU_CI_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the bureau-ci configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths        PathsConfig        `yaml:"paths"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Worker       WorkerConfig       `yaml:"worker"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides holds per-environment replacements. Only non-zero
// fields override.
type ConfigOverrides struct {
	Paths        *PathsConfig        `yaml:"paths,omitempty"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Worker       *WorkerConfig       `yaml:"worker,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for bureau-ci data.
	Root string `yaml:"root"`

	// State holds the project registry database.
	State string `yaml:"state"`

	// Logs is where workers archive step logs, one subdirectory per
	// job.
	Logs string `yaml:"logs"`

	// Pipelines is the directory relative pipeline paths in submit
	// requests are resolved against.
	Pipelines string `yaml:"pipelines"`
}

// OrchestratorConfig configures bureau-ci-orchestrator.
type OrchestratorConfig struct {
	// SocketPath is the Unix socket workers and submitters connect to.
	SocketPath string `yaml:"socket_path"`

	// AdminAddress is the TCP address for /healthz, /metrics and
	// /jobs. Empty disables the admin listener.
	AdminAddress string `yaml:"admin_address"`

	// RegistryPath is the SQLite project registry. Relative paths are
	// resolved against Paths.State.
	RegistryPath string `yaml:"registry_path"`

	// DefaultTimeout applies to pipelines that declare none.
	DefaultTimeout Duration `yaml:"default_timeout"`

	// ClaimWait is how long a claim request waits for a job before
	// answering that none is available.
	ClaimWait Duration `yaml:"claim_wait"`

	// History is how many completed jobs /jobs remembers.
	History int `yaml:"history"`

	// ExpiryGrace is how long past its timeout a claimed job may go
	// unreported before the orchestrator records it as timed out.
	ExpiryGrace Duration `yaml:"expiry_grace"`

	// ReapInterval is how often overdue jobs are collected.
	ReapInterval Duration `yaml:"reap_interval"`

	Executor ExecutorConfig `yaml:"executor"`
}

// ExecutorConfig describes the execution environment stamped into
// every job context.
type ExecutorConfig struct {
	Name          string            `yaml:"name"`
	ResourceClass string            `yaml:"resource_class"`
	PullPolicy    string            `yaml:"pull_policy"`
	Attributes    map[string]string `yaml:"attributes,omitempty"`
}

// WorkerConfig configures bureau-ci-worker.
type WorkerConfig struct {
	// OrchestratorSocket is the orchestrator's socket path.
	OrchestratorSocket string `yaml:"orchestrator_socket"`

	// Shell runs each step's command as Shell -c <command>.
	Shell string `yaml:"shell"`

	// LogCompression is none, lz4 or zstd.
	LogCompression string `yaml:"log_compression"`

	// ReadinessInterval is the delay between service readiness probes.
	ReadinessInterval Duration `yaml:"readiness_interval"`

	// ReadinessTimeout bounds how long a service may take to become
	// ready.
	ReadinessTimeout Duration `yaml:"readiness_timeout"`

	// Once makes the worker exit after one job instead of looping.
	Once bool `yaml:"once"`
}

// Default returns the base configuration the file is merged into.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "bureau-ci")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      defaultRoot,
			State:     "${BUREAU_CI_ROOT}/state",
			Logs:      "${BUREAU_CI_ROOT}/logs",
			Pipelines: "${BUREAU_CI_ROOT}/pipelines",
		},
		Orchestrator: OrchestratorConfig{
			SocketPath:     "/run/bureau-ci/orchestrator.sock",
			AdminAddress:   "127.0.0.1:9470",
			RegistryPath:   "registry.db",
			DefaultTimeout: Duration(30 * time.Minute),
			ClaimWait:      Duration(20 * time.Second),
			History:        256,
			ExpiryGrace:    Duration(time.Minute),
			ReapInterval:   Duration(15 * time.Second),
			Executor: ExecutorConfig{
				Name:          "shell",
				ResourceClass: "medium",
				PullPolicy:    "if-not-present",
			},
		},
		Worker: WorkerConfig{
			OrchestratorSocket: "/run/bureau-ci/orchestrator.sock",
			Shell:              "/bin/sh",
			LogCompression:     "zstd",
			ReadinessInterval:  Duration(time.Second),
			ReadinessTimeout:   Duration(2 * time.Minute),
		},
	}
}

// Load loads the file named by BUREAU_CI_CONFIG. It fails if the
// variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfigPath)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your bureau-ci.yaml config file, or use --config flag", EnvConfigPath)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over Default, applies the
// matching environment section and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Orchestrator: &OrchestratorConfig{AdminAddress: "127.0.0.1:9470"},
				Worker:       &WorkerConfig{LogCompression: "zstd"},
			}
		}
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		override(&c.Paths.Root, paths.Root)
		override(&c.Paths.State, paths.State)
		override(&c.Paths.Logs, paths.Logs)
		override(&c.Paths.Pipelines, paths.Pipelines)
	}

	if orchestrator := overrides.Orchestrator; orchestrator != nil {
		override(&c.Orchestrator.SocketPath, orchestrator.SocketPath)
		override(&c.Orchestrator.AdminAddress, orchestrator.AdminAddress)
		override(&c.Orchestrator.RegistryPath, orchestrator.RegistryPath)
		override(&c.Orchestrator.DefaultTimeout, orchestrator.DefaultTimeout)
		override(&c.Orchestrator.ClaimWait, orchestrator.ClaimWait)
		override(&c.Orchestrator.History, orchestrator.History)
		override(&c.Orchestrator.ExpiryGrace, orchestrator.ExpiryGrace)
		override(&c.Orchestrator.ReapInterval, orchestrator.ReapInterval)
		override(&c.Orchestrator.Executor.Name, orchestrator.Executor.Name)
		override(&c.Orchestrator.Executor.ResourceClass, orchestrator.Executor.ResourceClass)
		override(&c.Orchestrator.Executor.PullPolicy, orchestrator.Executor.PullPolicy)
		if orchestrator.Executor.Attributes != nil {
			c.Orchestrator.Executor.Attributes = orchestrator.Executor.Attributes
		}
	}

	if worker := overrides.Worker; worker != nil {
		override(&c.Worker.OrchestratorSocket, worker.OrchestratorSocket)
		override(&c.Worker.Shell, worker.Shell)
		override(&c.Worker.LogCompression, worker.LogCompression)
		override(&c.Worker.ReadinessInterval, worker.ReadinessInterval)
		override(&c.Worker.ReadinessTimeout, worker.ReadinessTimeout)
		// Once is a bool, so an override section always sets it.
		c.Worker.Once = worker.Once
	}
}

func override[T comparable](target *T, value T) {
	var zero T
	if value != zero {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"BUREAU_CI_ROOT": c.Paths.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["BUREAU_CI_ROOT"] = c.Paths.Root

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Logs = expandVars(c.Paths.Logs, vars)
	c.Paths.Pipelines = expandVars(c.Paths.Pipelines, vars)
	c.Orchestrator.SocketPath = expandVars(c.Orchestrator.SocketPath, vars)
	c.Orchestrator.RegistryPath = expandVars(c.Orchestrator.RegistryPath, vars)
	c.Worker.OrchestratorSocket = expandVars(c.Worker.OrchestratorSocket, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, consulting vars before
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// RegistryDatabase returns the absolute registry path.
func (c *Config) RegistryDatabase() string {
	if filepath.IsAbs(c.Orchestrator.RegistryPath) {
		return c.Orchestrator.RegistryPath
	}
	return filepath.Join(c.Paths.State, c.Orchestrator.RegistryPath)
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, errors.New("paths.state is required"))
	}
	if c.Paths.Logs == "" {
		errs = append(errs, errors.New("paths.logs is required"))
	}

	if c.Orchestrator.SocketPath == "" {
		errs = append(errs, errors.New("orchestrator.socket_path is required"))
	}
	if c.Orchestrator.AdminAddress != "" {
		if _, _, err := net.SplitHostPort(c.Orchestrator.AdminAddress); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator.admin_address: %w", err))
		}
	}
	if c.Orchestrator.RegistryPath == "" {
		errs = append(errs, errors.New("orchestrator.registry_path is required"))
	}
	if c.Orchestrator.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.default_timeout must be positive, got %s", c.Orchestrator.DefaultTimeout))
	}
	if c.Orchestrator.ClaimWait <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.claim_wait must be positive, got %s", c.Orchestrator.ClaimWait))
	}
	if c.Orchestrator.History < 0 {
		errs = append(errs, errors.New("orchestrator.history must not be negative"))
	}
	if c.Orchestrator.ExpiryGrace <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.expiry_grace must be positive, got %s", c.Orchestrator.ExpiryGrace))
	}
	if c.Orchestrator.ReapInterval <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.reap_interval must be positive, got %s", c.Orchestrator.ReapInterval))
	}

	if c.Worker.OrchestratorSocket == "" {
		errs = append(errs, errors.New("worker.orchestrator_socket is required"))
	}
	if c.Worker.Shell == "" {
		errs = append(errs, errors.New("worker.shell is required"))
	}
	if _, err := steplog.ParseCompression(c.Worker.LogCompression); err != nil {
		errs = append(errs, fmt.Errorf("worker.log_compression: %w", err))
	}
	if c.Worker.ReadinessInterval <= 0 {
		errs = append(errs, errors.New("worker.readiness_interval must be positive"))
	}
	if c.Worker.ReadinessTimeout <= 0 {
		errs = append(errs, errors.New("worker.readiness_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.State, c.Paths.Logs} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
