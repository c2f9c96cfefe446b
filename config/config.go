// Package config loads process configuration from the defaults, a YAML
// file and environment variables, in that increasing order of
// precedence. No CLI-flag tier is applied: cmd/wf's only
// config-related flag is --config, which selects the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every recognized key when read from the
// environment (e.g. storage.backend -> PYWORKFLOW_STORAGE_BACKEND).
const EnvPrefix = "PYWORKFLOW_"

// DefaultFileName is the config file name looked up in the current
// working directory when no --config flag overrides it.
const DefaultFileName = "pyworkflow.config.yaml"

// StorageConfig configures the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`
}

// BrokerConfig configures the task queue backend.
type BrokerConfig struct {
	URL string `yaml:"url,omitempty"`
}

// ResultBackendConfig configures an optional separate store for step
// and run results. When URL is empty, outcomes are stored in the
// engine's own storage backend.
type ResultBackendConfig struct {
	URL string `yaml:"url,omitempty"`
}

// WorkerConfig configures worker pool sizing.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	MaxMemory   int `yaml:"max_memory,omitempty"`
	MaxTasks    int `yaml:"max_tasks,omitempty"`
}

// RecoveryConfig configures the recovery sweeper.
type RecoveryConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// NestingConfig bounds parent/child workflow recursion.
type NestingConfig struct {
	Limit int `yaml:"limit"`
}

// ClaimConfig configures the exclusive run/step claim lease.
type ClaimConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ScheduleConfig configures the cron/interval schedule firing loop
// (spec §4.8).
type ScheduleConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	LeaderTTL    time.Duration `yaml:"leader_ttl"`
}

// Config is the fully-resolved process configuration, per spec §6.3's
// recognized keys.
type Config struct {
	// Module is the import path or file glob of workflow/step
	// definitions, mirroring the source system's dynamic module
	// loading. It is loaded but nothing reads it: cmd/wf registers
	// workflows at compile time (registerBuiltinWorkflows).
	Module string `yaml:"module,omitempty"`

	// Runtime selects the execution runtime identifier, kept as an
	// opaque string since this module has exactly one (the Go process
	// itself); present for config-schema parity with spec §6.3.
	Runtime string `yaml:"runtime,omitempty"`

	Storage       StorageConfig       `yaml:"storage"`
	Broker        BrokerConfig        `yaml:"broker"`
	ResultBackend ResultBackendConfig `yaml:"result_backend"`
	Worker        WorkerConfig        `yaml:"worker"`
	Recovery      RecoveryConfig      `yaml:"recovery"`
	Nesting       NestingConfig       `yaml:"nesting"`
	Claim         ClaimConfig         `yaml:"claim"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
}

// Default returns a Config populated with the module's defaults.
func Default() Config {
	return Config{
		Runtime: "go",
		Storage: StorageConfig{Backend: "memory"},
		Worker: WorkerConfig{
			Concurrency: 10,
		},
		Recovery: RecoveryConfig{
			Interval:    15 * time.Second,
			MaxAttempts: 5,
		},
		Nesting: NestingConfig{Limit: 3},
		Claim:   ClaimConfig{TTL: 30 * time.Second},
		Schedule: ScheduleConfig{
			TickInterval: 1 * time.Second,
			LockTTL:      30 * time.Second,
			LeaderTTL:    15 * time.Second,
		},
	}
}

// Load resolves configuration from, in increasing precedence: the
// module defaults, the YAML file at path (skipped if path does not
// exist and was not explicitly requested), and PYWORKFLOW_-prefixed
// environment variables. No CLI-flag values are applied on top: cmd/wf
// uses the returned Config as is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if unmarshalErr := yaml.Unmarshal(data, &cfg); unmarshalErr != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, unmarshalErr)
		}
	case explicit:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		// No file at the default location is fine; defaults stand.
	}

	applyEnv(&cfg)

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 10
	}
	if cfg.Nesting.Limit <= 0 {
		cfg.Nesting.Limit = 3
	}
	if cfg.Claim.TTL <= 0 {
		cfg.Claim.TTL = 30 * time.Second
	}
	if cfg.Schedule.TickInterval <= 0 {
		cfg.Schedule.TickInterval = 1 * time.Second
	}
	if cfg.Schedule.LockTTL <= 0 {
		cfg.Schedule.LockTTL = 30 * time.Second
	}
	if cfg.Schedule.LeaderTTL <= 0 {
		cfg.Schedule.LeaderTTL = 15 * time.Second
	}
	if cfg.Recovery.Interval <= 0 {
		cfg.Recovery.Interval = 15 * time.Second
	}
	if cfg.Recovery.MaxAttempts <= 0 {
		cfg.Recovery.MaxAttempts = 5
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	str(&cfg.Module, "MODULE")
	str(&cfg.Runtime, "RUNTIME")
	str(&cfg.Storage.Backend, "STORAGE_BACKEND")
	str(&cfg.Storage.Path, "STORAGE_PATH")
	str(&cfg.Storage.DSN, "STORAGE_DSN")
	str(&cfg.Broker.URL, "BROKER_URL")
	str(&cfg.ResultBackend.URL, "RESULT_BACKEND_URL")
	intVal(&cfg.Worker.Concurrency, "WORKER_CONCURRENCY")
	intVal(&cfg.Worker.MaxMemory, "WORKER_MAX_MEMORY")
	intVal(&cfg.Worker.MaxTasks, "WORKER_MAX_TASKS")
	durationVal(&cfg.Recovery.Interval, "RECOVERY_INTERVAL")
	intVal(&cfg.Recovery.MaxAttempts, "RECOVERY_MAX_ATTEMPTS")
	intVal(&cfg.Nesting.Limit, "NESTING_LIMIT")
	durationVal(&cfg.Claim.TTL, "CLAIM_TTL")
	durationVal(&cfg.Schedule.TickInterval, "SCHEDULE_TICK_INTERVAL")
	durationVal(&cfg.Schedule.LockTTL, "SCHEDULE_LOCK_TTL")
	durationVal(&cfg.Schedule.LeaderTTL, "SCHEDULE_LEADER_TTL")
}

func str(dst *string, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
		*dst = v
	}
}

func intVal(dst *int, key string) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

func durationVal(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return
	}
	*dst = d
}
