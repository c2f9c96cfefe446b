package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/QualityUnit/pyworkflow/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for explicit missing file")
	}

	cfg, err = config.Load("")
	if err != nil {
		t.Fatalf("Load with no file: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected default backend memory, got %q", cfg.Storage.Backend)
	}
	if cfg.Worker.Concurrency != 10 {
		t.Fatalf("expected default concurrency 10, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Claim.TTL != 30*time.Second {
		t.Fatalf("expected default claim ttl 30s, got %s", cfg.Claim.TTL)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyworkflow.config.yaml")
	contents := `
storage:
  backend: postgres
  dsn: "postgres://localhost/wf"
worker:
  concurrency: 25
nesting:
  limit: 5
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Fatalf("expected backend postgres, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.DSN != "postgres://localhost/wf" {
		t.Fatalf("expected dsn to round-trip, got %q", cfg.Storage.DSN)
	}
	if cfg.Worker.Concurrency != 25 {
		t.Fatalf("expected concurrency 25, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Nesting.Limit != 5 {
		t.Fatalf("expected nesting limit 5, got %d", cfg.Nesting.Limit)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyworkflow.config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  backend: memory\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("PYWORKFLOW_STORAGE_BACKEND", "postgres")
	t.Setenv("PYWORKFLOW_WORKER_CONCURRENCY", "42")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Fatalf("expected env override to win, got %q", cfg.Storage.Backend)
	}
	if cfg.Worker.Concurrency != 42 {
		t.Fatalf("expected env override concurrency 42, got %d", cfg.Worker.Concurrency)
	}
}
