package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crucible.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "store:\n  path: /tmp/test.db\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Pipeline.PassScore != 80 {
		t.Errorf("pass_score default = %d, want 80", cfg.Pipeline.PassScore)
	}
	if cfg.Pipeline.MaxIterations != 5 {
		t.Errorf("max_iterations default = %d, want 5", cfg.Pipeline.MaxIterations)
	}
	if cfg.Pipeline.DeployRetries != 3 {
		t.Errorf("deploy_retries default = %d, want 3", cfg.Pipeline.DeployRetries)
	}
	if cfg.Hub.RingSize != 100 {
		t.Errorf("ring_size default = %d, want 100", cfg.Hub.RingSize)
	}
	if cfg.Hub.MaxMissedHeartbeats != 4 {
		t.Errorf("max_missed_heartbeats default = %d, want 4", cfg.Hub.MaxMissedHeartbeats)
	}
	if cfg.Registry.Retention.Duration != 10*time.Minute {
		t.Errorf("retention default = %v, want 10m", cfg.Registry.Retention.Duration)
	}
	if cfg.Store.Path != "/tmp/test.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  pass_score: 90
  max_iterations: 2
  worker_timeout: 30s
hub:
  ring_size: 8
  heartbeat_interval: 1s
adapter:
  type: redis
  url: redis://localhost:6379
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Pipeline.PassScore != 90 || cfg.Pipeline.MaxIterations != 2 {
		t.Errorf("pipeline overrides not applied: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.WorkerTimeout.Duration != 30*time.Second {
		t.Errorf("worker_timeout = %v, want 30s", cfg.Pipeline.WorkerTimeout.Duration)
	}
	if cfg.Hub.RingSize != 8 {
		t.Errorf("ring_size = %d, want 8", cfg.Hub.RingSize)
	}
	if cfg.Adapter.Type != "redis" {
		t.Errorf("adapter type = %q, want redis", cfg.Adapter.Type)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad pass score", "pipeline:\n  pass_score: 150\n", "pass_score"},
		{"bad iterations", "pipeline:\n  max_iterations: -1\n", "max_iterations"},
		{"bad adapter", "adapter:\n  type: kafka\n", "adapter type"},
		{"bad duration", "pipeline:\n  worker_timeout: soon\n", "invalid duration"},
		{"bonus missing metric", "gate:\n  bonuses:\n    - threshold: 0.8\n      points: 5\n", "metric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CRUCIBLE_TEST_URL", "redis://example:6379")

	tests := []struct {
		in   string
		want string
	}{
		{"url: ${CRUCIBLE_TEST_URL}", "url: redis://example:6379"},
		{"url: ${CRUCIBLE_TEST_UNSET}", "url: "},
		{"url: ${CRUCIBLE_TEST_UNSET:-fallback}", "url: fallback"},
		{"plain text", "plain text"},
	}

	for _, tt := range tests {
		if got := ExpandEnv(tt.in); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CRUCIBLE_TEST_DB", "/tmp/env.db")
	path := writeConfig(t, "store:\n  path: ${CRUCIBLE_TEST_DB}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Path != "/tmp/env.db" {
		t.Errorf("store path = %q, want /tmp/env.db", cfg.Store.Path)
	}
}
