package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/loadstate/internal/progress"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
tracker:
  cleanup_delay_ms: 2500
  loop_buffer: 32
categories: ["search", "media"]
phases:
  - id: validating
    display_name: Validating
  - id: upload_done
    terminal: true
progress:
  enabled: true
  log_enabled: true
  buffer_size: 64
  batch:
    max_events: 10
    max_wait_ms: 50
database:
  dsn: postgres://localhost/loads
  history_table: history
  max_conns: 4
  min_conns: 1
pubsub:
  project_id: proj
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if got := cfg.CleanupDelay(); got != 2500*time.Millisecond {
		t.Fatalf("expected cleanup delay 2.5s, got %v", got)
	}
	if cfg.Progress.Batch.MaxEvents != 10 || cfg.Progress.SinkTimeoutMs != 10000 {
		t.Fatalf("expected batch override and sink timeout default: %+v", cfg.Progress)
	}
	if cfg.PubSub.TopicName != "load-changes" || cfg.PubSub.ProjectID != "proj" {
		t.Fatalf("expected pubsub defaults to merge with overrides: %+v", cfg.PubSub)
	}

	phases, err := cfg.PhaseRegistry()
	if err != nil {
		t.Fatalf("PhaseRegistry() error = %v", err)
	}
	done, ok := phases.Lookup("upload_done")
	if !ok || !done.Terminal || !done.IsSuccess() {
		t.Fatalf("expected configured terminal success phase, got %+v", done)
	}

	categories, err := cfg.CategoryRegistry()
	if err != nil {
		t.Fatalf("CategoryRegistry() error = %v", err)
	}
	set, err := categories.Parse("data,media")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !set.Has(progress.CategoryData) || len(set.Bits()) != 2 {
		t.Fatalf("expected data plus media bits, got %v", set)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CleanupDelay() != progress.DefaultCleanupDelay {
		t.Fatalf("expected default cleanup delay, got %v", cfg.CleanupDelay())
	}
	if !cfg.Progress.Enabled || !cfg.Metrics.Enabled {
		t.Fatalf("expected progress and metrics enabled by default")
	}
}

func TestCleanupDelayDisabled(t *testing.T) {
	t.Parallel()

	cfg := Config{Tracker: TrackerConfig{CleanupDelayMs: -5}}
	if cfg.CleanupDelay() >= 0 {
		t.Fatalf("expected negative cleanup delay, got %v", cfg.CleanupDelay())
	}
}

func TestPhaseRegistryConflict(t *testing.T) {
	t.Parallel()

	cfg := Config{Phases: []PhaseConfig{{ID: "complete", Terminal: false}}}
	if _, err := cfg.PhaseRegistry(); err == nil {
		t.Fatal("expected conflict with built-in terminal phase")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Progress: ProgressConfig{Enabled: true, BufferSize: 16},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "negative report rps",
			cfg: func() Config {
				c := base
				c.Server.ReportRPS = -1
				return c
			}(),
			want: "server.report_rps",
		},
		{
			name: "negative loop buffer",
			cfg: func() Config {
				c := base
				c.Tracker.LoopBuffer = -1
				return c
			}(),
			want: "tracker.loop_buffer",
		},
		{
			name: "progress buffer missing",
			cfg: func() Config {
				c := base
				c.Progress.BufferSize = 0
				return c
			}(),
			want: "progress.buffer_size",
		},
		{
			name: "min conns above max",
			cfg: func() Config {
				c := base
				c.Database.MaxConns = 2
				c.Database.MinConns = 3
				return c
			}(),
			want: "database.min_conns",
		},
		{
			name: "phase without id",
			cfg: func() Config {
				c := base
				c.Phases = []PhaseConfig{{DisplayName: "x"}}
				return c
			}(),
			want: "phases[0].id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
