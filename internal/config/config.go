// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/loadstate/internal/progress"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig   `mapstructure:"server"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Logging    LoggingConfig  `mapstructure:"logging"`
	Tracker    TrackerConfig  `mapstructure:"tracker"`
	Categories []string       `mapstructure:"categories"`
	Phases     []PhaseConfig  `mapstructure:"phases"`
	Progress   ProgressConfig `mapstructure:"progress"`
	Metrics    MetricsConfig  `mapstructure:"metrics"`
	Database   DatabaseConfig `mapstructure:"database"`
	PubSub     PubSubConfig   `mapstructure:"pubsub"`
	Tracing    TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`

	// ReportRPS throttles reports per load id; 0 disables throttling.
	ReportRPS   float64 `mapstructure:"report_rps"`
	ReportBurst int     `mapstructure:"report_burst"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TrackerConfig controls the state store and its loop.
type TrackerConfig struct {
	CleanupDelayMs int `mapstructure:"cleanup_delay_ms"`
	LoopBuffer     int `mapstructure:"loop_buffer"`
}

// PhaseConfig declares a custom phase.
type PhaseConfig struct {
	ID          string `mapstructure:"id"`
	DisplayName string `mapstructure:"display_name"`
	Terminal    bool   `mapstructure:"terminal"`
}

// ProgressConfig controls the change hub and its sinks.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig sets hub flush thresholds.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// MetricsConfig toggles Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DatabaseConfig controls the change history database.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	HistoryTable string `mapstructure:"history_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOADSTATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("tracker.cleanup_delay_ms", 5000)
	v.SetDefault("tracker.loop_buffer", 256)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("database.history_table", "load_changes")
	v.SetDefault("pubsub.topic_name", "load-changes")
	v.SetDefault("server.report_burst", 10)
	v.SetDefault("tracing.service_name", "loadstate")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Server.ReportRPS < 0 {
		return fmt.Errorf("server.report_rps must be >= 0")
	}
	if c.Tracker.LoopBuffer < 0 {
		return fmt.Errorf("tracker.loop_buffer must be >= 0")
	}
	if c.Progress.Enabled && c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0 when progress is enabled")
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		return fmt.Errorf("database.min_conns must not exceed database.max_conns")
	}
	for i, p := range c.Phases {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("phases[%d].id must be set", i)
		}
	}
	return nil
}

// CleanupDelay converts tracker.cleanup_delay_ms into the Store setting. A
// negative value disables deferred cleanup.
func (c Config) CleanupDelay() time.Duration {
	if c.Tracker.CleanupDelayMs < 0 {
		return -1
	}
	return time.Duration(c.Tracker.CleanupDelayMs) * time.Millisecond
}

// PhaseRegistry returns the built-in phases plus the configured ones.
func (c Config) PhaseRegistry() (*progress.PhaseRegistry, error) {
	reg := progress.NewPhaseRegistry()
	for _, p := range c.Phases {
		if err := reg.Register(progress.NewPhase(p.ID, p.DisplayName, p.Terminal)); err != nil {
			return nil, fmt.Errorf("register phase %q: %w", p.ID, err)
		}
	}
	return reg, nil
}

// CategoryRegistry returns the default categories plus the configured ones.
func (c Config) CategoryRegistry() (*progress.CategoryRegistry, error) {
	reg := progress.NewCategoryRegistry()
	for _, name := range c.Categories {
		if _, err := reg.Define(name); err != nil {
			return nil, fmt.Errorf("define category: %w", err)
		}
	}
	return reg, nil
}
