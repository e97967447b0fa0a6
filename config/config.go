// Package config loads chime configuration with Viper. Values come from
// defaults, an optional chime.toml, and CHIME_-prefixed environment
// variables, in that precedence order.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/attuneai/chime/errors"
)

// Config is the full runtime configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StoreConfig controls durable state locations
type StoreConfig struct {
	// Dir holds the job and history JSONL files
	Dir string `mapstructure:"dir"`
	// KVPath is the per-job key/value SQLite database
	KVPath string `mapstructure:"kv_path"`
	// EventLogPath is the append-only JSON event log. Empty disables it.
	EventLogPath string `mapstructure:"event_log_path"`
}

// SchedulerConfig controls the monitor loop
type SchedulerConfig struct {
	CheckIntervalSeconds int `mapstructure:"check_interval_seconds"`
	StuckThresholdMin    int `mapstructure:"stuck_threshold_minutes"`
}

// CheckInterval returns the loop interval as a duration
func (c SchedulerConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// StuckThreshold returns the stuck-job threshold as a duration
func (c SchedulerConfig) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdMin) * time.Minute
}

// LimitsConfig sets default per-job resource limits
type LimitsConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MemoryMB       int `mapstructure:"memory_mb"`
	MaxOutputLines int `mapstructure:"max_output_lines"`
}

// AlertsConfig controls the alert manager
type AlertsConfig struct {
	FailureThreshold     int    `mapstructure:"failure_threshold"`
	SlowThresholdSeconds int    `mapstructure:"slow_threshold_seconds"`
	NotifyTarget         string `mapstructure:"notify_target"`
}

// NotifyConfig controls notification delivery
type NotifyConfig struct {
	// WebhookURL receives notification POSTs. Empty means notifications
	// are logged only.
	WebhookURL string `mapstructure:"webhook_url"`
}

// LogConfig controls the process logger
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// SetDefaults configures default values for all options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8450)

	v.SetDefault("store.dir", "data")
	v.SetDefault("store.kv_path", "data/chime_kv.db")
	v.SetDefault("store.event_log_path", "data/events.jsonl")

	v.SetDefault("scheduler.check_interval_seconds", 30)
	v.SetDefault("scheduler.stuck_threshold_minutes", 5)

	v.SetDefault("limits.timeout_seconds", 30)
	v.SetDefault("limits.memory_mb", 100)
	v.SetDefault("limits.max_output_lines", 1000)

	v.SetDefault("alerts.failure_threshold", 3)
	v.SetDefault("alerts.slow_threshold_seconds", 30)
	v.SetDefault("alerts.notify_target", "")

	v.SetDefault("notify.webhook_url", "")

	v.SetDefault("log.json", false)
}

// Load reads configuration from defaults, chime.toml (found by walking up
// from the working directory) and CHIME_ environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("CHIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path := findProjectConfig(); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	return unmarshal(v)
}

// LoadFromFile reads configuration from a specific file plus defaults
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// findProjectConfig walks up from the working directory looking for
// chime.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, "chime.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
