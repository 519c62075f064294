// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        DBConfig        `mapstructure:"db"`
	PoliceUK  PoliceUKConfig  `mapstructure:"policeuk"`
	Geocode   GeocodeConfig   `mapstructure:"geocode"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API-key authentication for the /admin routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the spatial/state database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PoliceUKConfig configures the upstream data.police.uk client.
type PoliceUKConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RequestsPerSec   float64 `mapstructure:"requests_per_sec"`
}

// GeocodeConfig configures the OS Names API client.
type GeocodeConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SyncConfig governs orchestrator and startup-decision behavior.
type SyncConfig struct {
	Concurrency      int     `mapstructure:"concurrency"`
	StaleLockHours   int     `mapstructure:"stale_lock_hours"`
	FreshDays        int     `mapstructure:"fresh_days"`
	StaleDays        int     `mapstructure:"stale_days"`
	FullSyncDelayMin int     `mapstructure:"full_sync_delay_minutes"`
	RecoveryDelayMin int     `mapstructure:"recovery_delay_minutes"`
	MinSuccessRate   float64 `mapstructure:"min_success_rate"`
}

// CacheConfig sizes the two bounded caches.
type CacheConfig struct {
	FeedMaxEntries     int `mapstructure:"feed_max_entries"`
	FeedTTLHours       int `mapstructure:"feed_ttl_hours"`
	PostcodeMaxEntries int `mapstructure:"postcode_max_entries"`
}

// SchedulerConfig controls the weekly cadence and manual triggers.
type SchedulerConfig struct {
	IntervalDays           int `mapstructure:"interval_days"`
	ManualTriggerMinGapMin int `mapstructure:"manual_trigger_min_gap_minutes"`
}

// NotifyConfig holds run-completion notification settings.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BEATCAL")
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
	v.SetDefault("policeuk.base_url", "https://data.police.uk/api")
	v.SetDefault("policeuk.timeout_seconds", 60)
	v.SetDefault("policeuk.max_attempts", 3)
	v.SetDefault("policeuk.backoff_initial_ms", 500)
	v.SetDefault("policeuk.backoff_max_ms", 8000)
	v.SetDefault("policeuk.requests_per_sec", 10)
	v.SetDefault("geocode.base_url", "https://api.os.uk/search/names/v1")
	v.SetDefault("geocode.timeout_seconds", 30)
	v.SetDefault("sync.concurrency", 8)
	v.SetDefault("sync.stale_lock_hours", 2)
	v.SetDefault("sync.fresh_days", 6)
	v.SetDefault("sync.stale_days", 8)
	v.SetDefault("sync.full_sync_delay_minutes", 2)
	v.SetDefault("sync.recovery_delay_minutes", 5)
	v.SetDefault("sync.min_success_rate", 0)
	v.SetDefault("cache.feed_max_entries", 1000)
	v.SetDefault("cache.feed_ttl_hours", 3)
	v.SetDefault("cache.postcode_max_entries", 1000)
	v.SetDefault("scheduler.interval_days", 7)
	v.SetDefault("scheduler.manual_trigger_min_gap_minutes", 60)
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.PoliceUK.TimeoutSeconds <= 0 {
		return fmt.Errorf("policeuk.timeout_seconds must be > 0")
	}
	if c.PoliceUK.MaxAttempts <= 0 {
		return fmt.Errorf("policeuk.max_attempts must be > 0")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be > 0")
	}
	if c.Sync.StaleDays <= c.Sync.FreshDays {
		return fmt.Errorf("sync.stale_days must be > sync.fresh_days")
	}
	if c.Sync.MinSuccessRate < 0 || c.Sync.MinSuccessRate > 100 {
		return fmt.Errorf("sync.min_success_rate must be in [0,100]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Notify.Provider == "pubsub" && (c.Notify.ProjectID == "" || c.Notify.TopicName == "") {
		return fmt.Errorf("notify.project_id and notify.topic_name must be set for pubsub")
	}
	return nil
}

// FetchTimeout converts the per-attempt upstream timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.PoliceUK.TimeoutSeconds) * time.Second
}

// StaleLockAge is the heartbeat age beyond which a Running run is a crash.
func (c Config) StaleLockAge() time.Duration {
	return time.Duration(c.Sync.StaleLockHours) * time.Hour
}
