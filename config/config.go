package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration of the dispute engine.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	HTTP    HTTPConfig    `yaml:"http"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig controls the deadline scheduler.
type EngineConfig struct {
	// How late a deadline may fire and still count as on time. Later fires are
	// coalesced into one misfire.
	MisfireGraceSeconds int `yaml:"misfire_grace_seconds"`
}

// StorageConfig controls where disputes are persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// HTTPConfig controls the chat-facing API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// NotifyConfig controls where resolution results are published.
type NotifyConfig struct {
	Table                 bool    `yaml:"table"` // full table instead of one line per dispute
	WebhookURL            string  `yaml:"webhook_url"`
	WebhookRatePerSec     float64 `yaml:"webhook_rate_per_sec"`
	WebhookTimeoutSeconds int     `yaml:"webhook_timeout_seconds"`
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path, and the .env file if present.
// Environment values override the YAML for the keys they cover.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	return &cfg, nil
}

// MisfireGrace returns the grace window as a time.Duration.
func (c *Config) MisfireGrace() time.Duration {
	return time.Duration(c.Engine.MisfireGraceSeconds) * time.Second
}

// WebhookTimeout returns the per-request webhook timeout.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Notify.WebhookTimeoutSeconds) * time.Second
}

// applyEnvOverrides replaces values with environment variables when set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("MISFIRE_GRACE_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MISFIRE_GRACE_SECONDS %q: %w", v, err)
		}
		cfg.Engine.MisfireGraceSeconds = n
	}
	return nil
}

// setDefaults fills required values left empty.
func setDefaults(cfg *Config) {
	if cfg.Engine.MisfireGraceSeconds <= 0 {
		cfg.Engine.MisfireGraceSeconds = 60
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "disputebot.db"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Notify.WebhookRatePerSec <= 0 {
		cfg.Notify.WebhookRatePerSec = 5
	}
	if cfg.Notify.WebhookTimeoutSeconds <= 0 {
		cfg.Notify.WebhookTimeoutSeconds = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
