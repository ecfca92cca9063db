// Package config loads process configuration from the environment and the
// plan catalog from a watched file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config is the process configuration.
type Config struct {
	Env        string `envconfig:"APP_ENV" default:"development"`
	Port       string `envconfig:"APP_PORT" default:"8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	RequireTLS bool   `envconfig:"REQUIRE_TLS" default:"false"`

	StoreBackend string        `envconfig:"STORE_BACKEND" default:"file"`
	SnapshotPath string        `envconfig:"SNAPSHOT_PATH" default:"data/devices.json.zst"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	RetryMax     uint64        `envconfig:"RETRY_MAX" default:"10"`

	InitialFreeUses     int    `envconfig:"INITIAL_FREE_USES" default:"3"`
	DeveloperUnlockCode string `envconfig:"DEVELOPER_UNLOCK_CODE"`
	CatalogPath         string `envconfig:"CATALOG_PATH"`

	// SweepEnabled runs the expiry sweeper inside the API process.
	SweepEnabled     bool          `envconfig:"SWEEP_ENABLED" default:"true"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"10s"`
	SweepConcurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"4"`

	OperatorSigningKey   string        `envconfig:"OPERATOR_SIGNING_KEY"`
	OperatorPasswordHash string        `envconfig:"OPERATOR_PASSWORD_HASH"`
	OperatorPassword     string        `envconfig:"OPERATOR_PASSWORD"`
	OperatorTokenTTL     time.Duration `envconfig:"OPERATOR_TOKEN_TTL" default:"12h"`

	IdempotencyCacheMB int `envconfig:"IDEMPOTENCY_CACHE_MB" default:"16"`

	OTelEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`

	PubSubProjectID    string `envconfig:"PUBSUB_PROJECT_ID"`
	PubSubSubscription string `envconfig:"PUBSUB_SUBSCRIPTION"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// IsProduction reports whether the process runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// OperatorEnabled reports whether operator login is configured.
func (c *Config) OperatorEnabled() bool {
	return c.OperatorSigningKey != "" && (c.OperatorPasswordHash != "" || c.OperatorPassword != "")
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// PubSubEnabled reports whether Pub/Sub triggered sweeps are configured.
func (c *Config) PubSubEnabled() bool {
	return c.PubSubProjectID != "" && c.PubSubSubscription != ""
}

func (c *Config) validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendMemory, BackendPostgres:
	case BackendFile:
		if c.SnapshotPath == "" {
			errs = append(errs, errors.New("SNAPSHOT_PATH is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel))
	}
	if c.InitialFreeUses < 1 {
		errs = append(errs, fmt.Errorf("INITIAL_FREE_USES must be at least 1, got %d", c.InitialFreeUses))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.SweepConcurrency < 1 {
		errs = append(errs, errors.New("SWEEP_CONCURRENCY must be at least 1"))
	}
	if c.OperatorTokenTTL <= 0 {
		errs = append(errs, errors.New("OPERATOR_TOKEN_TTL must be positive"))
	}
	if c.IdempotencyCacheMB < 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_CACHE_MB must not be negative"))
	}
	if c.IsProduction() && c.OperatorPassword != "" {
		errs = append(errs, errors.New("OPERATOR_PASSWORD is not allowed in production, use OPERATOR_PASSWORD_HASH"))
	}

	return errors.Join(errs...)
}
