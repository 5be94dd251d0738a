// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/renderly/internal/poll"
)

// Static errors for configuration validation.
var (
	// ErrProjectIDRequired is returned when GCP_PROJECT_ID is not set.
	ErrProjectIDRequired = errors.New("config: GCP_PROJECT_ID is required")
	// ErrBucketRequired is returned when GCS_BUCKET is not set.
	ErrBucketRequired = errors.New("config: GCS_BUCKET is required")
	// ErrHeyGenAPIKeyRequired is returned when HEYGEN_API_KEY is not set.
	ErrHeyGenAPIKeyRequired = errors.New("config: HEYGEN_API_KEY is required")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_JOBS or JOB_QUEUE_SIZE is not positive.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_JOBS and JOB_QUEUE_SIZE must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	APIKey         string   `env:"API_KEY" json:"-"` // Masked in JSON
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Vertex AI settings
	GCPProjectID          string `env:"GCP_PROJECT_ID, required" json:"gcp_project_id"`
	GCPLocation           string `env:"GCP_LOCATION, default=us-central1" json:"gcp_location"`
	VeoModel              string `env:"VEO_MODEL, default=veo-3.1-generate-preview" json:"veo_model"`
	GCSBucket             string `env:"GCS_BUCKET, required" json:"gcs_bucket"`
	GCPServiceAccountFile string `env:"GCP_SERVICE_ACCOUNT_FILE" json:"gcp_service_account_file,omitempty"`

	// HeyGen settings
	HeyGenAPIKey string `env:"HEYGEN_API_KEY, required" json:"-"` // Masked in JSON

	// Persistence settings; memory store when DATABASE_URL is empty
	DatabaseURL     string `env:"DATABASE_URL" json:"-"` // Masked in JSON
	DatabaseMaxConn int32  `env:"DATABASE_MAX_CONNS, default=10" json:"database_max_conns"`

	// Processing settings
	MaxConcurrentJobs int `env:"MAX_CONCURRENT_JOBS, default=4" json:"max_concurrent_jobs"`
	JobQueueSize      int `env:"JOB_QUEUE_SIZE, default=100" json:"job_queue_size"`

	// Poll overrides; zero keeps the preset value
	BrollPollMaxAttempts       int           `env:"BROLL_POLL_MAX_ATTEMPTS" json:"broll_poll_max_attempts,omitempty"`
	BrollPollInterval          time.Duration `env:"BROLL_POLL_INTERVAL" json:"broll_poll_interval,omitempty"`
	BrollPollMaxWait           time.Duration `env:"BROLL_POLL_MAX_WAIT" json:"broll_poll_max_wait,omitempty"`
	CompositionPollMaxAttempts int           `env:"COMPOSITION_POLL_MAX_ATTEMPTS" json:"composition_poll_max_attempts,omitempty"`
	CompositionPollInterval    time.Duration `env:"COMPOSITION_POLL_INTERVAL" json:"composition_poll_interval,omitempty"`
	CompositionPollMaxWait     time.Duration `env:"COMPOSITION_POLL_MAX_WAIT" json:"composition_poll_max_wait,omitempty"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/renderly" json:"temp_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Webhook settings
	WebhookMaxRetries int           `env:"WEBHOOK_MAX_RETRIES, default=3" json:"webhook_max_retries"`
	WebhookTimeout    time.Duration `env:"WEBHOOK_TIMEOUT, default=10s" json:"webhook_timeout"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// DatabaseEnabled returns true when jobs are stored in PostgreSQL.
func (c *Config) DatabaseEnabled() bool {
	return c.DatabaseURL != ""
}

// Load reads configuration from environment variables using go-envconfig.
// A .env file in the working directory is loaded first when present; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		switch {
		case strings.Contains(err.Error(), "GCP_PROJECT_ID"):
			return nil, ErrProjectIDRequired
		case strings.Contains(err.Error(), "GCS_BUCKET"):
			return nil, ErrBucketRequired
		case strings.Contains(err.Error(), "HEYGEN_API_KEY"):
			return nil, ErrHeyGenAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.GCPProjectID == "" {
		return ErrProjectIDRequired
	}
	if c.GCSBucket == "" {
		return ErrBucketRequired
	}
	if c.HeyGenAPIKey == "" {
		return ErrHeyGenAPIKeyRequired
	}
	if c.MaxConcurrentJobs < 1 || c.JobQueueSize < 1 {
		return ErrInvalidConcurrency
	}
	return nil
}

// BrollPoll returns the background clip poll budget with overrides applied.
func (c *Config) BrollPoll() poll.Config {
	return override(poll.BrollDefaults(), c.BrollPollMaxAttempts, c.BrollPollInterval, c.BrollPollMaxWait)
}

// CompositionPoll returns the presenter render poll budget with overrides applied.
func (c *Config) CompositionPoll() poll.Config {
	return override(poll.CompositionDefaults(), c.CompositionPollMaxAttempts, c.CompositionPollInterval, c.CompositionPollMaxWait)
}

// override applies non-zero values. An interval override fixes the delay.
func override(cfg poll.Config, attempts int, interval, maxWait time.Duration) poll.Config {
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	if interval > 0 {
		cfg.InitialDelay = interval
		cfg.MaxDelay = interval
		cfg.Multiplier = 1
	}
	if maxWait > 0 {
		cfg.MaxWait = maxWait
	}
	return cfg
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, GCPProjectID: %s, GCPLocation: %s, VeoModel: %s, GCSBucket: %s, HeyGenAPIKey: %s, DatabaseURL: %s, MaxConcurrentJobs: %d, JobQueueSize: %d, TempDir: %s, S3Bucket: %s, S3Region: %s, APIKey: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.GCPProjectID,
		c.GCPLocation,
		c.VeoModel,
		c.GCSBucket,
		mask(c.HeyGenAPIKey),
		mask(c.DatabaseURL),
		c.MaxConcurrentJobs,
		c.JobQueueSize,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		mask(c.APIKey),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
