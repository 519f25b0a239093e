// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidLimit is returned when a size or concurrency limit is not positive.
	ErrInvalidLimit = errors.New("config: limits must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	MaxUploadBytes int64    `env:"MAX_UPLOAD_BYTES, default=104857600" json:"max_upload_bytes"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/audiocut" json:"temp_dir"`

	// Processing settings
	MaxConcurrentExports int    `env:"MAX_CONCURRENT_EXPORTS, default=2" json:"max_concurrent_exports"`
	FFmpegPath           string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFmpegFallback       bool   `env:"FFMPEG_FALLBACK, default=false" json:"ffmpeg_fallback"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// FFmpegEnabled reports whether unknown formats go through ffmpeg.
func (c *Config) FFmpegEnabled() bool {
	return c.FFmpegPath != "" || c.FFmpegFallback
}

// Load reads and validates configuration from the process environment.
func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

// LoadWith reads configuration from lookuper and validates it.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks limits and that S3 is either fully configured or off.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.MaxUploadBytes <= 0 || c.MaxConcurrentExports <= 0 {
		return ErrInvalidLimit
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger writing to stdout.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, MaxUploadBytes: %d, MaxConcurrentExports: %d, FFmpeg: %t, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, AWSAccessKeyID: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.MaxUploadBytes,
		c.MaxConcurrentExports,
		c.FFmpegEnabled(),
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		mask(c.AWSAccessKeyID),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(s string) string {
	if s == "" {
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
