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
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Static errors for configuration validation.
var (
	// ErrInvalidDefaultDuration is returned when DEFAULT_DURATION_HOURS is not positive.
	ErrInvalidDefaultDuration = errors.New("config: DEFAULT_DURATION_HOURS must be positive")
	// ErrInvalidMaxRepeatCount is returned when MAX_REPEAT_COUNT is negative.
	ErrInvalidMaxRepeatCount = errors.New("config: MAX_REPEAT_COUNT must not be negative")
	// ErrInvalidStopGrace is returned when STOP_GRACE_SEC is not positive.
	ErrInvalidStopGrace = errors.New("config: STOP_GRACE_SEC must be positive")
	// ErrInvalidJobRetention is returned when JOB_RETENTION_HOURS is negative.
	ErrInvalidJobRetention = errors.New("config: JOB_RETENTION_HOURS must not be negative")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
	// ErrOutputDirRequired is returned when OUTPUT_DIR is empty.
	ErrOutputDirRequired = errors.New("config: OUTPUT_DIR is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	OutputDir string `env:"OUTPUT_DIR, default=./output" json:"output_dir"`
	TempDir   string `env:"TEMP_DIR, default=/tmp/longplay" json:"temp_dir"`

	// Tool settings
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Processing settings
	DefaultDurationHours float64 `env:"DEFAULT_DURATION_HOURS, default=10" json:"default_duration_hours"`
	MaxRepeatCount       int     `env:"MAX_REPEAT_COUNT, default=0" json:"max_repeat_count"` // 0 = unlimited
	StopGraceSec         int     `env:"STOP_GRACE_SEC, default=10" json:"stop_grace_sec"`
	JobRetentionHours    int     `env:"JOB_RETENTION_HOURS, default=24" json:"job_retention_hours"` // 0 = keep forever

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat         string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel          string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
	LogFile           string `env:"LOG_FILE" json:"log_file,omitempty"`         // Optional rotating file sink
	LogFileMaxSizeMB  int    `env:"LOG_FILE_MAX_SIZE_MB, default=100" json:"log_file_max_size_mb"`
	LogFileMaxBackups int    `env:"LOG_FILE_MAX_BACKUPS, default=5" json:"log_file_max_backups"`
	LogFileMaxAgeDays int    `env:"LOG_FILE_MAX_AGE_DAYS, default=28" json:"log_file_max_age_days"`
	LogFileCompress   bool   `env:"LOG_FILE_COMPRESS, default=false" json:"log_file_compress"`
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// StopGrace returns how long ffmpeg may take to exit after an interrupt.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSec) * time.Second
}

// JobRetention returns how long finished jobs stay listed.
func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionHours) * time.Hour
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return ErrOutputDirRequired
	}
	if c.DefaultDurationHours <= 0 {
		return ErrInvalidDefaultDuration
	}
	if c.MaxRepeatCount < 0 {
		return ErrInvalidMaxRepeatCount
	}
	if c.StopGraceSec <= 0 {
		return ErrInvalidStopGrace
	}
	if c.JobRetentionHours < 0 {
		return ErrInvalidJobRetention
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs. If LogFile is set, logs
// are also written to a size-rotated file; the returned Closer closes it.
func (c *Config) NewLogger() (*slog.Logger, io.Closer) {
	level := parseLogLevel(c.LogLevel)

	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if c.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    c.LogFileMaxSizeMB,
			MaxBackups: c.LogFileMaxBackups,
			MaxAge:     c.LogFileMaxAgeDays,
			Compress:   c.LogFileCompress,
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	return slog.New(newHandler(out, c.LogFormat, level)), closer
}

func newHandler(out io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, OutputDir: %s, TempDir: %s, FFmpegPath: %s, FFprobePath: %s, DefaultDurationHours: %g, MaxRepeatCount: %d, StopGraceSec: %d, JobRetentionHours: %d, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, LogFormat: %s, LogLevel: %s, LogFile: %s}",
		c.Port,
		c.OutputDir,
		c.TempDir,
		c.FFmpegPath,
		c.FFprobePath,
		c.DefaultDurationHours,
		c.MaxRepeatCount,
		c.StopGraceSec,
		c.JobRetentionHours,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		c.LogFormat,
		c.LogLevel,
		c.LogFile,
	)
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
