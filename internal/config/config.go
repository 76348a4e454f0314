// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrRenderEngineURLRequired is returned when RENDER_ENGINE_URL is not set.
	ErrRenderEngineURLRequired = errors.New("config: RENDER_ENGINE_URL is required")
	// ErrSpeechAPIKeyRequired is returned when SPEECH_API_KEY is not set.
	ErrSpeechAPIKeyRequired = errors.New("config: SPEECH_API_KEY is required")
	// ErrUnknownJobStore is returned when JOB_STORE names no known backend.
	ErrUnknownJobStore = errors.New("config: JOB_STORE must be memory, sqlite, postgres or redis")
	// ErrDatabaseURLRequired is returned when JOB_STORE=postgres without DATABASE_URL.
	ErrDatabaseURLRequired = errors.New("config: DATABASE_URL is required for the postgres job store")
	// ErrRedisAddrRequired is returned when JOB_STORE=redis without REDIS_ADDR.
	ErrRedisAddrRequired = errors.New("config: REDIS_ADDR is required for the redis job store")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// Job store backends.
const (
	JobStoreMemory   = "memory"
	JobStoreSQLite   = "sqlite"
	JobStorePostgres = "postgres"
	JobStoreRedis    = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port            int           `env:"PORT, default=8080" json:"port"`
	PublicHost      string        `env:"PUBLIC_HOST, default=http://localhost:8080" json:"public_host"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s" json:"shutdown_timeout"`

	// Storage settings
	OutputDir string `env:"OUTPUT_DIR, default=/tmp/videoforge" json:"output_dir"`
	// Fallback videos under OUTPUT_DIR/videos are deleted after this long; 0 keeps them.
	RetainedVideoTTL       time.Duration `env:"RETAINED_VIDEO_TTL, default=72h" json:"retained_video_ttl"`
	RetentionSweepInterval time.Duration `env:"RETENTION_SWEEP_INTERVAL, default=1h" json:"retention_sweep_interval"`

	// Render engine settings
	RenderEngineURL     string `env:"RENDER_ENGINE_URL, required" json:"render_engine_url"`
	RenderEntryPoint    string `env:"RENDER_ENTRY_POINT, default=src/index.ts" json:"render_entry_point"`
	RenderCompositionID string `env:"RENDER_COMPOSITION_ID, default=MainVideo" json:"render_composition_id"`
	RenderConcurrency   int    `env:"RENDER_CONCURRENCY, default=4" json:"render_concurrency"`

	// Speech settings
	SpeechAPIURL     string `env:"SPEECH_API_URL, default=https://api.openai.com/v1" json:"speech_api_url"`
	SpeechAPIKey     string `env:"SPEECH_API_KEY, required" json:"-"` // Masked in JSON
	SpeechVoiceModel string `env:"SPEECH_VOICE_MODEL, default=tts-1:alloy" json:"speech_voice_model"`

	// Progress settings
	ProgressMinInterval time.Duration `env:"PROGRESS_MIN_INTERVAL, default=1s" json:"progress_min_interval"`

	// Job store settings
	JobStore    string        `env:"JOB_STORE, default=memory" json:"job_store"`
	DatabaseURL string        `env:"DATABASE_URL" json:"-"` // May embed credentials
	SQLitePath  string        `env:"SQLITE_PATH" json:"sqlite_path,omitempty"`
	RedisAddr   string        `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	RedisJobTTL time.Duration `env:"REDIS_JOB_TTL, default=168h" json:"redis_job_ttl"`
	OriginTable string        `env:"ORIGIN_TABLE, default=analyses" json:"origin_table"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3KeyPrefix        string `env:"S3_KEY_PREFIX" json:"s3_key_prefix,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3PublicBaseURL    string `env:"S3_PUBLIC_BASE_URL" json:"s3_public_base_url,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Media tool settings
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// SQLiteFile returns the SQLite database path, defaulting to OUTPUT_DIR/jobs.db.
func (c *Config) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.OutputDir, "jobs.db")
}

// LoadDotEnv loads variables from the given .env files (".env" when none are
// given) without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set or the
// configuration is inconsistent.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: lookuper}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "RENDER_ENGINE_URL") {
			return nil, ErrRenderEngineURLRequired
		}
		if strings.Contains(err.Error(), "SPEECH_API_KEY") {
			return nil, ErrSpeechAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.RenderEngineURL == "" {
		return ErrRenderEngineURLRequired
	}
	if c.SpeechAPIKey == "" {
		return ErrSpeechAPIKeyRequired
	}

	switch strings.ToLower(c.JobStore) {
	case "", JobStoreMemory, JobStoreSQLite:
	case JobStorePostgres:
		if c.DatabaseURL == "" {
			return ErrDatabaseURLRequired
		}
	case JobStoreRedis:
		if c.RedisAddr == "" {
			return ErrRedisAddrRequired
		}
	default:
		return fmt.Errorf("%w, got %q", ErrUnknownJobStore, c.JobStore)
	}

	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger writing to stdout.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo creates a structured logger writing to w.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
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
		"Config{Port: %d, PublicHost: %s, OutputDir: %s, RenderEngineURL: %s, RenderCompositionID: %s, RenderConcurrency: %d, SpeechAPIURL: %s, SpeechVoiceModel: %s, JobStore: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.PublicHost,
		c.OutputDir,
		c.RenderEngineURL,
		c.RenderCompositionID,
		c.RenderConcurrency,
		c.SpeechAPIURL,
		c.SpeechVoiceModel,
		c.JobStore,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
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
