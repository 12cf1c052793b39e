// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	Transport           string // "http" or "stdio"
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Backend settings. An empty GeminiAPIKey selects the synthetic backend.
	GeminiAPIKey      string
	FastModel         string
	QualityModel      string
	FastMaxEdge       int
	QualityMaxEdge    int
	BackendTimeout    time.Duration
	BackendMaxRetries int

	// Orchestration settings.
	AttemptParallelism int
	RequestTimeout     time.Duration

	// Storage settings. An empty DatabaseURL selects SQLite under DataDir.
	DataDir            string
	DatabaseURL        string
	Retention          time.Duration // Zero keeps artifacts forever.
	EvictionInterval   time.Duration
	ThumbnailSize      int
	MaxInputImageBytes int64

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel    string
	LexiconFile string // Optional YAML override for the tier selection lexicon.
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		Transport:    strings.ToLower(envStr("GAZOU_TRANSPORT", "http")),
		GeminiAPIKey: envStr("GEMINI_API_KEY", ""),
		FastModel:    envStr("GAZOU_FAST_MODEL", "gemini-2.5-flash-image"),
		QualityModel: envStr("GAZOU_QUALITY_MODEL", "gemini-3-pro-image-preview"),
		DataDir:      envStr("GAZOU_DATA_DIR", "./data"),
		DatabaseURL:  envStr("DATABASE_URL", ""),
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "gazou"),
		LogLevel:     envStr("GAZOU_LOG_LEVEL", "info"),
		LexiconFile:  envStr("GAZOU_LEXICON_FILE", ""),
	}

	var err error
	cfg.Port, err = envInt("GAZOU_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("GAZOU_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("GAZOU_WRITE_TIMEOUT", 5*time.Minute)
	collect(err)
	cfg.MaxRequestBodyBytes, err = envInt64("GAZOU_MAX_REQUEST_BODY_BYTES", 96*1024*1024)
	collect(err)

	cfg.FastMaxEdge, err = envInt("GAZOU_FAST_MAX_EDGE", 1024)
	collect(err)
	cfg.QualityMaxEdge, err = envInt("GAZOU_QUALITY_MAX_EDGE", 3840)
	collect(err)
	cfg.BackendTimeout, err = envDuration("GAZOU_BACKEND_TIMEOUT", 120*time.Second)
	collect(err)
	cfg.BackendMaxRetries, err = envInt("GAZOU_BACKEND_MAX_RETRIES", 2)
	collect(err)

	cfg.AttemptParallelism, err = envInt("GAZOU_ATTEMPT_PARALLELISM", 1)
	collect(err)
	cfg.RequestTimeout, err = envDuration("GAZOU_REQUEST_TIMEOUT", 5*time.Minute)
	collect(err)

	cfg.Retention, err = envDuration("GAZOU_RETENTION", 24*time.Hour)
	collect(err)
	cfg.EvictionInterval, err = envDuration("GAZOU_EVICTION_INTERVAL", 10*time.Minute)
	collect(err)
	cfg.ThumbnailSize, err = envInt("GAZOU_THUMBNAIL_SIZE", 256)
	collect(err)
	cfg.MaxInputImageBytes, err = envInt64("GAZOU_MAX_INPUT_IMAGE_BYTES", 20*1024*1024)
	collect(err)

	cfg.RateLimitEnabled, err = envBool("GAZOU_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("GAZOU_RATE_LIMIT_RPS", 2)
	collect(err)
	cfg.RateLimitBurst, err = envInt("GAZOU_RATE_LIMIT_BURST", 10)
	collect(err)

	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that values are in range. All problems are returned together.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("GAZOU_PORT must be between 1 and 65535"))
	}
	if c.Transport != "http" && c.Transport != "stdio" {
		errs = append(errs, fmt.Errorf("GAZOU_TRANSPORT must be \"http\" or \"stdio\", got %q", c.Transport))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("GAZOU_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.FastMaxEdge <= 0 {
		errs = append(errs, fmt.Errorf("GAZOU_FAST_MAX_EDGE must be positive"))
	}
	if c.QualityMaxEdge <= 0 {
		errs = append(errs, fmt.Errorf("GAZOU_QUALITY_MAX_EDGE must be positive"))
	}
	if c.BackendMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("GAZOU_BACKEND_MAX_RETRIES must not be negative"))
	}
	if c.AttemptParallelism < 1 {
		errs = append(errs, fmt.Errorf("GAZOU_ATTEMPT_PARALLELISM must be at least 1"))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, fmt.Errorf("GAZOU_DATA_DIR is required"))
	}
	if c.Retention < 0 {
		errs = append(errs, fmt.Errorf("GAZOU_RETENTION must not be negative"))
	}
	if c.EvictionInterval <= 0 {
		errs = append(errs, fmt.Errorf("GAZOU_EVICTION_INTERVAL must be positive"))
	}
	if c.ThumbnailSize <= 0 {
		errs = append(errs, fmt.Errorf("GAZOU_THUMBNAIL_SIZE must be positive"))
	}
	if c.MaxInputImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("GAZOU_MAX_INPUT_IMAGE_BYTES must be positive"))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, fmt.Errorf("GAZOU_RATE_LIMIT_RPS and GAZOU_RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SQLitePath is where the embedded index lives when DATABASE_URL is unset.
func (c Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "gazou.db")
}

// BlobDir is the root of the artifact blob area.
func (c Config) BlobDir() string {
	return filepath.Join(c.DataDir, "artifacts")
}

// ParseLogLevel maps GAZOU_LOG_LEVEL to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("GAZOU_LOG_LEVEL=%q is not a valid log level", s)
	}
	return level, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
