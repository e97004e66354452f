package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the crossposter service.
// Values are loaded from environment variables (and an optional .env file);
// see the serve command help for the full list.
type Config struct {
	DatabaseDriver    string        `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL       string        `env:"DATABASE_URL" envDefault:"crossposter.db"`
	DBOpTimeout       time.Duration `env:"DB_OP_TIMEOUT" envDefault:"5s"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	HTTPAddr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	PublicBaseURL       string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	APIToken            string        `env:"API_TOKEN"`

	MediaRoot string `env:"MEDIA_ROOT" envDefault:"static/temp"`

	// Timezone is used to localise user-entered fire times before they are
	// converted to UTC.
	Timezone string `env:"TIMEZONE" envDefault:"Europe/Berlin"`

	PlatformsFile      string        `env:"PLATFORMS_FILE" envDefault:"platforms.toml"`
	PublishTimeout     time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"60s"`
	PublishParallelism int           `env:"PUBLISH_PARALLELISM" envDefault:"6"`

	ReconcileInterval  time.Duration `env:"RECONCILE_INTERVAL" envDefault:"30s"`
	ReconcileBatchSize int           `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`

	EventBusBufferSize   int           `env:"EVENTBUS_BUFFER_SIZE" envDefault:"100"`
	ExecutorWorkers      int           `env:"EXECUTOR_WORKERS" envDefault:"1"`
	ExecutorDrainTimeout time.Duration `env:"EXECUTOR_DRAIN_TIMEOUT" envDefault:"30s"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold int           `env:"CIRCUIT_BREAKER_THRESHOLD" envDefault:"5"`
	CircuitBreakerCooldown  time.Duration `env:"CIRCUIT_BREAKER_COOLDOWN" envDefault:"2m"`

	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"false"`
	MetricsPath    string `env:"METRICS_PATH" envDefault:"/metrics"`
	MetricsPort    string `env:"METRICS_PORT" envDefault:"9090"`

	RedisAddr          string        `env:"REDIS_ADDR"`
	AnalyticsRetention time.Duration `env:"ANALYTICS_RETENTION" envDefault:"720h"`

	JanitorSchedule string        `env:"JANITOR_SCHEDULE" envDefault:"@every 1h"`
	JanitorMinAge   time.Duration `env:"JANITOR_MIN_AGE" envDefault:"24h"`

	ImageMaxBytes       int `env:"IMAGE_MAX_BYTES" envDefault:"1000000"`
	ImageMaxIterations  int `env:"IMAGE_MAX_ITERATIONS" envDefault:"10"`
	ImageInitialQuality int `env:"IMAGE_INITIAL_QUALITY" envDefault:"90"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	return cfg, nil
}

// Location returns the configured timezone. Validate guarantees it loads.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseDriver          string `json:"database_driver"`
		DatabaseURL             string `json:"database_url"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		HTTPAddr                string `json:"http_addr"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		PublicBaseURL           string `json:"public_base_url"`
		APIToken                string `json:"api_token,omitempty"`
		MediaRoot               string `json:"media_root"`
		Timezone                string `json:"timezone"`
		PlatformsFile           string `json:"platforms_file"`
		PublishTimeout          string `json:"publish_timeout"`
		PublishParallelism      int    `json:"publish_parallelism"`
		ReconcileInterval       string `json:"reconcile_interval"`
		ReconcileBatchSize      int    `json:"reconcile_batch_size"`
		EventBusBufferSize      int    `json:"eventbus_buffer_size"`
		ExecutorWorkers         int    `json:"executor_workers"`
		ExecutorDrainTimeout    string `json:"executor_drain_timeout"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		MetricsPort             string `json:"metrics_port"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		AnalyticsRetention      string `json:"analytics_retention"`
		JanitorSchedule         string `json:"janitor_schedule"`
		JanitorMinAge           string `json:"janitor_min_age"`
		ImageMaxBytes           int    `json:"image_max_bytes"`
		ImageMaxIterations      int    `json:"image_max_iterations"`
		ImageInitialQuality     int    `json:"image_initial_quality"`
		LogLevel                string `json:"log_level"`
		LogFormat               string `json:"log_format"`
	}{
		DatabaseDriver:          c.DatabaseDriver,
		DatabaseURL:             maskSecret(c.DatabaseURL),
		DBOpTimeout:             c.DBOpTimeout.String(),
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetime.String(),
		HTTPAddr:                c.HTTPAddr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeout.String(),
		PublicBaseURL:           c.PublicBaseURL,
		MediaRoot:               c.MediaRoot,
		Timezone:                c.Timezone,
		PlatformsFile:           c.PlatformsFile,
		PublishTimeout:          c.PublishTimeout.String(),
		PublishParallelism:      c.PublishParallelism,
		ReconcileInterval:       c.ReconcileInterval.String(),
		ReconcileBatchSize:      c.ReconcileBatchSize,
		EventBusBufferSize:      c.EventBusBufferSize,
		ExecutorWorkers:         c.ExecutorWorkers,
		ExecutorDrainTimeout:    c.ExecutorDrainTimeout.String(),
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldown.String(),
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		RedisAddr:               c.RedisAddr,
		AnalyticsRetention:      c.AnalyticsRetention.String(),
		JanitorSchedule:         c.JanitorSchedule,
		JanitorMinAge:           c.JanitorMinAge.String(),
		ImageMaxBytes:           c.ImageMaxBytes,
		ImageMaxIterations:      c.ImageMaxIterations,
		ImageInitialQuality:     c.ImageInitialQuality,
		LogLevel:                c.LogLevel,
		LogFormat:               c.LogFormat,
	}
	if c.APIToken != "" {
		masked.APIToken = "***"
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "file:"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	if !strings.Contains(s, "://") && !strings.Contains(s, "@") {
		// Plain sqlite file path; nothing secret in it.
		return s
	}
	return "***"
}
