package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_DRIVER",
			Message: fmt.Sprintf("must be 'postgres' or 'sqlite', got %q", cfg.DatabaseDriver),
		})
	}

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "required"})
	}

	if cfg.MediaRoot == "" {
		errs = append(errs, ValidationError{Field: "MEDIA_ROOT", Message: "required"})
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil || cfg.Timezone == "" {
		errs = append(errs, ValidationError{
			Field:   "TIMEZONE",
			Message: fmt.Sprintf("unknown timezone %q", cfg.Timezone),
		})
	}

	if u, err := url.Parse(cfg.PublicBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "PUBLIC_BASE_URL",
			Message: "must be an absolute http(s) URL",
		})
	}

	positiveDurations := []struct {
		field string
		value time.Duration
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeout},
		{"PUBLISH_TIMEOUT", cfg.PublishTimeout},
		{"RECONCILE_INTERVAL", cfg.ReconcileInterval},
		{"EXECUTOR_DRAIN_TIMEOUT", cfg.ExecutorDrainTimeout},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeout},
	}
	for _, d := range positiveDurations {
		if d.value <= 0 {
			errs = append(errs, ValidationError{Field: d.field, Message: "must be positive"})
		}
	}

	positiveInts := []struct {
		field string
		value int
	}{
		{"PUBLISH_PARALLELISM", cfg.PublishParallelism},
		{"RECONCILE_BATCH_SIZE", cfg.ReconcileBatchSize},
		{"EVENTBUS_BUFFER_SIZE", cfg.EventBusBufferSize},
		{"EXECUTOR_WORKERS", cfg.ExecutorWorkers},
		{"IMAGE_MAX_BYTES", cfg.ImageMaxBytes},
		{"IMAGE_MAX_ITERATIONS", cfg.ImageMaxIterations},
	}
	for _, n := range positiveInts {
		if n.value <= 0 {
			errs = append(errs, ValidationError{Field: n.field, Message: "must be a positive integer"})
		}
	}

	if cfg.ImageInitialQuality < 1 || cfg.ImageInitialQuality > 100 {
		errs = append(errs, ValidationError{Field: "IMAGE_INITIAL_QUALITY", Message: "must be between 1 and 100"})
	}

	if cfg.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{Field: "CIRCUIT_BREAKER_THRESHOLD", Message: "must not be negative"})
	}

	if cfg.JanitorSchedule != "" {
		if _, err := cron.ParseStandard(cfg.JanitorSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "JANITOR_SCHEDULE",
				Message: fmt.Sprintf("invalid schedule: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
