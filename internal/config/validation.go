package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Registry.Timezone == "" {
		c.Registry.Timezone = DefaultTimezone
	}
	if c.Registry.StatementTimeout.Duration == 0 {
		c.Registry.StatementTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.Registry.Retry.MaxAttempts <= 0 {
		c.Registry.Retry.MaxAttempts = 3
	}
	if c.Registry.Retry.Backoff.Duration <= 0 {
		c.Registry.Retry.Backoff = Duration{Duration: 100 * time.Millisecond}
	}
	if c.Storage.TransactionsTable == "" {
		c.Storage.TransactionsTable = "transactions"
	}
	if c.Audit.Timeout.Duration <= 0 {
		c.Audit.Timeout = Duration{Duration: 5 * time.Second}
	}
	if c.Audit.Breaker.MaxRequests == 0 {
		c.Audit.Breaker.MaxRequests = 1
	}
	if c.Audit.Breaker.Interval.Duration <= 0 {
		c.Audit.Breaker.Interval = Duration{Duration: 60 * time.Second}
	}
	if c.Audit.Breaker.Timeout.Duration <= 0 {
		c.Audit.Breaker.Timeout = Duration{Duration: 30 * time.Second}
	}
	if c.Audit.Breaker.ConsecutiveFailures == 0 {
		c.Audit.Breaker.ConsecutiveFailures = 5
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 300
	}

	return c.validate()
}

// validate rejects configurations the registry cannot run with.
func (c *Config) validate() error {
	var errs []error

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not a known level", c.Logging.Level))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}

	if c.Storage.PostgresURL == "" {
		errs = append(errs, errors.New("storage.postgres_url is required"))
	}

	if c.Storage.PostgresPool.MaxOpenConns < 0 || c.Storage.PostgresPool.MaxIdleConns < 0 {
		errs = append(errs, errors.New("storage.postgres_pool connection limits must be non-negative"))
	}

	if c.Registry.StatementTimeout.Duration < 0 || c.Registry.LockTimeout.Duration < 0 {
		errs = append(errs, errors.New("registry timeouts must be non-negative"))
	}

	if _, err := time.LoadLocation(c.Registry.Timezone); err != nil && c.Registry.Timezone != DefaultTimezone {
		errs = append(errs, fmt.Errorf("registry.timezone %q: %w", c.Registry.Timezone, err))
	}

	if c.Audit.WebhookURL != "" &&
		!strings.HasPrefix(c.Audit.WebhookURL, "http://") &&
		!strings.HasPrefix(c.Audit.WebhookURL, "https://") {
		errs = append(errs, fmt.Errorf("audit.webhook_url %q must be http(s)", c.Audit.WebhookURL))
	}

	return errors.Join(errs...)
}

// ApplyPostgresPoolSettings configures a *sql.DB with the pool limits.
// Kept here so every pool consumer applies identical settings.
func ApplyPostgresPoolSettings(db *sql.DB, p PostgresPoolConfig) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime.Duration)
	}
}
