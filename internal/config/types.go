package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Registry  RegistryConfig  `yaml:"registry"`
	Storage   StorageConfig   `yaml:"storage"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"` // Optional prefix for all routes (e.g., "/api")
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, console
	Environment string `yaml:"environment"`
}

// RegistryConfig holds registry core behavior settings.
type RegistryConfig struct {
	// Timezone used to expand dateStart/dateEnd query filters into day
	// windows. Default: Asia/Hong_Kong.
	Timezone string `yaml:"timezone"`

	// Per-statement and per-transaction timeouts applied via session settings.
	StatementTimeout Duration `yaml:"statement_timeout"` // default 15s
	LockTimeout      Duration `yaml:"lock_timeout"`      // default 0 (unlimited)
	IdleInTxTimeout  Duration `yaml:"idle_in_tx_timeout"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig holds the store retry envelope settings. Disabled by default;
// retries only connection and serialization/deadlock error classes.
type RetryConfig struct {
	Enabled     bool     `yaml:"enabled"`
	MaxAttempts int      `yaml:"max_attempts"` // default 3
	Backoff     Duration `yaml:"backoff"`      // linear step, default 100ms
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	PostgresURL      string             `yaml:"postgres_url"`
	TransactionsTable string            `yaml:"transactions_table"` // Default: "transactions"
	PostgresPool     PostgresPoolConfig `yaml:"postgres_pool"`
}

// AuditConfig holds audit event forwarding configuration. The log sink is
// always on; the webhook sink activates when a URL is configured.
type AuditConfig struct {
	WebhookURL string            `yaml:"webhook_url"`
	Headers    map[string]string `yaml:"headers"`
	Timeout    Duration          `yaml:"timeout"` // default 5s
	Breaker    BreakerConfig     `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker guarding the audit webhook.
type BreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`
	MaxRequests         uint32   `yaml:"max_requests"`         // half-open probe budget, default 1
	Interval            Duration `yaml:"interval"`             // closed-state count reset, default 60s
	Timeout             Duration `yaml:"timeout"`              // open -> half-open, default 30s
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // trip threshold, default 5
}

// RateLimitConfig holds per-IP HTTP rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"` // default 300
}
