package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use REGISTRY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "REGISTRY_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "REGISTRY_ROUTE_PREFIX")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "REGISTRY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "REGISTRY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "REGISTRY_ENVIRONMENT")

	// Registry config
	setIfEnv(&c.Registry.Timezone, "REGISTRY_TIMEZONE")
	setDurationIfEnv(&c.Registry.StatementTimeout, "REGISTRY_STATEMENT_TIMEOUT")
	setDurationIfEnv(&c.Registry.LockTimeout, "REGISTRY_LOCK_TIMEOUT")
	setDurationIfEnv(&c.Registry.IdleInTxTimeout, "REGISTRY_IDLE_IN_TX_TIMEOUT")
	setBoolIfEnv(&c.Registry.Retry.Enabled, "REGISTRY_RETRY_ENABLED")
	setIntIfEnv(&c.Registry.Retry.MaxAttempts, "REGISTRY_RETRY_MAX_ATTEMPTS")
	setDurationIfEnv(&c.Registry.Retry.Backoff, "REGISTRY_RETRY_BACKOFF")

	// Storage config
	setIfEnv(&c.Storage.PostgresURL, "REGISTRY_POSTGRES_URL")
	setIfEnv(&c.Storage.TransactionsTable, "REGISTRY_TRANSACTIONS_TABLE")
	setIntIfEnv(&c.Storage.PostgresPool.MaxOpenConns, "REGISTRY_PG_MAX_OPEN_CONNS")
	setIntIfEnv(&c.Storage.PostgresPool.MaxIdleConns, "REGISTRY_PG_MAX_IDLE_CONNS")
	setDurationIfEnv(&c.Storage.PostgresPool.ConnMaxLifetime, "REGISTRY_PG_CONN_MAX_LIFETIME")

	// Audit config
	setIfEnv(&c.Audit.WebhookURL, "REGISTRY_AUDIT_WEBHOOK_URL")
	setDurationIfEnv(&c.Audit.Timeout, "REGISTRY_AUDIT_TIMEOUT")
	setBoolIfEnv(&c.Audit.Breaker.Enabled, "REGISTRY_AUDIT_BREAKER_ENABLED")
	// Load audit headers (REGISTRY_AUDIT_HEADER_*)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "REGISTRY_AUDIT_HEADER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "REGISTRY_AUDIT_HEADER_")
		if name == "" {
			continue
		}
		if c.Audit.Headers == nil {
			c.Audit.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Audit.Headers[headerName] = parts[1]
	}

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.Enabled, "REGISTRY_RATE_LIMIT_ENABLED")
	setIntIfEnv(&c.RateLimit.RequestsPerMinute, "REGISTRY_RATE_LIMIT_RPM")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
