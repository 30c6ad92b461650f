// Command registryd runs the transaction registry as an HTTP service over a
// PostgreSQL store.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oliverpay/txregistry/internal/audit"
	"github.com/oliverpay/txregistry/internal/config"
	"github.com/oliverpay/txregistry/internal/dbpool"
	"github.com/oliverpay/txregistry/internal/gateway"
	"github.com/oliverpay/txregistry/internal/httpserver"
	"github.com/oliverpay/txregistry/internal/lifecycle"
	"github.com/oliverpay/txregistry/internal/logger"
	"github.com/oliverpay/txregistry/internal/metrics"
	"github.com/oliverpay/txregistry/internal/registry"
	"github.com/oliverpay/txregistry/internal/reporter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "registryd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("REGISTRY_CONFIG"), "path to YAML config file")
	bootstrap := flag.Bool("bootstrap", false, "create the transactions table and indexes, then continue serving")
	flag.Parse()

	// Optional; env vars may come from the real environment instead.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "txregistry",
		Environment: cfg.Logging.Environment,
	})

	closer := lifecycle.NewManager()
	defer closer.Close()

	pool, err := dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	closer.Register("postgres_pool", pool)

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	gw := gateway.New(pool.DB(), gateway.Options{
		StatementTimeout: cfg.Registry.StatementTimeout.Duration,
		LockTimeout:      cfg.Registry.LockTimeout.Duration,
		IdleInTxTimeout:  cfg.Registry.IdleInTxTimeout.Duration,
		Retry: gateway.RetryPolicy{
			Enabled:     cfg.Registry.Retry.Enabled,
			MaxAttempts: cfg.Registry.Retry.MaxAttempts,
			Backoff:     cfg.Registry.Retry.Backoff.Duration,
		},
		OnRetry:   metricsCollector.ObserveDBRetry,
		OnFailure: metricsCollector.ObserveDBFailure,
	})
	if err := gw.RegisterTable(cfg.Storage.TransactionsTable, registry.TableColumns...); err != nil {
		return fmt.Errorf("register table: %w", err)
	}

	emitter := audit.NewEmitter(appLogger)
	emitter.OnResult(metricsCollector.ObserveAudit)
	emitter.Register(audit.NewLogSink(appLogger))
	if cfg.Audit.WebhookURL != "" {
		emitter.Register(audit.NewWebhookSink(audit.WebhookSinkConfig{
			URL:                        cfg.Audit.WebhookURL,
			Headers:                    cfg.Audit.Headers,
			Timeout:                    cfg.Audit.Timeout.Duration,
			BreakerEnabled:             cfg.Audit.Breaker.Enabled,
			BreakerMaxRequests:         cfg.Audit.Breaker.MaxRequests,
			BreakerInterval:            cfg.Audit.Breaker.Interval.Duration,
			BreakerTimeout:             cfg.Audit.Breaker.Timeout.Duration,
			BreakerConsecutiveFailures: cfg.Audit.Breaker.ConsecutiveFailures,
		}, appLogger))
	}

	errorReporter := reporter.New(appLogger)
	errorReporter.OnReport(metricsCollector.ObserveReport)

	reg := registry.New(registry.NewStore(gw), registry.Config{
		Table:    cfg.Storage.TransactionsTable,
		Timezone: cfg.Registry.Timezone,
		Audit:    emitter,
		Reporter: errorReporter,
		Metrics:  metricsCollector,
		Logger:   appLogger,
	})
	closer.Register("registry", reg)

	if *bootstrap {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := reg.Bootstrap(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
		appLogger.Info().Str("table", cfg.Storage.TransactionsTable).Msg("schema bootstrapped")
	}

	poolGaugeStop := make(chan struct{})
	go metrics.StartPoolGauge(metricsCollector, pool.DB(), 15*time.Second, poolGaugeStop)
	closer.RegisterFunc("pool_gauge", func() error {
		close(poolGaugeStop)
		return nil
	})

	srv := httpserver.New(cfg, reg, metricsCollector, appLogger)

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info().Str("address", cfg.Server.Address).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		appLogger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return closer.Close()
}
