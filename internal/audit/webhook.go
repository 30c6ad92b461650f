package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// WebhookSinkConfig configures the HTTP forwarding sink.
type WebhookSinkConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration

	// Breaker guards the remote endpoint. When disabled, requests pass
	// through unconditionally.
	BreakerEnabled             bool
	BreakerMaxRequests         uint32
	BreakerInterval            time.Duration
	BreakerTimeout             time.Duration
	BreakerConsecutiveFailures uint32
}

// WebhookSink POSTs each event as JSON to a configured endpoint. Deliveries
// run through a circuit breaker so a dead endpoint stops costing a timeout
// per event.
type WebhookSink struct {
	cfg     WebhookSinkConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewWebhookSink creates a WebhookSink. The config URL must be non-empty.
func NewWebhookSink(cfg WebhookSinkConfig, logger zerolog.Logger) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	s := &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}

	if cfg.BreakerEnabled {
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "audit_webhook",
			MaxRequests: cfg.BreakerMaxRequests,
			Interval:    cfg.BreakerInterval,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				threshold := cfg.BreakerConsecutiveFailures
				if threshold == 0 {
					threshold = 5
				}
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("audit.breaker_state_changed")
			},
		})
	}
	return s
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Deliver implements Sink.
func (s *WebhookSink) Deliver(ctx context.Context, event Event) error {
	if s.breaker == nil {
		return s.post(ctx, event)
	}
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.post(ctx, event)
	})
	return err
}

func (s *WebhookSink) post(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post audit event: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("audit endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
