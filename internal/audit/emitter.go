// Package audit emits per-entity observability events after durable registry
// mutations. Delivery is best-effort: a sink failure never fails the owning
// operation.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one audit record. Flag identifies the entity stream (transaction,
// customer, owner), Action the lifecycle step.
type Event struct {
	Flag     string         `json:"flag"`
	Action   string         `json:"action"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
	Critical bool           `json:"critical,omitempty"`
	Time     time.Time      `json:"time"`
}

// Sink receives audit events. Implementations must be safe for concurrent
// delivery.
type Sink interface {
	// Name returns the sink's identifier for logging.
	Name() string
	// Deliver ships one event. Errors are swallowed by the emitter.
	Deliver(ctx context.Context, event Event) error
}

// Emitter fans events out to all registered sinks sequentially. Within one
// operation events keep their issue order; failures are captured at debug
// level and counted through the optional observer.
type Emitter struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger zerolog.Logger

	// onResult, when set, observes each delivery outcome (for metrics).
	onResult func(sink string, err error)
}

// NewEmitter creates an Emitter logging sink failures to the given logger.
func NewEmitter(logger zerolog.Logger) *Emitter {
	return &Emitter{logger: logger}
}

// Register adds a sink.
func (e *Emitter) Register(sink Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
	e.logger.Info().Str("sink", sink.Name()).Msg("audit.sink_registered")
}

// OnResult installs a delivery observer. Must be called before Emit traffic
// starts.
func (e *Emitter) OnResult(fn func(sink string, err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onResult = fn
}

// Emit delivers the event to every sink. Never returns an error and never
// panics; a panicking sink is contained.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	e.mu.RLock()
	sinks := e.sinks
	observer := e.onResult
	e.mu.RUnlock()

	for _, sink := range sinks {
		err := e.deliverSafely(ctx, sink, event)
		if observer != nil {
			observer(sink.Name(), err)
		}
		if err != nil {
			e.logger.Debug().
				Err(err).
				Str("sink", sink.Name()).
				Str("flag", event.Flag).
				Str("action", event.Action).
				Msg("audit.delivery_failed")
		}
	}
}

func (e *Emitter) deliverSafely(ctx context.Context, sink Sink, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panic: %v", r)
		}
	}()
	return sink.Deliver(ctx, event)
}
