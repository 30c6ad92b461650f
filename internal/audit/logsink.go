package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes audit events as structured log lines. It is the always-on
// baseline sink.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink over the given logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink. Critical events log at error level so they show
// up in default production filters.
func (s *LogSink) Deliver(_ context.Context, event Event) error {
	ev := s.logger.Info()
	if event.Critical {
		ev = s.logger.Error()
	}
	ev.Str("flag", event.Flag).
		Str("action", event.Action).
		Interface("data", event.Data).
		Msg(event.Message)
	return nil
}
