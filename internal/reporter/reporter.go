// Package reporter captures operational errors for diagnostics. Reporting is
// a side channel: it truncates oversized payloads instead of rejecting them
// and never propagates its own failures to the caller.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/oliverpay/txregistry/internal/logger"
)

// Byte caps applied before a report is persisted or logged. Oversized fields
// are truncated, never dropped.
const (
	maxStackBytes   = 4000
	maxContextBytes = 2000
	maxPreviewBytes = 1500
)

// Report is one captured error occurrence.
type Report struct {
	Time     time.Time `json:"time"`
	Source   string    `json:"source"`
	Message  string    `json:"message"`
	Stack    string    `json:"stack,omitempty"`
	Context  string    `json:"context,omitempty"`
	Preview  string    `json:"preview,omitempty"`
	Critical bool      `json:"critical,omitempty"`
}

// Reporter formats and forwards error reports.
type Reporter struct {
	logger zerolog.Logger

	// onReport, when set, observes each report (for metrics).
	onReport func(source string)
}

// New creates a Reporter writing to the given logger.
func New(log zerolog.Logger) *Reporter {
	return &Reporter{logger: log}
}

// OnReport installs a report observer. Must be set before traffic starts.
func (r *Reporter) OnReport(fn func(source string)) {
	r.onReport = fn
}

// Capture records an error with optional structured context and an input
// preview. It never panics and never returns an error; a reporting failure
// must not take down the operation being reported on.
func (r *Reporter) Capture(ctx context.Context, source string, err error, reportCtx map[string]any, preview string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("reporter.capture_panicked")
		}
	}()
	if err == nil {
		return
	}

	report := Report{
		Time:    time.Now().UTC(),
		Source:  source,
		Message: err.Error(),
		Stack:   truncate(captureStack(), maxStackBytes),
		Context: truncate(encodeContext(reportCtx), maxContextBytes),
		Preview: truncate(preview, maxPreviewBytes),
	}
	r.emit(ctx, report)
}

// CapturePanic records a recovered panic value. Call from a deferred recover
// handler.
func (r *Reporter) CapturePanic(ctx context.Context, source string, recovered any, reportCtx map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("reporter.capture_panicked")
		}
	}()
	if recovered == nil {
		return
	}

	report := Report{
		Time:     time.Now().UTC(),
		Source:   source,
		Message:  fmt.Sprintf("panic: %v", recovered),
		Stack:    truncate(captureStack(), maxStackBytes),
		Context:  truncate(encodeContext(reportCtx), maxContextBytes),
		Critical: true,
	}
	r.emit(ctx, report)
}

func (r *Reporter) emit(ctx context.Context, report Report) {
	if r.onReport != nil {
		r.onReport(report.Source)
	}

	log := r.logger
	if ctxLog := logger.FromContext(ctx); ctxLog.GetLevel() != zerolog.Disabled {
		log = ctxLog
	}

	ev := log.Error()
	if report.Critical {
		ev = log.Error().Bool("critical", true)
	}
	ev.Str("source", report.Source).
		Str("stack", report.Stack).
		Str("error_context", report.Context)
	if report.Preview != "" {
		ev = ev.Str("preview", report.Preview)
	}
	ev.Msg(report.Message)
}

// encodeContext renders the context map as compact JSON. Unserializable
// values degrade to a fmt rendering rather than losing the report.
func encodeContext(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(data)
}

func captureStack() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// truncate cuts s to at most n bytes, avoiding a split inside a UTF-8
// sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
