package gateway

import (
	"context"
	"database/sql/driver"
	goerrors "errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/oliverpay/txregistry/internal/errors"
)

// classification buckets a store error and records whether the retry
// envelope may re-run the statement.
type classification struct {
	code      errors.ErrorCode
	retryable bool
}

// classify maps a driver error onto the store error taxonomy. Connection
// failures and serialization/deadlock classes are retryable; syntax errors
// never are.
func classify(err error) classification {
	if err == nil {
		return classification{code: errors.ErrCodeStoreQuery}
	}

	if goerrors.Is(err, driver.ErrBadConn) || goerrors.Is(err, io.EOF) ||
		goerrors.Is(err, context.DeadlineExceeded) {
		return classification{code: errors.ErrCodeStoreConnection, retryable: true}
	}
	var netErr net.Error
	if goerrors.As(err, &netErr) {
		return classification{code: errors.ErrCodeStoreConnection, retryable: true}
	}

	var pqErr *pq.Error
	if goerrors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		// Class 08: connection exception; 57P01-03: server shutdown/crash.
		case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"):
			return classification{code: errors.ErrCodeStoreConnection, retryable: true}
		// 40001 serialization_failure, 40P01 deadlock_detected.
		case code == "40001", code == "40P01":
			return classification{code: errors.ErrCodeStoreQuery, retryable: true}
		// Class 42: syntax error or access rule violation.
		case strings.HasPrefix(code, "42"):
			return classification{code: errors.ErrCodeStoreSyntax}
		default:
			return classification{code: errors.ErrCodeStoreQuery}
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") {
		return classification{code: errors.ErrCodeStoreConnection, retryable: true}
	}

	return classification{code: errors.ErrCodeStoreQuery}
}

// RetryPolicy is the gateway's retry envelope. Disabled by default; when
// enabled it re-runs retryable statement classes with linear backoff.
type RetryPolicy struct {
	Enabled     bool
	MaxAttempts int
	Backoff     time.Duration
}

// attempts returns how many total tries a statement gets.
func (p RetryPolicy) attempts() int {
	if !p.Enabled || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// delay returns the linear backoff before the given retry (1-based).
func (p RetryPolicy) delay(retry int) time.Duration {
	return p.Backoff * time.Duration(retry)
}

// errorRingCap bounds the in-memory capture of recent store errors.
const errorRingCap = 200

// CapturedError is one entry in the gateway's error ring.
type CapturedError struct {
	Time    time.Time
	Code    errors.ErrorCode
	Message string
}

// errorRing is a fixed-capacity concurrent ring of recent store errors,
// oldest entries overwritten first.
type errorRing struct {
	mu      sync.Mutex
	entries []CapturedError
	next    int
	full    bool
}

func newErrorRing() *errorRing {
	return &errorRing{entries: make([]CapturedError, errorRingCap)}
}

func (r *errorRing) capture(code errors.ErrorCode, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = CapturedError{Time: time.Now(), Code: code, Message: err.Error()}
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// snapshot returns captured errors oldest-first.
func (r *errorRing) snapshot() []CapturedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]CapturedError, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]CapturedError, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
