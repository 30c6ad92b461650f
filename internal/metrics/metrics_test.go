package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.OperationsTotal == nil {
		t.Error("OperationsTotal should be initialized")
	}
	if m.OperationDuration == nil {
		t.Error("OperationDuration should be initialized")
	}
	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration should be initialized")
	}
	if m.AuditEmittedTotal == nil {
		t.Error("AuditEmittedTotal should be initialized")
	}
}

func TestObserveOperation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveOperation("create", 10*time.Millisecond, "")
	m.ObserveOperation("create", 10*time.Millisecond, "store_query")

	total := promtest.ToFloat64(m.OperationsTotal.WithLabelValues("create"))
	if total != 2 {
		t.Errorf("expected 2 operations, got %.0f", total)
	}
	failed := promtest.ToFloat64(m.OperationsFailedTotal.WithLabelValues("create", "store_query"))
	if failed != 1 {
		t.Errorf("expected 1 failed operation, got %.0f", failed)
	}
}

func TestObserveAudit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveAudit("webhook", nil)
	m.ObserveAudit("webhook", errors.New("down"))

	emitted := promtest.ToFloat64(m.AuditEmittedTotal.WithLabelValues("webhook"))
	if emitted != 1 {
		t.Errorf("expected 1 emitted event, got %.0f", emitted)
	}
	failed := promtest.ToFloat64(m.AuditFailedTotal.WithLabelValues("webhook"))
	if failed != 1 {
		t.Errorf("expected 1 failed event, got %.0f", failed)
	}
}

func TestObserveQuerySwallowed(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveQuerySwallowed()
	m.ObserveQuerySwallowed()

	if got := promtest.ToFloat64(m.QuerySwallowedTotal); got != 2 {
		t.Errorf("expected 2 swallowed queries, got %.0f", got)
	}
}

func TestMeasureDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	done := MeasureDBQuery(m, "insert_transaction")
	done()

	count := promtest.CollectAndCount(m.DBQueryDuration)
	if count != 1 {
		t.Errorf("expected 1 histogram series, got %d", count)
	}
}

func TestMeasureDBQueryNilMetrics(t *testing.T) {
	// Must not panic.
	MeasureDBQuery(nil, "anything")()
}
