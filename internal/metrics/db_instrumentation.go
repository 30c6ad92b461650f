package metrics

import (
	"database/sql"
	"time"
)

// MeasureDBQuery wraps a store operation with timing instrumentation.
// Usage:
//
//	defer metrics.MeasureDBQuery(m, "get_transaction")()
func MeasureDBQuery(m *Metrics, operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, time.Since(start))
	}
}

// StartPoolGauge samples the pool's in-use connection count on an interval
// until stop is closed. Run it on its own goroutine.
func StartPoolGauge(m *Metrics, db *sql.DB, interval time.Duration, stop <-chan struct{}) {
	if m == nil || db == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.DBConnectionsActive.Set(float64(db.Stats().InUse))
		}
	}
}
