package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/oliverpay/txregistry/internal/errors"
	"github.com/oliverpay/txregistry/internal/metrics"
	"github.com/oliverpay/txregistry/internal/sanitize"
)

// Query returns one filtered, paginated page of live transactions plus the
// unpaginated total. Filter validation errors surface; store failures are
// swallowed into an empty page so listing callers degrade instead of
// erroring, with the cause captured by the reporter.
func (r *Registry) Query(ctx context.Context, filters map[string]any, page Page) (*QueryResult, error) {
	start := time.Now()
	empty := &QueryResult{Transactions: []*Transaction{}}

	cf, err := CompileFilters(filters, r.loc)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ObserveOperation("query", time.Since(start), string(errors.CodeOf(err)))
		}
		r.reporter.Capture(ctx, "registry.query", err, map[string]any{"op": "query"}, "")
		return nil, err
	}

	page = page.Clamp()
	result, err := r.runQuery(ctx, cf, page)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ObserveOperation("query", time.Since(start), string(errors.CodeOf(err)))
			r.metrics.ObserveQuerySwallowed()
		}
		r.reporter.Capture(ctx, "registry.query", err, map[string]any{
			"op":     "query",
			"limit":  page.Limit,
			"offset": page.Offset,
		}, "")
		r.logger.Warn().Err(err).Msg("registry.query_swallowed")
		return empty, nil
	}

	if r.metrics != nil {
		r.metrics.ObserveOperation("query", time.Since(start), "")
	}
	return result, nil
}

func (r *Registry) runQuery(ctx context.Context, cf *compiledFilter, page Page) (*QueryResult, error) {
	defer metrics.MeasureDBQuery(r.metrics, "query_transactions")()

	countRow, err := r.store.GetRow(ctx, cf.CountSQL(r.table), cf.Args()...)
	if err != nil {
		return nil, err
	}
	total := rowInt(countRow, "total")

	res, err := r.store.Query(ctx, cf.PageSQL(r.table), cf.PageArgs(page)...)
	if err != nil {
		return nil, err
	}

	out := &QueryResult{
		Transactions: make([]*Transaction, 0, res.RowCount),
		Total:        total,
	}
	for _, row := range res.Rows {
		t, err := transactionFromRow(row)
		if err != nil {
			return nil, err
		}
		out.Transactions = append(out.Transactions, t)
	}
	return out, nil
}

// CountAll returns the number of live transactions. Store failures are
// recorded and degrade to 0.
func (r *Registry) CountAll(ctx context.Context) int {
	sqlText := fmt.Sprintf("SELECT COUNT(*) AS total FROM %s WHERE is_deleted = false", r.table)
	return r.countWith(ctx, "count_all", sqlText)
}

// CountByStatus returns the number of live transactions in the normalized
// status. A missing status is an error; store failures degrade to 0.
func (r *Registry) CountByStatus(ctx context.Context, status string) (int, error) {
	normalized, err := NormalizeStatus(status)
	if err != nil {
		return 0, err
	}
	sqlText := fmt.Sprintf("SELECT COUNT(*) AS total FROM %s WHERE status = $1 AND is_deleted = false", r.table)
	return r.countWith(ctx, "count_by_status", sqlText, normalized), nil
}

func (r *Registry) countWith(ctx context.Context, op, sqlText string, args ...any) int {
	start := time.Now()
	done := metrics.MeasureDBQuery(r.metrics, op)
	row, err := r.store.GetRow(ctx, sqlText, args...)
	done()
	if err != nil {
		if r.metrics != nil {
			r.metrics.ObserveOperation(op, time.Since(start), string(errors.CodeOf(err)))
		}
		r.reporter.Capture(ctx, "registry."+op, err, map[string]any{"op": op}, "")
		return 0
	}
	if r.metrics != nil {
		r.metrics.ObserveOperation(op, time.Since(start), "")
	}
	return rowInt(row, "total")
}

// rowInt widens the count column across the integer shapes drivers return.
func rowInt(row map[string]any, col string) int {
	if row == nil {
		return 0
	}
	if n, ok := sanitize.Int(row[col]); ok {
		return int(n)
	}
	return 0
}
