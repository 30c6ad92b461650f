// Package gateway mediates all SQL traffic for the transaction registry. It
// is deliberately paranoid: identifiers are validated and quoted, insert and
// update columns must be whitelisted per table, free-form WHERE fragments are
// linted, and every statement's placeholders are counted against its
// arguments before anything reaches the driver.
package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oliverpay/txregistry/internal/errors"
	"github.com/oliverpay/txregistry/internal/logger"
)

// Row is a single result row keyed by column name.
type Row = map[string]any

// Result carries the rows and row count of a query.
type Result struct {
	Rows     []Row
	RowCount int
}

// Options configures gateway timeouts and the retry envelope.
type Options struct {
	// StatementTimeout bounds individual statements. Applied as a context
	// deadline on pool queries and as SET LOCAL inside transactions.
	StatementTimeout time.Duration
	// LockTimeout bounds row-lock waits inside transactions. Zero means
	// unlimited.
	LockTimeout time.Duration
	// IdleInTxTimeout aborts transactions that sit idle between statements.
	IdleInTxTimeout time.Duration
	// Retry is the statement retry envelope (default off).
	Retry RetryPolicy

	// OnRetry and OnFailure, when set, observe retry attempts and
	// classified statement failures (for metrics).
	OnRetry   func()
	OnFailure func(code string)
}

// DefaultStatementTimeout is used when Options leaves it zero.
const DefaultStatementTimeout = 15 * time.Second

// Stats is a snapshot of gateway counters plus pool state.
type Stats struct {
	QueriesTotal  int64
	RetriesTotal  int64
	FailuresTotal int64
	TxTotal       int64
	Pool          sql.DBStats
}

// Gateway is the single mediator between the registry and PostgreSQL.
// Its internal caches (prepared statements, error ring, counters) are safe
// for concurrent use.
type Gateway struct {
	db   *sql.DB
	opts Options

	mu     sync.RWMutex
	tables map[string]map[string]struct{} // table -> allowed column set

	stmts sync.Map // sql text -> *sql.Stmt
	ring  *errorRing

	queries  atomic.Int64
	retries  atomic.Int64
	failures atomic.Int64
	txs      atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New creates a Gateway over an existing connection pool. The pool is not
// owned: Close releases prepared statements but leaves the pool to its
// creator.
func New(db *sql.DB, opts Options) *Gateway {
	if opts.StatementTimeout <= 0 {
		opts.StatementTimeout = DefaultStatementTimeout
	}
	return &Gateway{
		db:     db,
		opts:   opts,
		tables: make(map[string]map[string]struct{}),
		ring:   newErrorRing(),
	}
}

// RegisterTable declares a table and its allowed columns. Insert and Update
// reject tables and columns not registered here.
func (g *Gateway) RegisterTable(name string, columns ...string) error {
	if err := validateIdentifier(name); err != nil {
		return err
	}
	set := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		if err := validateIdentifier(col); err != nil {
			return err
		}
		set[col] = struct{}{}
	}
	g.mu.Lock()
	g.tables[name] = set
	g.mu.Unlock()
	return nil
}

// Query runs a SELECT-style statement and returns all rows.
func (g *Gateway) Query(ctx context.Context, sqlText string, args ...any) (*Result, error) {
	rows, err := g.exec(ctx, sqlText, args)
	if err != nil {
		return nil, err
	}
	return &Result{Rows: rows, RowCount: len(rows)}, nil
}

// GetRow runs a statement expected to yield at most one row. Returns nil
// with no error when the result set is empty.
func (g *Gateway) GetRow(ctx context.Context, sqlText string, args ...any) (Row, error) {
	rows, err := g.exec(ctx, sqlText, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Insert writes one row into a registered table and returns the inserted row
// (RETURNING *). Unknown columns are rejected before SQL assembly.
func (g *Gateway) Insert(ctx context.Context, table string, row Row) (Row, error) {
	sqlText, args, err := g.BuildInsertSQL(table, row)
	if err != nil {
		return nil, err
	}
	inserted, err := g.exec(ctx, sqlText, args)
	if err != nil {
		return nil, err
	}
	if len(inserted) == 0 {
		return nil, errors.E(errors.ErrCodeStoreQuery, "insert returned no row")
	}
	return inserted[0], nil
}

// Update applies a SET map under a caller-supplied WHERE fragment and returns
// the updated rows (RETURNING *). WHERE placeholders $1..$k are rebased past
// the SET columns.
func (g *Gateway) Update(ctx context.Context, table string, set Row, whereSQL string, whereArgs []any) ([]Row, error) {
	sqlText, args, err := g.BuildUpdateSQL(table, set, whereSQL, whereArgs)
	if err != nil {
		return nil, err
	}
	return g.exec(ctx, sqlText, args)
}

// BuildInsertSQL assembles a whitelisted INSERT ... RETURNING * statement.
// Exposed so transactional callers can run the same safe SQL through a tx
// handle.
func (g *Gateway) BuildInsertSQL(table string, row Row) (string, []any, error) {
	allowed, err := g.allowedColumns(table)
	if err != nil {
		return "", nil, err
	}

	cols := make([]string, 0, len(row))
	for col := range row {
		if _, ok := allowed[col]; !ok {
			return "", nil, errors.Ef(errors.ErrCodeInvalidIdentifier, "column %q is not allowed on table %q", col, table)
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return "", nil, errors.E(errors.ErrCodeInvalidValue, "insert with no columns")
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdentifier(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[col]
	}

	sqlText := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		quoteIdentifier(table),
		joinComma(quoted),
		joinComma(placeholders))
	return sqlText, args, nil
}

// BuildUpdateSQL assembles a whitelisted UPDATE ... RETURNING * statement,
// rebasing the WHERE fragment's placeholders past the SET columns.
func (g *Gateway) BuildUpdateSQL(table string, set Row, whereSQL string, whereArgs []any) (string, []any, error) {
	allowed, err := g.allowedColumns(table)
	if err != nil {
		return "", nil, err
	}
	if err := validateWhereSQL(whereSQL); err != nil {
		return "", nil, err
	}
	if len(set) == 0 {
		return "", nil, errors.E(errors.ErrCodeInvalidValue, "update with no columns")
	}

	cols := make([]string, 0, len(set))
	for col := range set {
		if _, ok := allowed[col]; !ok {
			return "", nil, errors.Ef(errors.ErrCodeInvalidIdentifier, "column %q is not allowed on table %q", col, table)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	assignments := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(whereArgs))
	for i, col := range cols {
		assignments[i] = fmt.Sprintf("%s = $%d", quoteIdentifier(col), i+1)
		args = append(args, set[col])
	}
	args = append(args, whereArgs...)

	rebased := rebasePlaceholders(whereSQL, len(cols))
	sqlText := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *",
		quoteIdentifier(table),
		joinComma(assignments),
		rebased)

	if err := checkPlaceholderCount(sqlText, len(args)); err != nil {
		return "", nil, err
	}
	return sqlText, args, nil
}

// RecentErrors returns the captured store errors, oldest first.
func (g *Gateway) RecentErrors() []CapturedError {
	return g.ring.snapshot()
}

// Stats returns a snapshot of gateway counters and pool state.
func (g *Gateway) Stats() Stats {
	return Stats{
		QueriesTotal:  g.queries.Load(),
		RetriesTotal:  g.retries.Load(),
		FailuresTotal: g.failures.Load(),
		TxTotal:       g.txs.Load(),
		Pool:          g.db.Stats(),
	}
}

// Close releases the prepared-statement cache. Safe to call more than once.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.stmts.Range(func(key, value any) bool {
			if stmt, ok := value.(*sql.Stmt); ok {
				if err := stmt.Close(); err != nil && g.closeErr == nil {
					g.closeErr = err
				}
			}
			g.stmts.Delete(key)
			return true
		})
	})
	return g.closeErr
}

// exec runs a statement through the prepared-statement cache, the retry
// envelope, and error classification.
func (g *Gateway) exec(ctx context.Context, sqlText string, args []any) ([]Row, error) {
	encoded, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	if err := checkPlaceholderCount(sqlText, len(encoded)); err != nil {
		return nil, err
	}

	ctx, cancel := g.withStatementTimeout(ctx)
	defer cancel()

	var rows []Row
	var lastErr error
	attempts := g.opts.Retry.attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		g.queries.Add(1)
		rows, lastErr = g.runOnce(ctx, sqlText, encoded)
		if lastErr == nil {
			return rows, nil
		}

		cls := classify(lastErr)
		g.failures.Add(1)
		g.ring.capture(cls.code, lastErr)
		if g.opts.OnFailure != nil {
			g.opts.OnFailure(string(cls.code))
		}

		if !cls.retryable || attempt == attempts || ctx.Err() != nil {
			return nil, errors.Wrap(cls.code, "store statement failed", lastErr)
		}

		g.retries.Add(1)
		if g.opts.OnRetry != nil {
			g.opts.OnRetry()
		}
		delay := g.opts.Retry.delay(attempt)
		log := logger.FromContext(ctx)
		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("gateway.statement_retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(errors.ErrCodeStoreConnection, "store statement cancelled", ctx.Err())
		case <-timer.C:
		}
	}

	cls := classify(lastErr)
	return nil, errors.Wrap(cls.code, "store statement failed", lastErr)
}

// runOnce executes one attempt using a cached prepared statement.
func (g *Gateway) runOnce(ctx context.Context, sqlText string, args []any) ([]Row, error) {
	stmt, err := g.prepared(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// prepared returns the cached *sql.Stmt for the SQL text, preparing it once.
// The derived statement name keeps server-side plans stable across the pool.
func (g *Gateway) prepared(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	if cached, ok := g.stmts.Load(sqlText); ok {
		return cached.(*sql.Stmt), nil
	}
	stmt, err := g.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	log.Debug().
		Str("stmt", stmtName(sqlText)).
		Msg("gateway.statement_prepared")
	actual, loaded := g.stmts.LoadOrStore(sqlText, stmt)
	if loaded {
		// Lost the race; keep the first prepared handle.
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// withStatementTimeout adds the statement timeout unless the caller already
// set a tighter deadline.
func (g *Gateway) withStatementTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.opts.StatementTimeout)
}

// allowedColumns fetches the registered column set for a table.
func (g *Gateway) allowedColumns(table string) (map[string]struct{}, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	allowed, ok := g.tables[table]
	if !ok {
		return nil, errors.Ef(errors.ErrCodeInvalidIdentifier, "table %q is not registered", table)
	}
	return allowed, nil
}

// scanRows converts sql.Rows into generic column maps. []byte values are
// copied to strings so rows outlive the scan buffers.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func joinComma(parts []string) string {
	return strings.Join(parts, ", ")
}
