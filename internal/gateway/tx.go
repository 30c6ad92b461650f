package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oliverpay/txregistry/internal/errors"
	"github.com/oliverpay/txregistry/internal/logger"
)

// Tx is the handle passed to RunInTx work functions. It exposes only query
// access; transaction control stays with the gateway.
type Tx struct {
	tx    *sql.Tx
	g     *Gateway
	depth int
}

// RunInTx opens a transaction, applies the local timeouts, runs fn, and
// commits or rolls back. If rollback itself fails the failure is logged and
// the original error is surfaced.
func (g *Gateway) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	ctx, cancel := g.withStatementTimeout(ctx)
	defer cancel()

	sqlTx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		cls := classify(err)
		g.ring.capture(cls.code, err)
		return errors.Wrap(cls.code, "begin transaction", err)
	}
	g.txs.Add(1)

	tx := &Tx{tx: sqlTx, g: g}
	if err := tx.applyLocalTimeouts(ctx); err != nil {
		rollback(ctx, sqlTx)
		return err
	}

	if err := fn(tx); err != nil {
		rollback(ctx, sqlTx)
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		cls := classify(err)
		g.ring.capture(cls.code, err)
		return errors.Wrap(cls.code, "commit transaction", err)
	}
	return nil
}

// RunInTx on an open handle nests via a savepoint: the inner work can fail
// and roll back without abandoning the outer transaction.
func (t *Tx) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	name := fmt.Sprintf("sp_%d", t.depth+1)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		cls := classify(err)
		t.g.ring.capture(cls.code, err)
		return errors.Wrap(cls.code, "create savepoint", err)
	}

	inner := &Tx{tx: t.tx, g: t.g, depth: t.depth + 1}
	if err := fn(inner); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			log := logger.FromContext(ctx)
			log.Error().
				Err(rbErr).
				Str("savepoint", name).
				Msg("gateway.savepoint_rollback_failed")
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		cls := classify(err)
		t.g.ring.capture(cls.code, err)
		return errors.Wrap(cls.code, "release savepoint", err)
	}
	return nil
}

// Query runs a statement on the transaction's connection.
func (t *Tx) Query(ctx context.Context, sqlText string, args ...any) (*Result, error) {
	encoded, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	if err := checkPlaceholderCount(sqlText, len(encoded)); err != nil {
		return nil, err
	}

	t.g.queries.Add(1)
	rows, err := t.tx.QueryContext(ctx, sqlText, encoded...)
	if err != nil {
		cls := classify(err)
		t.g.failures.Add(1)
		t.g.ring.capture(cls.code, err)
		return nil, errors.Wrap(cls.code, "store statement failed", err)
	}
	defer rows.Close()

	scanned, err := scanRows(rows)
	if err != nil {
		cls := classify(err)
		t.g.ring.capture(cls.code, err)
		return nil, errors.Wrap(cls.code, "store row scan failed", err)
	}
	return &Result{Rows: scanned, RowCount: len(scanned)}, nil
}

// GetRow runs a statement expected to yield at most one row.
func (t *Tx) GetRow(ctx context.Context, sqlText string, args ...any) (Row, error) {
	res, err := t.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	if res.RowCount == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}

// applyLocalTimeouts issues SET LOCAL session settings so they expire with
// the transaction. Values are formatted as integer milliseconds; SET LOCAL
// does not take bind parameters.
func (t *Tx) applyLocalTimeouts(ctx context.Context) error {
	settings := []struct {
		name  string
		value time.Duration
	}{
		{"statement_timeout", t.g.opts.StatementTimeout},
		{"lock_timeout", t.g.opts.LockTimeout},
		{"idle_in_transaction_session_timeout", t.g.opts.IdleInTxTimeout},
	}
	for _, s := range settings {
		if s.value <= 0 {
			continue
		}
		stmt := fmt.Sprintf("SET LOCAL %s = %d", s.name, s.value.Milliseconds())
		if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
			cls := classify(err)
			t.g.ring.capture(cls.code, err)
			return errors.Wrap(cls.code, "apply local timeout", err)
		}
	}
	return nil
}

// rollback rolls a transaction back, logging failures instead of masking the
// error that caused the rollback.
func rollback(ctx context.Context, tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		log := logger.FromContext(ctx)
		log.Error().
			Err(err).
			Msg("gateway.rollback_failed")
	}
}
