package registry

import (
	"context"

	"github.com/oliverpay/txregistry/internal/gateway"
)

// TxHandle is the narrow query surface a transactional work function sees.
// Transaction control stays with the store.
type TxHandle interface {
	Query(ctx context.Context, sqlText string, args ...any) (*gateway.Result, error)
	GetRow(ctx context.Context, sqlText string, args ...any) (gateway.Row, error)
}

// Store is the gateway surface the registry depends on.
type Store interface {
	Query(ctx context.Context, sqlText string, args ...any) (*gateway.Result, error)
	GetRow(ctx context.Context, sqlText string, args ...any) (gateway.Row, error)
	Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error)
	Update(ctx context.Context, table string, set gateway.Row, whereSQL string, whereArgs []any) ([]gateway.Row, error)
	BuildUpdateSQL(table string, set gateway.Row, whereSQL string, whereArgs []any) (string, []any, error)
	RunInTx(ctx context.Context, fn func(tx TxHandle) error) error
	Close() error
}

// gatewayStore adapts *gateway.Gateway to the Store interface; the only
// difference is narrowing the transaction handle.
type gatewayStore struct {
	*gateway.Gateway
}

func (s gatewayStore) RunInTx(ctx context.Context, fn func(tx TxHandle) error) error {
	return s.Gateway.RunInTx(ctx, func(tx *gateway.Tx) error {
		return fn(tx)
	})
}

// NewStore wraps a gateway as a registry Store.
func NewStore(g *gateway.Gateway) Store {
	return gatewayStore{Gateway: g}
}
