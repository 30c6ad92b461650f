package registry

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oliverpay/txregistry/internal/errors"
	"github.com/oliverpay/txregistry/internal/gateway"
)

// Direction classifies a transaction's business meaning.
const (
	DirectionPurchase   = "purchase"
	DirectionRefund     = "refund"
	DirectionChargeback = "chargeback"
	DirectionPayout     = "payout"
	DirectionAdjustment = "adjustment"
)

var validDirections = map[string]struct{}{
	DirectionPurchase:   {},
	DirectionRefund:     {},
	DirectionChargeback: {},
	DirectionPayout:     {},
	DirectionAdjustment: {},
}

// OwnerAllocation is one slice of a transaction amount attributed to an
// owner party.
type OwnerAllocation struct {
	OwnerUUID   string `json:"owner_uuid"`
	AmountCents int64  `json:"amount_cents"`
}

// Transaction is the persistent registry entity.
type Transaction struct {
	TransactionID       string            `json:"transaction_id"`
	OrderID             string            `json:"order_id"`
	Amount              decimal.Decimal   `json:"amount"`
	OrderType           string            `json:"order_type"`
	CustomerUID         string            `json:"customer_uid"`
	Status              string            `json:"status"`
	Direction           string            `json:"direction"`
	PaymentMethod       string            `json:"payment_method"`
	Currency            string            `json:"currency"`
	Platform            string            `json:"platform"`
	IPAddress           string            `json:"ip_address,omitempty"`
	UserAgent           string            `json:"user_agent,omitempty"`
	ParentTransactionID string            `json:"parent_transaction_id,omitempty"`
	DisputeID           string            `json:"dispute_id,omitempty"`
	RefundReason        string            `json:"refund_reason,omitempty"`
	RefundAmount        *decimal.Decimal  `json:"refund_amount,omitempty"`
	Meta                map[string]any    `json:"meta,omitempty"`
	Owners              []string          `json:"owners"`
	OwnerAllocations    []OwnerAllocation `json:"owner_allocations,omitempty"`
	Products            []any             `json:"products,omitempty"`
	WriteStatus         string            `json:"write_status"`
	IsDeleted           bool              `json:"is_deleted"`
	DeletedAt           *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// transactionFromRow maps a store row onto the typed entity. Numeric columns
// arrive as text from the driver; JSON blob columns arrive as raw JSON text.
func transactionFromRow(row gateway.Row) (*Transaction, error) {
	if row == nil {
		return nil, nil
	}

	t := &Transaction{
		TransactionID:       rowString(row, "transaction_id"),
		OrderID:             rowString(row, "order_id"),
		OrderType:           rowString(row, "order_type"),
		CustomerUID:         rowString(row, "customer_uid"),
		Status:              rowString(row, "status"),
		Direction:           rowString(row, "direction"),
		PaymentMethod:       rowString(row, "payment_method"),
		Currency:            rowString(row, "currency"),
		Platform:            rowString(row, "platform"),
		IPAddress:           rowString(row, "ip_address"),
		UserAgent:           rowString(row, "user_agent"),
		ParentTransactionID: rowString(row, "parent_transaction_id"),
		DisputeID:           rowString(row, "dispute_id"),
		RefundReason:        rowString(row, "refund_reason"),
		WriteStatus:         rowString(row, "write_status"),
		IsDeleted:           rowBool(row, "is_deleted"),
		CreatedAt:           rowTime(row, "created_at"),
		UpdatedAt:           rowTime(row, "updated_at"),
	}

	amount, err := rowDecimal(row, "amount")
	if err != nil {
		return nil, err
	}
	t.Amount = amount

	if v, ok := row["refund_amount"]; ok && v != nil {
		d, err := rowDecimal(row, "refund_amount")
		if err != nil {
			return nil, err
		}
		t.RefundAmount = &d
	}

	if ts, ok := row["deleted_at"].(time.Time); ok {
		t.DeletedAt = &ts
	}

	if err := rowJSON(row, "meta", &t.Meta); err != nil {
		return nil, err
	}
	if err := rowJSON(row, "owners", &t.Owners); err != nil {
		return nil, err
	}
	if err := rowJSON(row, "owner_allocations", &t.OwnerAllocations); err != nil {
		return nil, err
	}
	if err := rowJSON(row, "products", &t.Products); err != nil {
		return nil, err
	}

	return t, nil
}

func rowString(row gateway.Row, col string) string {
	if s, ok := row[col].(string); ok {
		return s
	}
	return ""
}

func rowBool(row gateway.Row, col string) bool {
	if b, ok := row[col].(bool); ok {
		return b
	}
	return false
}

func rowTime(row gateway.Row, col string) time.Time {
	if ts, ok := row[col].(time.Time); ok {
		return ts
	}
	return time.Time{}
}

func rowDecimal(row gateway.Row, col string) (decimal.Decimal, error) {
	switch v := row[col].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, errors.Wrap(errors.ErrCodeStoreQuery, "decode numeric column "+col, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case nil:
		return decimal.Zero, nil
	}
	return decimal.Zero, errors.Ef(errors.ErrCodeStoreQuery, "numeric column %s has unexpected type %T", col, row[col])
}

func rowJSON(row gateway.Row, col string, dst any) error {
	v, ok := row[col]
	if !ok || v == nil {
		return nil
	}
	raw, isString := v.(string)
	if !isString || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return errors.Wrap(errors.ErrCodeStoreQuery, "decode JSON column "+col, err)
	}
	return nil
}
