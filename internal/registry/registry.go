// Package registry implements the transaction registry core: sanitized
// writes, row-locked updates, soft deletes, and filtered paging over the
// transactions table, with audit fan-out after every durable mutation.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oliverpay/txregistry/internal/audit"
	"github.com/oliverpay/txregistry/internal/errors"
	"github.com/oliverpay/txregistry/internal/gateway"
	"github.com/oliverpay/txregistry/internal/metrics"
	"github.com/oliverpay/txregistry/internal/reporter"
	"github.com/oliverpay/txregistry/internal/sanitize"
)

// DefaultTable is the transactions table name unless configured otherwise.
const DefaultTable = "transactions"

// Columns of the transactions table, registered with the gateway whitelist.
var TableColumns = []string{
	"transaction_id", "order_id", "amount", "order_type", "customer_uid",
	"status", "direction", "payment_method", "currency", "platform",
	"ip_address", "user_agent", "parent_transaction_id", "dispute_id",
	"refund_reason", "refund_amount", "meta", "owners", "owner_allocations",
	"products", "write_status", "is_deleted", "deleted_at",
	"created_at", "updated_at",
}

// updateColumnRe is the stricter identifier shape enforced on update SET
// columns.
var updateColumnRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// updatableFields maps the fields callers may update to their sanitizer type.
var updatableFields = map[string]string{
	"status":        "string",
	"refund_amount": "float",
	"refund_reason": "string",
	"dispute_id":    "string",
	"meta":          "object",
	"write_status":  "string",
	"products":      "array",
}

// Config carries registry construction options.
type Config struct {
	// Table is the transactions table name. Default: DefaultTable.
	Table string
	// Timezone resolves dateStart/dateEnd day windows. Default:
	// Asia/Hong_Kong, falling back to fixed UTC+8 when the zone database is
	// unavailable.
	Timezone string

	Audit    *audit.Emitter
	Reporter *reporter.Reporter
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// QueryResult is one page of transactions with the unpaginated total.
type QueryResult struct {
	Transactions []*Transaction `json:"transactions"`
	Total        int            `json:"total"`
}

// Registry is the transaction registry core.
type Registry struct {
	store    Store
	table    string
	loc      *time.Location
	audit    *audit.Emitter
	reporter *reporter.Reporter
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New creates a Registry over a Store.
func New(store Store, cfg Config) *Registry {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}

	zone := cfg.Timezone
	if zone == "" {
		zone = "Asia/Hong_Kong"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		cfg.Logger.Warn().Str("timezone", zone).Msg("registry.timezone_unavailable")
		loc = time.FixedZone("UTC+8", 8*3600)
	}

	em := cfg.Audit
	if em == nil {
		em = audit.NewEmitter(cfg.Logger)
	}
	rep := cfg.Reporter
	if rep == nil {
		rep = reporter.New(cfg.Logger)
	}

	return &Registry{
		store:    store,
		table:    table,
		loc:      loc,
		audit:    em,
		reporter: rep,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Create sanitizes the payload, shapes the blob fields, inserts the row, and
// fans out creation audit events. The returned transaction carries the
// server-generated id.
func (r *Registry) Create(ctx context.Context, payload map[string]any) (tx *Transaction, err error) {
	defer r.observe(ctx, "create", time.Now(), &err, map[string]any{"op": "create"})

	fields, err := sanitize.SanitizeValidate(sanitize.Schema{
		"order_id":              {Value: payload["order_id"], Type: "string", Required: true},
		"amount":                {Value: payload["amount"], Type: "float", Required: true},
		"order_type":            {Value: payload["order_type"], Type: "string", Required: true},
		"customer_uid":          {Value: payload["customer_uid"], Type: "string", Required: true},
		"status":                {Value: payload["status"], Type: "string", Required: true},
		"payment_method":        {Value: payload["payment_method"], Type: "string", Required: true},
		"currency":              {Value: payload["currency"], Type: "string", Required: true},
		"platform":              {Value: payload["platform"], Type: "string", Required: true},
		"ip_address":            {Value: payload["ip_address"], Type: "string"},
		"user_agent":            {Value: payload["user_agent"], Type: "string"},
		"parent_transaction_id": {Value: payload["parent_transaction_id"], Type: "string"},
		"dispute_id":            {Value: payload["dispute_id"], Type: "string"},
		"refund_reason":         {Value: payload["refund_reason"], Type: "string"},
		"refund_amount":         {Value: payload["refund_amount"], Type: "float"},
		"write_status":          {Value: payload["write_status"], Type: "string", Default: "confirmed"},
	})
	if err != nil {
		return nil, err
	}

	meta, err := ShapeMeta(payload["meta"])
	if err != nil {
		return nil, err
	}
	allocations, err := ShapeOwnerAllocations(payload["owner_allocations"])
	if err != nil {
		return nil, err
	}
	owners, err := ShapeOwners(payload["owners"])
	if err != nil {
		return nil, err
	}
	products, err := ShapeProducts(payload["products"])
	if err != nil {
		return nil, err
	}

	direction, err := DirectionFromPayload(payload)
	if err != nil {
		return nil, err
	}
	status, err := NormalizeStatus(fields["status"])
	if err != nil {
		return nil, err
	}

	row := gateway.Row{
		"transaction_id":        uuid.NewString(),
		"order_id":              fields["order_id"],
		"amount":                fields["amount"],
		"order_type":            fields["order_type"],
		"customer_uid":          fields["customer_uid"],
		"status":                status,
		"direction":             direction,
		"payment_method":        fields["payment_method"],
		"currency":              fields["currency"],
		"platform":              fields["platform"],
		"ip_address":            fields["ip_address"],
		"user_agent":            fields["user_agent"],
		"parent_transaction_id": fields["parent_transaction_id"],
		"dispute_id":            fields["dispute_id"],
		"refund_reason":         fields["refund_reason"],
		"refund_amount":         fields["refund_amount"],
		"meta":                  encodeOrNil(meta),
		"owners":                owners,
		"owner_allocations":     encodeOrNil(allocations),
		"products":              encodeOrNil(products),
		"write_status":          fields["write_status"],
		"is_deleted":            false,
	}

	done := metrics.MeasureDBQuery(r.metrics, "insert_transaction")
	inserted, err := r.store.Insert(ctx, r.table, row)
	done()
	if err != nil {
		return nil, err
	}
	created, err := transactionFromRow(inserted)
	if err != nil {
		return nil, err
	}

	r.emitCreationEvents(ctx, created)
	return created, nil
}

// Update applies the allowed-field mutation under a row lock. Fields set to
// the explicit unset marker are written as NULL.
func (r *Registry) Update(ctx context.Context, transactionID string, fields map[string]any) (tx *Transaction, err error) {
	defer r.observe(ctx, "update", time.Now(), &err, map[string]any{
		"op":             "update",
		"transaction_id": transactionID,
	})

	if sanitize.Text(transactionID, false) == "" {
		return nil, errors.FieldError(errors.ErrCodeMissingRequired, "transaction_id", "transaction id is required")
	}
	if len(fields) == 0 {
		return nil, errors.E(errors.ErrCodeInvalidValue, "update carries no fields")
	}

	set := gateway.Row{}
	for name, value := range fields {
		typ, allowed := updatableFields[name]
		if !allowed {
			return nil, errors.FieldError(errors.ErrCodeInvalidValue, name, "field is not updatable")
		}
		if !updateColumnRe.MatchString(name) {
			return nil, errors.FieldError(errors.ErrCodeInvalidIdentifier, name, "field fails the column pattern")
		}

		if isUnsetMarker(value) {
			set[name] = nil
			continue
		}

		shaped, err := r.shapeUpdateValue(name, typ, value)
		if err != nil {
			return nil, err
		}
		set[name] = shaped
	}

	var before, after gateway.Row
	defer metrics.MeasureDBQuery(r.metrics, "update_transaction")()
	err = r.store.RunInTx(ctx, func(txh TxHandle) error {
		lockSQL := fmt.Sprintf(
			"SELECT * FROM %s WHERE transaction_id = $1 AND is_deleted = false FOR UPDATE", r.table)
		current, err := txh.GetRow(ctx, lockSQL, transactionID)
		if err != nil {
			return err
		}
		if current == nil {
			return errors.Ef(errors.ErrCodeTransactionNotFound, "transaction %s not found", transactionID)
		}
		before = current

		sqlText, args, err := r.store.BuildUpdateSQL(r.table, set,
			"transaction_id = $1 AND is_deleted = false", []any{transactionID})
		if err != nil {
			return err
		}
		res, err := txh.Query(ctx, sqlText, args...)
		if err != nil {
			return err
		}
		if res.RowCount == 0 {
			return errors.Ef(errors.ErrCodeTransactionNotFound, "transaction %s vanished during update", transactionID)
		}
		after = res.Rows[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := transactionFromRow(after)
	if err != nil {
		return nil, err
	}

	r.emitUpdateEvents(ctx, updated, changedFields(before, after, set))
	return updated, nil
}

// Delete soft-deletes a transaction. Idempotent: deleting an absent or
// already-deleted id succeeds without touching deleted_at again.
func (r *Registry) Delete(ctx context.Context, transactionID string) (ok bool, err error) {
	defer r.observe(ctx, "delete", time.Now(), &err, map[string]any{
		"op":             "delete",
		"transaction_id": transactionID,
	})

	if sanitize.Text(transactionID, false) == "" {
		return false, errors.FieldError(errors.ErrCodeMissingRequired, "transaction_id", "transaction id is required")
	}

	set := gateway.Row{
		"is_deleted": true,
		"deleted_at": time.Now().UTC(),
	}
	done := metrics.MeasureDBQuery(r.metrics, "delete_transaction")
	rows, err := r.store.Update(ctx, r.table, set,
		"transaction_id = $1 AND is_deleted = false", []any{transactionID})
	done()
	if err != nil {
		return false, err
	}

	r.audit.Emit(ctx, audit.Event{
		Flag:    "transaction",
		Action:  "deleteTransaction",
		Message: "transaction soft-deleted",
		Data: map[string]any{
			"transaction_id": transactionID,
			"row_count":      len(rows),
		},
	})
	return true, nil
}

// Get fetches one live transaction. Returns nil without error when the id is
// absent or deleted.
func (r *Registry) Get(ctx context.Context, transactionID string) (tx *Transaction, err error) {
	defer r.observe(ctx, "get", time.Now(), &err, map[string]any{
		"op":             "get",
		"transaction_id": transactionID,
	})

	if sanitize.Text(transactionID, false) == "" {
		return nil, errors.FieldError(errors.ErrCodeMissingRequired, "transaction_id", "transaction id is required")
	}

	sqlText := fmt.Sprintf(
		"SELECT * FROM %s WHERE transaction_id = $1 AND is_deleted = false LIMIT 1", r.table)
	done := metrics.MeasureDBQuery(r.metrics, "get_transaction")
	row, err := r.store.GetRow(ctx, sqlText, transactionID)
	done()
	if err != nil {
		return nil, err
	}
	if row == nil {
		r.logger.Debug().Str("transaction_id", transactionID).Msg("registry.get_miss")
		return nil, nil
	}
	return transactionFromRow(row)
}

// Close releases the store once. Later calls are no-ops.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.store.Close()
	})
	return r.closeErr
}

// shapeUpdateValue sanitizes one updatable field by its declared type.
func (r *Registry) shapeUpdateValue(name, typ string, value any) (any, error) {
	switch name {
	case "status":
		return NormalizeStatus(value)
	case "meta":
		meta, err := ShapeMeta(value)
		if err != nil {
			return nil, err
		}
		return encodeOrNil(meta), nil
	case "products":
		products, err := ShapeProducts(value)
		if err != nil {
			return nil, err
		}
		return encodeOrNil(products), nil
	}

	switch typ {
	case "float":
		d, ok := sanitize.Decimal(value)
		if !ok {
			return nil, errors.FieldError(errors.ErrCodeInvalidValue, name, "value does not sanitize as float")
		}
		return d, nil
	default:
		s := sanitize.Text(value, false)
		if s == "" {
			return nil, errors.FieldError(errors.ErrCodeInvalidValue, name, "value does not sanitize as string")
		}
		return s, nil
	}
}

// observe finalizes one operation: metrics, error reporting, and the
// critical audit event on failure.
func (r *Registry) observe(ctx context.Context, op string, start time.Time, errp *error, auditData map[string]any) {
	err := *errp

	if r.metrics != nil {
		code := ""
		if err != nil {
			code = string(errors.CodeOf(err))
		}
		r.metrics.ObserveOperation(op, time.Since(start), code)
	}
	if err == nil {
		return
	}

	r.reporter.Capture(ctx, "registry."+op, err, auditData, "")
	r.audit.Emit(ctx, audit.Event{
		Flag:     "transaction",
		Action:   op + "Failed",
		Message:  err.Error(),
		Data:     auditData,
		Critical: true,
	})
}

func (r *Registry) emitCreationEvents(ctx context.Context, t *Transaction) {
	r.audit.Emit(ctx, audit.Event{
		Flag:    "transaction",
		Action:  "transactionCreation",
		Message: "transaction created",
		Data: map[string]any{
			"transaction_id": t.TransactionID,
			"order_id":       t.OrderID,
			"direction":      t.Direction,
			"status":         t.Status,
			"amount":         t.Amount.String(),
		},
	})

	if t.CustomerUID != "" {
		r.audit.Emit(ctx, audit.Event{
			Flag:    "customer",
			Action:  "transactionCreationCustomer",
			Message: "transaction created for customer",
			Data: map[string]any{
				"transaction_id": t.TransactionID,
				"customer_uid":   t.CustomerUID,
			},
		})
	}

	for _, alloc := range t.OwnerAllocations {
		r.audit.Emit(ctx, audit.Event{
			Flag:    "owner",
			Action:  "transactionCreationOwner",
			Message: "transaction created for owner",
			Data: map[string]any{
				"transaction_id": t.TransactionID,
				"owner_uuid":     alloc.OwnerUUID,
				"amount_cents":   alloc.AmountCents,
			},
		})
	}
}

func (r *Registry) emitUpdateEvents(ctx context.Context, t *Transaction, changed []FieldChange) {
	r.audit.Emit(ctx, audit.Event{
		Flag:    "transaction",
		Action:  "transactionUpdate",
		Message: "transaction updated",
		Data: map[string]any{
			"transaction_id": t.TransactionID,
			"changed_fields": changed,
		},
	})

	if t.CustomerUID != "" {
		r.audit.Emit(ctx, audit.Event{
			Flag:    "customer",
			Action:  "transactionUpdateCustomer",
			Message: "transaction updated for customer",
			Data: map[string]any{
				"transaction_id": t.TransactionID,
				"customer_uid":   t.CustomerUID,
			},
		})
	}

	for _, alloc := range t.OwnerAllocations {
		r.audit.Emit(ctx, audit.Event{
			Flag:    "owner",
			Action:  "transactionUpdateOwner",
			Message: "transaction updated for owner",
			Data: map[string]any{
				"transaction_id": t.TransactionID,
				"owner_uuid":     alloc.OwnerUUID,
				"amount_cents":   alloc.AmountCents,
			},
		})
	}
}

// FieldChange is one entry of a transactionUpdate diff.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// changedFields reports the pre- and post-update values of every SET column,
// ordered by column name for stable audit payloads. Columns the caller set
// are always included, so an explicit unset of an already-NULL field still
// shows up in the diff.
func changedFields(before, after gateway.Row, set gateway.Row) []FieldChange {
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	out := make([]FieldChange, 0, len(cols))
	for _, col := range cols {
		out = append(out, FieldChange{Field: col, OldValue: before[col], NewValue: after[col]})
	}
	return out
}

// isUnsetMarker reports whether a field value is the explicit unset
// convention {"unset": true}.
func isUnsetMarker(value any) bool {
	m, ok := value.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	flag, ok := sanitize.Bool(m["unset"])
	return ok && flag
}

// encodeOrNil keeps absent blob values as SQL NULL instead of JSON "null" or
// empty containers.
func encodeOrNil(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		if v == nil {
			return nil
		}
		return v
	case []any:
		if v == nil {
			return nil
		}
		return v
	case []OwnerAllocation:
		if v == nil {
			return nil
		}
		return v
	}
	return value
}
