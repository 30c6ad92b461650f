package registry

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/oliverpay/txregistry/internal/audit"
	regerrors "github.com/oliverpay/txregistry/internal/errors"
	"github.com/oliverpay/txregistry/internal/gateway"
)

// fakeStore records every statement and serves canned responses, mimicking
// the driver's row shapes (JSON columns as text, numerics as text).
type fakeStore struct {
	builder *gateway.Gateway

	insertErr error
	inserted  []gateway.Row

	getRows []gateway.Row
	getErr  error

	queryResults []*gateway.Result
	queryErr     error

	updateRows []gateway.Row
	updateErr  error

	txGetRow   gateway.Row
	txGetErr   error
	txQueryRes *gateway.Result
	txQueryErr error

	sqls   []string
	argss  [][]any
	closed int
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	builder := gateway.New(nil, gateway.Options{})
	if err := builder.RegisterTable(DefaultTable, TableColumns...); err != nil {
		t.Fatalf("RegisterTable: %v", err)
	}
	return &fakeStore{builder: builder}
}

func (s *fakeStore) record(sqlText string, args []any) {
	s.sqls = append(s.sqls, sqlText)
	s.argss = append(s.argss, args)
}

func (s *fakeStore) Query(ctx context.Context, sqlText string, args ...any) (*gateway.Result, error) {
	s.record(sqlText, args)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if len(s.queryResults) == 0 {
		return &gateway.Result{}, nil
	}
	res := s.queryResults[0]
	s.queryResults = s.queryResults[1:]
	return res, nil
}

func (s *fakeStore) GetRow(ctx context.Context, sqlText string, args ...any) (gateway.Row, error) {
	s.record(sqlText, args)
	if s.getErr != nil {
		return nil, s.getErr
	}
	if len(s.getRows) == 0 {
		return nil, nil
	}
	row := s.getRows[0]
	s.getRows = s.getRows[1:]
	return row, nil
}

func (s *fakeStore) Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error) {
	sqlText, args, err := s.builder.BuildInsertSQL(table, row)
	if err != nil {
		return nil, err
	}
	s.record(sqlText, args)
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.inserted = append(s.inserted, row)
	return storedShape(row), nil
}

func (s *fakeStore) Update(ctx context.Context, table string, set gateway.Row, whereSQL string, whereArgs []any) ([]gateway.Row, error) {
	sqlText, args, err := s.builder.BuildUpdateSQL(table, set, whereSQL, whereArgs)
	if err != nil {
		return nil, err
	}
	s.record(sqlText, args)
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.updateRows, nil
}

func (s *fakeStore) BuildUpdateSQL(table string, set gateway.Row, whereSQL string, whereArgs []any) (string, []any, error) {
	return s.builder.BuildUpdateSQL(table, set, whereSQL, whereArgs)
}

func (s *fakeStore) RunInTx(ctx context.Context, fn func(tx TxHandle) error) error {
	return fn(&fakeTx{store: s})
}

func (s *fakeStore) Close() error {
	s.closed++
	return nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) Query(ctx context.Context, sqlText string, args ...any) (*gateway.Result, error) {
	t.store.record(sqlText, args)
	if t.store.txQueryErr != nil {
		return nil, t.store.txQueryErr
	}
	if t.store.txQueryRes == nil {
		return &gateway.Result{}, nil
	}
	return t.store.txQueryRes, nil
}

func (t *fakeTx) GetRow(ctx context.Context, sqlText string, args ...any) (gateway.Row, error) {
	t.store.record(sqlText, args)
	if t.store.txGetErr != nil {
		return nil, t.store.txGetErr
	}
	return t.store.txGetRow, nil
}

// storedShape converts an insert row into the shape the driver hands back:
// JSON blobs become text, decimals become numeric text, timestamps appear.
func storedShape(row gateway.Row) gateway.Row {
	out := gateway.Row{}
	for col, value := range row {
		switch v := value.(type) {
		case nil:
			out[col] = nil
		case decimal.Decimal:
			out[col] = v.String()
		case map[string]any, []any, []string, []OwnerAllocation:
			data, _ := json.Marshal(v)
			out[col] = string(data)
		default:
			out[col] = v
		}
	}
	now := time.Now().UTC()
	out["created_at"] = now
	out["updated_at"] = now
	return out
}

type captureSink struct {
	events []audit.Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(_ context.Context, event audit.Event) error {
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) actions() []string {
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Action
	}
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *fakeStore, *captureSink) {
	t.Helper()
	store := newFakeStore(t)
	sink := &captureSink{}
	emitter := audit.NewEmitter(zerolog.Nop())
	emitter.Register(sink)
	reg := New(store, Config{
		Audit:  emitter,
		Logger: zerolog.Nop(),
	})
	return reg, store, sink
}

func createPayload() map[string]any {
	return map[string]any{
		"order_id":       "o1",
		"amount":         12.50,
		"order_type":     "sale",
		"customer_uid":   "c1",
		"status":         "PENDING",
		"direction":      "purchase",
		"payment_method": "card",
		"currency":       "USD",
		"platform":       "web",
		"owners":         []any{"o1"},
		"owner_allocations": []any{
			map[string]any{"owner_uuid": "o1", "amount_cents": 1250},
		},
		"products": []any{map[string]any{"id": "p1"}},
	}
}

func TestCreateHappyPath(t *testing.T) {
	reg, store, sink := newTestRegistry(t)

	created, err := reg.Create(context.Background(), createPayload())
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	if created.TransactionID == "" {
		t.Error("transaction_id should be generated")
	}
	if created.Status != "pending" {
		t.Errorf("status = %q, want pending", created.Status)
	}
	if created.Direction != DirectionPurchase {
		t.Errorf("direction = %q", created.Direction)
	}
	if created.IsDeleted {
		t.Error("fresh transaction should not be deleted")
	}
	if !created.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("amount = %s", created.Amount)
	}
	if len(created.Owners) != 1 || created.Owners[0] != "o1" {
		t.Errorf("owners = %v", created.Owners)
	}
	if len(created.OwnerAllocations) != 1 || created.OwnerAllocations[0].AmountCents != 1250 {
		t.Errorf("allocations = %v", created.OwnerAllocations)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("inserted %d rows, want 1", len(store.inserted))
	}
	if store.inserted[0]["is_deleted"] != false {
		t.Error("insert row should carry is_deleted=false")
	}

	want := []string{"transactionCreation", "transactionCreationCustomer", "transactionCreationOwner"}
	got := sink.actions()
	if len(got) != len(want) {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("audit action[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCreateInvalidDirection(t *testing.T) {
	reg, store, sink := newTestRegistry(t)

	payload := createPayload()
	payload["direction"] = "invalid"

	_, err := reg.Create(context.Background(), payload)
	if regerrors.CodeOf(err) != regerrors.ErrCodeInvalidDirection {
		t.Fatalf("CodeOf = %v, want invalid_direction", regerrors.CodeOf(err))
	}
	if len(store.inserted) != 0 {
		t.Error("no row should be inserted")
	}

	events := sink.events
	if len(events) != 1 || !events[0].Critical {
		t.Errorf("expected exactly one critical audit event, got %v", sink.actions())
	}
}

func TestCreateDirectionAliases(t *testing.T) {
	for _, alias := range []string{"direction", "transaction_kind", "transactionKind"} {
		t.Run(alias, func(t *testing.T) {
			reg, _, _ := newTestRegistry(t)
			payload := createPayload()
			delete(payload, "direction")
			payload[alias] = "REFUND"

			created, err := reg.Create(context.Background(), payload)
			if err != nil {
				t.Fatalf("Create error = %v", err)
			}
			if created.Direction != DirectionRefund {
				t.Errorf("direction = %q, want refund", created.Direction)
			}
		})
	}
}

func TestCreateMetaTooBig(t *testing.T) {
	reg, store, _ := newTestRegistry(t)

	payload := createPayload()
	payload["meta"] = map[string]any{"k": strings.Repeat("x", 5000)}

	_, err := reg.Create(context.Background(), payload)
	if regerrors.CodeOf(err) != regerrors.ErrCodeBlobTooLarge {
		t.Fatalf("CodeOf = %v, want blob_too_large", regerrors.CodeOf(err))
	}
	if len(store.inserted) != 0 {
		t.Error("no row should be inserted")
	}
}

func TestCreateMissingRequired(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	payload := createPayload()
	delete(payload, "order_id")

	_, err := reg.Create(context.Background(), payload)
	if regerrors.CodeOf(err) != regerrors.ErrCodeMissingRequired {
		t.Errorf("CodeOf = %v, want missing_required", regerrors.CodeOf(err))
	}
}

func TestUpdateWithUnset(t *testing.T) {
	reg, store, sink := newTestRegistry(t)

	existing := storedShape(gateway.Row{
		"transaction_id": "tx_1",
		"order_id":       "o1",
		"amount":         decimal.RequireFromString("12.5"),
		"customer_uid":   "c1",
		"status":         "pending",
		"direction":      "purchase",
		"refund_reason":  "requested",
		"owners":         []string{"o1"},
		"owner_allocations": []OwnerAllocation{
			{OwnerUUID: "o1", AmountCents: 1250},
		},
		"is_deleted": false,
	})
	store.txGetRow = existing

	updatedRow := gateway.Row{}
	for k, v := range existing {
		updatedRow[k] = v
	}
	updatedRow["status"] = "completed"
	updatedRow["refund_reason"] = nil
	store.txQueryRes = &gateway.Result{Rows: []gateway.Row{updatedRow}, RowCount: 1}

	updated, err := reg.Update(context.Background(), "tx_1", map[string]any{
		"status":        "COMPLETED",
		"refund_reason": map[string]any{"unset": true},
	})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}

	if updated.Status != "completed" {
		t.Errorf("status = %q", updated.Status)
	}
	if updated.RefundReason != "" {
		t.Errorf("refund_reason = %q, want empty", updated.RefundReason)
	}

	// First captured statement is the row lock, second the update.
	if len(store.sqls) < 2 {
		t.Fatalf("captured sqls = %v", store.sqls)
	}
	if !strings.Contains(store.sqls[0], "FOR UPDATE") {
		t.Errorf("lock sql = %q", store.sqls[0])
	}
	if !strings.Contains(store.sqls[1], `"refund_reason" = $1`) || !strings.Contains(store.sqls[1], `"status" = $2`) {
		t.Errorf("update sql = %q", store.sqls[1])
	}
	if store.argss[1][0] != nil {
		t.Errorf("refund_reason arg = %v, want nil", store.argss[1][0])
	}

	var updateEvent *audit.Event
	for i := range sink.events {
		if sink.events[i].Action == "transactionUpdate" {
			updateEvent = &sink.events[i]
		}
	}
	if updateEvent == nil {
		t.Fatalf("no transactionUpdate event, got %v", sink.actions())
	}
	changed, ok := updateEvent.Data["changed_fields"].([]FieldChange)
	if !ok || len(changed) != 2 {
		t.Errorf("changed_fields = %v", updateEvent.Data["changed_fields"])
	}

	want := []string{"transactionUpdate", "transactionUpdateCustomer", "transactionUpdateOwner"}
	got := sink.actions()
	if len(got) != len(want) {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}
}

func TestUpdateUnsetOfNullFieldStaysInDiff(t *testing.T) {
	reg, store, sink := newTestRegistry(t)

	// refund_reason was never set: the row carries NULL.
	existing := storedShape(gateway.Row{
		"transaction_id": "tx_1",
		"order_id":       "o1",
		"amount":         decimal.RequireFromString("12.5"),
		"customer_uid":   "c1",
		"status":         "pending",
		"direction":      "purchase",
		"refund_reason":  nil,
		"owners":         []string{"o1"},
		"owner_allocations": []OwnerAllocation{
			{OwnerUUID: "o1", AmountCents: 1250},
		},
		"is_deleted": false,
	})
	store.txGetRow = existing

	updatedRow := gateway.Row{}
	for k, v := range existing {
		updatedRow[k] = v
	}
	updatedRow["status"] = "completed"
	store.txQueryRes = &gateway.Result{Rows: []gateway.Row{updatedRow}, RowCount: 1}

	_, err := reg.Update(context.Background(), "tx_1", map[string]any{
		"status":        "completed",
		"refund_reason": map[string]any{"unset": true},
	})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}

	var updateEvent *audit.Event
	for i := range sink.events {
		if sink.events[i].Action == "transactionUpdate" {
			updateEvent = &sink.events[i]
		}
	}
	if updateEvent == nil {
		t.Fatalf("no transactionUpdate event, got %v", sink.actions())
	}
	changed, ok := updateEvent.Data["changed_fields"].([]FieldChange)
	if !ok || len(changed) != 2 {
		t.Fatalf("changed_fields = %v, want both set fields", updateEvent.Data["changed_fields"])
	}
	// Sorted by column: refund_reason first, status second.
	if changed[0].Field != "refund_reason" || changed[0].OldValue != nil || changed[0].NewValue != nil {
		t.Errorf("refund_reason change = %+v", changed[0])
	}
	if changed[1].Field != "status" || changed[1].OldValue != "pending" || changed[1].NewValue != "completed" {
		t.Errorf("status change = %+v", changed[1])
	}
}

func TestUpdateNotFound(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	store.txGetRow = nil

	_, err := reg.Update(context.Background(), "missing", map[string]any{"status": "done"})
	if regerrors.CodeOf(err) != regerrors.ErrCodeTransactionNotFound {
		t.Errorf("CodeOf = %v, want transaction_not_found", regerrors.CodeOf(err))
	}
}

func TestUpdateRejectsUnknownField(t *testing.T) {
	reg, store, _ := newTestRegistry(t)

	_, err := reg.Update(context.Background(), "tx_1", map[string]any{"amount": 99})
	if regerrors.CodeOf(err) != regerrors.ErrCodeInvalidValue {
		t.Errorf("CodeOf = %v, want invalid_value", regerrors.CodeOf(err))
	}
	if len(store.sqls) != 0 {
		t.Error("no SQL should run for a rejected field set")
	}
}

func TestDeleteIdempotent(t *testing.T) {
	reg, store, sink := newTestRegistry(t)

	// First call matches a live row, second matches nothing.
	store.updateRows = []gateway.Row{storedShape(gateway.Row{"transaction_id": "tx_1"})}
	ok, err := reg.Delete(context.Background(), "tx_1")
	if err != nil || !ok {
		t.Fatalf("Delete = (%v, %v)", ok, err)
	}

	store.updateRows = nil
	ok, err = reg.Delete(context.Background(), "tx_1")
	if err != nil || !ok {
		t.Fatalf("second Delete = (%v, %v)", ok, err)
	}

	for _, sqlText := range store.sqls {
		if !strings.Contains(sqlText, "is_deleted = false") {
			t.Errorf("delete sql must target live rows only: %q", sqlText)
		}
	}
	got := sink.actions()
	if len(got) != 2 || got[0] != "deleteTransaction" || got[1] != "deleteTransaction" {
		t.Errorf("audit actions = %v", got)
	}
}

func TestDeleteSurfacesStoreErrors(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	store.updateErr = regerrors.E(regerrors.ErrCodeStoreConnection, "pool down")

	_, err := reg.Delete(context.Background(), "tx_1")
	if regerrors.CodeOf(err) != regerrors.ErrCodeStoreConnection {
		t.Errorf("CodeOf = %v, want store_connection", regerrors.CodeOf(err))
	}
}

func TestGetMissReturnsNil(t *testing.T) {
	reg, store, sink := newTestRegistry(t)
	store.getRows = nil

	got, err := reg.Get(context.Background(), "missing")
	if err != nil || got != nil {
		t.Errorf("Get = (%v, %v), want (nil, nil)", got, err)
	}
	if len(sink.events) != 0 {
		t.Error("get miss should not audit")
	}
}

func TestGetNeverSeesDeletedRows(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	store.getRows = nil

	reg.Get(context.Background(), "tx_1")
	if len(store.sqls) != 1 || !strings.Contains(store.sqls[0], "is_deleted = false") {
		t.Errorf("get sql = %v", store.sqls)
	}
}

func TestQuerySwallowsStoreErrors(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	store.getErr = goerrors.New("store down")

	res, err := reg.Query(context.Background(), map[string]any{"status": "pending"}, Page{})
	if err != nil {
		t.Fatalf("query should swallow store errors, got %v", err)
	}
	if res.Total != 0 || len(res.Transactions) != 0 {
		t.Errorf("swallowed query should yield an empty page, got %+v", res)
	}
}

func TestQuerySurfacesInvalidDateRange(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.Query(context.Background(), map[string]any{
		"dateStart": "2024-02-01",
		"dateEnd":   "2024-01-01",
	}, Page{})
	if regerrors.CodeOf(err) != regerrors.ErrCodeInvalidDateRange {
		t.Errorf("CodeOf = %v, want invalid_date_range", regerrors.CodeOf(err))
	}
}

func TestQueryClampsPagination(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	store.getRows = []gateway.Row{{"total": int64(3)}}
	store.queryResults = []*gateway.Result{{}}

	res, err := reg.Query(context.Background(),
		map[string]any{"status": "PENDING", "customer_uid": "c1"},
		Page{Limit: 500, Offset: -5})
	if err != nil {
		t.Fatalf("Query error = %v", err)
	}
	if res.Total != 3 {
		t.Errorf("total = %d", res.Total)
	}

	if len(store.sqls) != 2 {
		t.Fatalf("expected one count and one page statement, got %v", store.sqls)
	}
	if !strings.Contains(store.sqls[0], "COUNT(*)") {
		t.Errorf("count sql = %q", store.sqls[0])
	}
	if !strings.Contains(store.sqls[1], "ORDER BY created_at DESC") {
		t.Errorf("page sql = %q", store.sqls[1])
	}

	pageArgs := store.argss[1]
	if pageArgs[len(pageArgs)-2] != MaxQueryLimit || pageArgs[len(pageArgs)-1] != 0 {
		t.Errorf("limit/offset args = %v", pageArgs[len(pageArgs)-2:])
	}
	// Status filter is normalized before hitting the store.
	if pageArgs[1] != "pending" {
		t.Errorf("status arg = %v, want pending", pageArgs[1])
	}
}

func TestCountAllDegradesToZero(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	store.getErr = goerrors.New("store down")

	if got := reg.CountAll(context.Background()); got != 0 {
		t.Errorf("CountAll = %d, want 0", got)
	}
}

func TestCountByStatus(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	store.getRows = []gateway.Row{{"total": int64(7)}}

	got, err := reg.CountByStatus(context.Background(), " PENDING ")
	if err != nil {
		t.Fatalf("CountByStatus error = %v", err)
	}
	if got != 7 {
		t.Errorf("count = %d, want 7", got)
	}
	if store.argss[0][0] != "pending" {
		t.Errorf("status arg = %v, want pending", store.argss[0][0])
	}

	if _, err := reg.CountByStatus(context.Background(), "  "); err == nil {
		t.Error("missing status should error")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	reg.Close()
	reg.Close()
	if store.closed != 1 {
		t.Errorf("store closed %d times, want 1", store.closed)
	}
}

func TestRoundTripRowMapping(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	created, err := reg.Create(context.Background(), createPayload())
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	data, err := json.Marshal(created)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["transaction_id"] != created.TransactionID {
		t.Error("round trip lost transaction_id")
	}
}
