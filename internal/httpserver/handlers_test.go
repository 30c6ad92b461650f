package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/oliverpay/txregistry/internal/config"
	"github.com/oliverpay/txregistry/internal/gateway"
	"github.com/oliverpay/txregistry/internal/registry"
)

// stubStore serves canned rows in the driver's wire shape and records the
// statements it sees.
type stubStore struct {
	builder *gateway.Gateway
	getRow  gateway.Row
	getErr  error
	sqls    []string
}

func newStubStore(t *testing.T) *stubStore {
	t.Helper()
	builder := gateway.New(nil, gateway.Options{})
	if err := builder.RegisterTable(registry.DefaultTable, registry.TableColumns...); err != nil {
		t.Fatalf("RegisterTable: %v", err)
	}
	return &stubStore{builder: builder}
}

func (s *stubStore) Query(ctx context.Context, sqlText string, args ...any) (*gateway.Result, error) {
	s.sqls = append(s.sqls, sqlText)
	return &gateway.Result{}, nil
}

func (s *stubStore) GetRow(ctx context.Context, sqlText string, args ...any) (gateway.Row, error) {
	s.sqls = append(s.sqls, sqlText)
	return s.getRow, s.getErr
}

func (s *stubStore) Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error) {
	if _, _, err := s.builder.BuildInsertSQL(table, row); err != nil {
		return nil, err
	}
	out := gateway.Row{}
	for col, value := range row {
		switch v := value.(type) {
		case decimal.Decimal:
			out[col] = v.String()
		case map[string]any, []any, []string, []registry.OwnerAllocation:
			data, _ := json.Marshal(v)
			out[col] = string(data)
		default:
			out[col] = v
		}
	}
	now := time.Now().UTC()
	out["created_at"] = now
	out["updated_at"] = now
	return out, nil
}

func (s *stubStore) Update(ctx context.Context, table string, set gateway.Row, whereSQL string, whereArgs []any) ([]gateway.Row, error) {
	return nil, nil
}

func (s *stubStore) BuildUpdateSQL(table string, set gateway.Row, whereSQL string, whereArgs []any) (string, []any, error) {
	return s.builder.BuildUpdateSQL(table, set, whereSQL, whereArgs)
}

func (s *stubStore) RunInTx(ctx context.Context, fn func(tx registry.TxHandle) error) error {
	return fn(s)
}

func (s *stubStore) Close() error { return nil }

func newTestServer(t *testing.T, store registry.Store) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Address = ":0"

	reg := registry.New(store, registry.Config{Logger: zerolog.Nop()})
	router := chi.NewRouter()
	ConfigureRouter(router, cfg, reg, nil, zerolog.Nop())
	return router
}

func createBody() string {
	return `{
		"order_id": "o1", "amount": 12.50, "order_type": "sale",
		"customer_uid": "c1", "status": "PENDING", "direction": "purchase",
		"payment_method": "card", "currency": "USD", "platform": "web",
		"owners": ["o1"],
		"owner_allocations": [{"owner_uuid": "o1", "amount_cents": 1250}]
	}`
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, newStubStore(t))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCreateTransaction(t *testing.T) {
	srv := newTestServer(t, newStubStore(t))

	req := httptest.NewRequest(http.MethodPost, "/transactions", strings.NewReader(createBody()))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var created registry.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.TransactionID == "" || created.Status != "pending" {
		t.Errorf("created = %+v", created)
	}
}

func TestCreateTransactionValidationError(t *testing.T) {
	srv := newTestServer(t, newStubStore(t))

	body := strings.Replace(createBody(), `"purchase"`, `"invalid"`, 1)
	req := httptest.NewRequest(http.MethodPost, "/transactions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body2 errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body2.Error.Code != "invalid_direction" {
		t.Errorf("error code = %q", body2.Error.Code)
	}
}

func TestCreateTransactionBadJSON(t *testing.T) {
	srv := newTestServer(t, newStubStore(t))

	req := httptest.NewRequest(http.MethodPost, "/transactions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	srv := newTestServer(t, newStubStore(t))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transactions/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestQueryTransactionsEmptyPage(t *testing.T) {
	srv := newTestServer(t, newStubStore(t))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transactions?status=pending&limit=500", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var result registry.QueryResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Total != 0 || len(result.Transactions) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestQueryTransactionsOwnerIDSynonyms(t *testing.T) {
	for _, key := range []string{"ownerId", "ownerIds", "owner_uuid", "owner"} {
		t.Run(key, func(t *testing.T) {
			store := newStubStore(t)
			srv := newTestServer(t, store)

			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transactions?"+key+"=o9", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			found := false
			for _, sqlText := range store.sqls {
				if strings.Contains(sqlText, "owners @>") {
					found = true
				}
			}
			if !found {
				t.Errorf("no owners clause in %v", store.sqls)
			}
		})
	}
}

func TestQueryTransactionsInvalidDateRange(t *testing.T) {
	srv := newTestServer(t, newStubStore(t))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/transactions?dateStart=2024-02-01&dateEnd=2024-01-01", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDeleteTransaction(t *testing.T) {
	srv := newTestServer(t, newStubStore(t))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/transactions/tx_1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body["deleted"] {
		t.Error("deleted should be true")
	}
}

func TestStatsEndpoint(t *testing.T) {
	store := newStubStore(t)
	store.getRow = gateway.Row{"total": int64(5)}
	srv := newTestServer(t, store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transactions/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats["total"] != float64(5) {
		t.Errorf("total = %v", stats["total"])
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, newStubStore(t))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options header")
	}
}
