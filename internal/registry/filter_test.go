package registry

import (
	"strings"
	"testing"
	"time"

	regerrors "github.com/oliverpay/txregistry/internal/errors"
)

func hongKong(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Hong_Kong")
	if err != nil {
		return time.FixedZone("UTC+8", 8*3600)
	}
	return loc
}

func TestPageClamp(t *testing.T) {
	tests := []struct {
		name string
		in   Page
		want Page
	}{
		{"defaults", Page{}, Page{Limit: DefaultQueryLimit, Offset: 0}},
		{"over max", Page{Limit: 500, Offset: -5}, Page{Limit: MaxQueryLimit, Offset: 0}},
		{"under min", Page{Limit: -3, Offset: 10}, Page{Limit: 1, Offset: 10}},
		{"in range", Page{Limit: 50, Offset: 100}, Page{Limit: 50, Offset: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Clamp(); got != tt.want {
				t.Errorf("Clamp() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidateClause(t *testing.T) {
	valid := []string{
		"is_deleted = false",
		"transaction_id = $1",
		"customer_uid = $2",
		"owners @> $3",
		"order_type = $4",
		"status = $5",
		"created_at >= $6",
		"created_at <= $17",
	}
	for _, clause := range valid {
		if err := validateClause(clause); err != nil {
			t.Errorf("validateClause(%q) = %v, want nil", clause, err)
		}
	}

	invalid := []string{
		"is_deleted = true",
		"amount = $1",
		"transaction_id = 'tx_1'",
		"status = $1; DROP TABLE transactions",
		"status = $1 --",
		"created_at > $1",
		"status LIKE $1",
	}
	for _, clause := range invalid {
		err := validateClause(clause)
		if err == nil {
			t.Errorf("validateClause(%q) should fail", clause)
			continue
		}
		if regerrors.CodeOf(err) != regerrors.ErrCodeDisallowedClause {
			t.Errorf("CodeOf(%q) = %v, want disallowed_clause", clause, regerrors.CodeOf(err))
		}
	}
}

func TestCompileFiltersClauseOrder(t *testing.T) {
	cf, err := CompileFilters(map[string]any{
		"transactionId": "tx_1",
		"customerUid":   "c1",
		"ownerId":       "o1",
		"orderType":     "sale",
		"status":        "PENDING",
		"dateStart":     "2024-01-01",
		"dateEnd":       "2024-01-31",
	}, hongKong(t))
	if err != nil {
		t.Fatalf("CompileFilters error = %v", err)
	}

	want := []string{
		"is_deleted = false",
		"transaction_id = $1",
		"customer_uid = $2",
		"owners @> $3",
		"order_type = $4",
		"status = $5",
		"created_at >= $6",
		"created_at <= $7",
	}
	if len(cf.clauses) != len(want) {
		t.Fatalf("clauses = %v", cf.clauses)
	}
	for i := range want {
		if cf.clauses[i] != want[i] {
			t.Errorf("clause[%d] = %q, want %q", i, cf.clauses[i], want[i])
		}
	}
	if len(cf.args) != 7 {
		t.Errorf("args = %v", cf.args)
	}
	if cf.args[4] != "pending" {
		t.Errorf("status arg = %v, want pending", cf.args[4])
	}
	if cf.args[2] != `["o1"]` {
		t.Errorf("owners arg = %v, want JSON array", cf.args[2])
	}
}

func TestCompileFiltersOwnersMerged(t *testing.T) {
	cf, err := CompileFilters(map[string]any{
		"ownerId":   "o1",
		"ownerIds":  []any{"o2", "o1"},
		"owner_ids": []string{"o3"},
	}, hongKong(t))
	if err != nil {
		t.Fatalf("CompileFilters error = %v", err)
	}
	if len(cf.args) != 1 {
		t.Fatalf("args = %v", cf.args)
	}
	if cf.args[0] != `["o1","o2","o3"]` {
		t.Errorf("owners arg = %v, want deduplicated merge", cf.args[0])
	}
}

func TestCompileFiltersDateWindow(t *testing.T) {
	loc := hongKong(t)
	cf, err := CompileFilters(map[string]any{
		"dateStart": "2024-01-01",
		"dateEnd":   "2024-01-01",
	}, loc)
	if err != nil {
		t.Fatalf("CompileFilters error = %v", err)
	}

	start := cf.args[0].(time.Time)
	end := cf.args[1].(time.Time)
	if start.Hour() != 0 || start.Minute() != 0 {
		t.Errorf("start should be start of day, got %v", start)
	}
	if end.Hour() != 23 || end.Minute() != 59 {
		t.Errorf("end should be end of day, got %v", end)
	}
	if start.Location() != loc {
		t.Errorf("start zone = %v", start.Location())
	}
	if !end.After(start) {
		t.Error("end of day must follow start of day")
	}
}

func TestCompileFiltersInvalidDateRange(t *testing.T) {
	_, err := CompileFilters(map[string]any{
		"dateStart": "2024-02-01",
		"dateEnd":   "2024-01-01",
	}, hongKong(t))
	if regerrors.CodeOf(err) != regerrors.ErrCodeInvalidDateRange {
		t.Errorf("CodeOf = %v, want invalid_date_range", regerrors.CodeOf(err))
	}

	_, err = CompileFilters(map[string]any{"dateStart": "01/02/2024"}, hongKong(t))
	if regerrors.CodeOf(err) != regerrors.ErrCodeInvalidDateRange {
		t.Errorf("CodeOf = %v, want invalid_date_range for bad format", regerrors.CodeOf(err))
	}
}

func TestCompileFiltersEmpty(t *testing.T) {
	cf, err := CompileFilters(nil, hongKong(t))
	if err != nil {
		t.Fatalf("CompileFilters error = %v", err)
	}
	if len(cf.clauses) != 1 || cf.clauses[0] != "is_deleted = false" {
		t.Errorf("clauses = %v", cf.clauses)
	}
}

func TestCountAndPageSQL(t *testing.T) {
	cf, err := CompileFilters(map[string]any{"status": "pending"}, hongKong(t))
	if err != nil {
		t.Fatalf("CompileFilters error = %v", err)
	}

	countSQL := cf.CountSQL("transactions")
	wantCount := "SELECT COUNT(*) AS total FROM transactions WHERE is_deleted = false AND status = $1"
	if countSQL != wantCount {
		t.Errorf("count sql = %q\nwant      %q", countSQL, wantCount)
	}

	pageSQL := cf.PageSQL("transactions")
	wantPage := "SELECT * FROM transactions WHERE is_deleted = false AND status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3"
	if pageSQL != wantPage {
		t.Errorf("page sql = %q\nwant     %q", pageSQL, wantPage)
	}

	args := cf.PageArgs(Page{Limit: 20, Offset: 40})
	if len(args) != 3 || args[1] != 20 || args[2] != 40 {
		t.Errorf("page args = %v", args)
	}

	for _, marker := range []string{";", "--", "/*", "*/"} {
		if strings.Contains(pageSQL, marker) || strings.Contains(countSQL, marker) {
			t.Errorf("sql contains forbidden marker %q", marker)
		}
	}
}
