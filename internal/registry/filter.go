package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oliverpay/txregistry/internal/errors"
	"github.com/oliverpay/txregistry/internal/sanitize"
)

// Pagination bounds.
const (
	DefaultQueryLimit = 20
	MaxQueryLimit     = 200
)

// allowedClauseRes is the closed grammar of WHERE predicates. Anything not
// matching one of these patterns is rejected before SQL composition.
var allowedClauseRes = []*regexp.Regexp{
	regexp.MustCompile(`^is_deleted = false$`),
	regexp.MustCompile(`^transaction_id = \$\d+$`),
	regexp.MustCompile(`^customer_uid = \$\d+$`),
	regexp.MustCompile(`^owners @> \$\d+$`),
	regexp.MustCompile(`^order_type = \$\d+$`),
	regexp.MustCompile(`^status = \$\d+$`),
	regexp.MustCompile(`^created_at >= \$\d+$`),
	regexp.MustCompile(`^created_at <= \$\d+$`),
}

var clauseForbiddenMarkers = []string{";", "--", "/*", "*/"}

// Page is the caller-facing pagination envelope.
type Page struct {
	Limit  int
	Offset int
}

// Clamp resolves the effective limit and offset: limit in [1, MaxQueryLimit]
// defaulting to DefaultQueryLimit, offset non-negative defaulting to 0.
func (p Page) Clamp() Page {
	out := p
	if out.Limit == 0 {
		out.Limit = DefaultQueryLimit
	}
	if out.Limit < 1 {
		out.Limit = 1
	}
	if out.Limit > MaxQueryLimit {
		out.Limit = MaxQueryLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

// validateClause checks one predicate against the allowed grammar and the
// forbidden markers.
func validateClause(clause string) error {
	for _, marker := range clauseForbiddenMarkers {
		if strings.Contains(clause, marker) {
			return errors.Ef(errors.ErrCodeDisallowedClause, "clause contains forbidden marker %q", marker)
		}
	}
	for _, re := range allowedClauseRes {
		if re.MatchString(clause) {
			return nil
		}
	}
	return errors.Ef(errors.ErrCodeDisallowedClause, "clause %q is not in the allowed grammar", clause)
}

// compiledFilter is the output of CompileFilters: validated clauses and their
// positional arguments, ready for count and page composition.
type compiledFilter struct {
	clauses []string
	args    []any
}

// CompileFilters turns a caller filter map into the fixed-order clause list.
// Synonym keys are resolved, owner filters are merged and deduplicated, and
// date bounds are expanded to day windows in the given zone.
func CompileFilters(filters map[string]any, loc *time.Location) (*compiledFilter, error) {
	cf := &compiledFilter{clauses: []string{"is_deleted = false"}}

	appendClause := func(format string, arg any) {
		cf.args = append(cf.args, arg)
		cf.clauses = append(cf.clauses, fmt.Sprintf(format, len(cf.args)))
	}

	if id := firstText(filters, "transactionId", "transaction_id"); id != "" {
		appendClause("transaction_id = $%d", id)
	}
	if uid := firstText(filters, "customer_uid", "customerUid", "customerId"); uid != "" {
		appendClause("customer_uid = $%d", uid)
	}

	owners := collectOwners(filters)
	if len(owners) > 0 {
		encoded, err := json.Marshal(owners)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidValue, "owner filter does not serialize", err)
		}
		appendClause("owners @> $%d", string(encoded))
	}

	if orderType := firstText(filters, "order_type", "orderType"); orderType != "" {
		appendClause("order_type = $%d", orderType)
	}

	if sanitize.HasValue(filters["status"]) {
		status, err := NormalizeStatus(filters["status"])
		if err != nil {
			return nil, err
		}
		appendClause("status = $%d", status)
	}

	dateStart, dateEnd, err := dateWindow(filters, loc)
	if err != nil {
		return nil, err
	}
	if dateStart != nil {
		appendClause("created_at >= $%d", *dateStart)
	}
	if dateEnd != nil {
		appendClause("created_at <= $%d", *dateEnd)
	}

	for _, clause := range cf.clauses {
		if err := validateClause(clause); err != nil {
			return nil, err
		}
	}
	return cf, nil
}

// CountSQL composes the total-count statement for the compiled clauses.
func (cf *compiledFilter) CountSQL(table string) string {
	return fmt.Sprintf("SELECT COUNT(*) AS total FROM %s WHERE %s",
		table, strings.Join(cf.clauses, " AND "))
}

// PageSQL composes the paginated select. The LIMIT and OFFSET placeholders
// follow the filter arguments.
func (cf *compiledFilter) PageSQL(table string) string {
	base := len(cf.args)
	return fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		table, strings.Join(cf.clauses, " AND "), base+1, base+2)
}

// PageArgs returns the filter arguments extended with the clamped limit and
// offset.
func (cf *compiledFilter) PageArgs(page Page) []any {
	out := append(append([]any(nil), cf.args...), page.Limit, page.Offset)
	return out
}

// Args returns the filter arguments alone, for the count statement.
func (cf *compiledFilter) Args() []any {
	return append([]any(nil), cf.args...)
}

// firstText resolves the first present synonym key to sanitized text.
func firstText(filters map[string]any, keys ...string) string {
	for _, key := range keys {
		if sanitize.HasValue(filters[key]) {
			return sanitize.Text(filters[key], false)
		}
	}
	return ""
}

// collectOwners merges every owner synonym key, flattening scalar and list
// values and deduplicating while preserving first-seen order.
func collectOwners(filters map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(value any) {
		owner := sanitize.Text(value, false)
		if owner == "" {
			return
		}
		if _, dup := seen[owner]; dup {
			return
		}
		seen[owner] = struct{}{}
		out = append(out, owner)
	}

	for _, key := range []string{"ownerId", "owner_uuid", "owner", "ownerIds", "owner_ids"} {
		value := filters[key]
		if !sanitize.HasValue(value) {
			continue
		}
		if items, ok := asSequence(value); ok {
			for _, item := range items {
				add(item)
			}
			continue
		}
		add(value)
	}
	return out
}

// dateWindow expands dateStart/dateEnd (YYYY-MM-DD) into inclusive
// start-of-day and end-of-day bounds in the registry zone.
func dateWindow(filters map[string]any, loc *time.Location) (*time.Time, *time.Time, error) {
	var start, end *time.Time

	if raw := firstText(filters, "dateStart"); raw != "" {
		day, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrCodeInvalidDateRange, "dateStart is not YYYY-MM-DD", err)
		}
		start = &day
	}
	if raw := firstText(filters, "dateEnd"); raw != "" {
		day, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrCodeInvalidDateRange, "dateEnd is not YYYY-MM-DD", err)
		}
		eod := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
		end = &eod
	}

	if start != nil && end != nil && start.After(*end) {
		return nil, nil, errors.E(errors.ErrCodeInvalidDateRange, "dateStart is after dateEnd")
	}
	return start, end, nil
}
