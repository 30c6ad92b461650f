package gateway

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oliverpay/txregistry/internal/errors"
)

var (
	identifierRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	placeholderRe = regexp.MustCompile(`\$(\d+)`)
)

// forbiddenSQLMarkers are substrings that never appear in SQL the gateway is
// willing to run: statement separators and comment introducers defeat the
// placeholder-only contract.
var forbiddenSQLMarkers = []string{";", "--", "/*", "*/"}

// validateIdentifier checks a table or column name, splitting schema-qualified
// names on ".". Each part must match ^[A-Za-z_][A-Za-z0-9_]*$.
func validateIdentifier(name string) error {
	if name == "" {
		return errors.E(errors.ErrCodeInvalidIdentifier, "empty identifier")
	}
	for _, part := range strings.Split(name, ".") {
		if !identifierRe.MatchString(part) {
			return errors.Ef(errors.ErrCodeInvalidIdentifier, "identifier %q is not a valid SQL name", name)
		}
	}
	return nil
}

// quoteIdentifier double-quotes a validated identifier, preserving schema
// qualification. Callers must validate first.
func quoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, ".")
}

// validateWhereSQL enforces the free-form WHERE contract: at least one
// positional placeholder, no statement separators or comments, no string
// literals.
func validateWhereSQL(where string) error {
	if strings.TrimSpace(where) == "" {
		return errors.E(errors.ErrCodeDisallowedClause, "empty WHERE clause")
	}
	if !placeholderRe.MatchString(where) {
		return errors.E(errors.ErrCodeDisallowedClause, "WHERE clause has no positional placeholder")
	}
	for _, marker := range forbiddenSQLMarkers {
		if strings.Contains(where, marker) {
			return errors.Ef(errors.ErrCodeDisallowedClause, "WHERE clause contains forbidden marker %q", marker)
		}
	}
	if strings.ContainsAny(where, `'"`) {
		return errors.E(errors.ErrCodeDisallowedClause, "WHERE clause contains a string literal")
	}
	return nil
}

// maxPlaceholder returns the highest $N referenced in the SQL text, 0 when
// none.
func maxPlaceholder(sqlText string) int {
	max := 0
	for _, m := range placeholderRe.FindAllStringSubmatch(sqlText, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}

// checkPlaceholderCount rejects SQL referencing more placeholders than the
// supplied argument count.
func checkPlaceholderCount(sqlText string, argCount int) error {
	if highest := maxPlaceholder(sqlText); highest > argCount {
		return errors.Ef(errors.ErrCodeDisallowedClause,
			"sql references $%d but only %d args supplied", highest, argCount)
	}
	return nil
}

// rebasePlaceholders shifts every $N in the clause by the given offset, used
// when a caller-supplied WHERE is appended after a SET list.
func rebasePlaceholders(clause string, shift int) string {
	if shift == 0 {
		return clause
	}
	return placeholderRe.ReplaceAllStringFunc(clause, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil {
			return m
		}
		return "$" + strconv.Itoa(n+shift)
	})
}

// encodeArg converts a Go value into a driver-safe parameter. Mappings and
// sequences are serialized to JSON (single layer); non-finite floats and
// non-data kinds are rejected.
func encodeArg(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string, bool, int, int32, int64, []byte:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.E(errors.ErrCodeInvalidValue, "non-finite float parameter")
		}
		return v, nil
	case float32:
		return encodeArg(float64(v))
	case time.Time:
		if v.IsZero() {
			return nil, errors.E(errors.ErrCodeInvalidValue, "zero time parameter")
		}
		return v.UTC(), nil
	case decimal.Decimal:
		return v.String(), nil
	case json.RawMessage:
		return []byte(v), nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidValue, "parameter does not serialize to JSON", err)
		}
		return data, nil
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, errors.Ef(errors.ErrCodeInvalidValue, "parameter kind %s is not storable", rv.Kind())
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return encodeArg(rv.Elem().Interface())
	}
	return value, nil
}

// encodeArgs encodes every parameter, failing on the first bad one.
func encodeArgs(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		enc, err := encodeArg(a)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i+1, err)
		}
		out[i] = enc
	}
	return out, nil
}

// stmtName derives a stable prepared-statement name from the SQL text so the
// server caches one plan per distinct statement.
func stmtName(sqlText string) string {
	sum := sha1.Sum([]byte(sqlText))
	return "txreg_" + hex.EncodeToString(sum[:8])
}
