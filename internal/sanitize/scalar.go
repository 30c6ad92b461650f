package sanitize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// maxSafeInt mirrors the safe-integer ceiling of the upstream wire format:
// callers exchange JSON, and integers beyond 2^53-1 do not survive a float64
// round-trip, so they are rejected rather than silently truncated.
const maxSafeInt = 1<<53 - 1

var (
	strictIntRe   = regexp.MustCompile(`^[+-]?\d+$`)
	strictFloatRe = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
)

// Int coerces a value to int64. Accepted: Go integer kinds, finite floats
// with no fractional part, json.Number, and strictly-numeric strings. Values
// outside the safe-integer range are rejected.
func Int(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return inSafeRange(int64(v))
	case int32:
		return inSafeRange(int64(v))
	case int64:
		return inSafeRange(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, false
		}
		if v > maxSafeInt || v < -maxSafeInt {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		return Int(string(v))
	case string:
		s := strings.TrimSpace(v)
		if !strictIntRe.MatchString(s) {
			return 0, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return inSafeRange(n)
	}
	return 0, false
}

func inSafeRange(n int64) (int64, bool) {
	if n > maxSafeInt || n < -maxSafeInt {
		return 0, false
	}
	return n, true
}

// Decimal coerces a value to a finite decimal. Accepted: Go numeric kinds
// (finite only), json.Number, and strict decimal strings. Thousands
// separators and NaN/Infinity tokens are rejected.
func Decimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	case decimal.Decimal:
		return v, true
	case json.Number:
		return Decimal(string(v))
	case string:
		s := strings.TrimSpace(v)
		if !strictFloatRe.MatchString(s) {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// Bool coerces a value to bool. Accepted: native booleans, the numbers 0 and
// 1, and the case-insensitive tokens true/false, yes/no, y/n, on/off, 1/0.
func Bool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case int64:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case float64:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case json.Number:
		return Bool(string(v))
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "on", "1":
			return true, true
		case "false", "no", "n", "off", "0":
			return false, true
		}
	}
	return false, false
}
