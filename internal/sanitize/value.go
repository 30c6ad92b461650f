package sanitize

import "reflect"

// forbiddenObjectKeys are mapping keys that never survive sanitization. The
// upstream wire format is JSON produced by arbitrary clients; these keys are
// the classic prototype-pollution vectors and carry no legitimate meaning.
var forbiddenObjectKeys = map[string]struct{}{
	"__proto__":   {},
	"prototype":   {},
	"constructor": {},
}

// HasValue reports whether a value is present for sanitization purposes.
// nil, empty strings, empty slices, and empty maps are absent; zero numbers
// and false are present.
func HasValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Array coerces a value to a slice, wrapping singletons into one-element
// slices, and drops absent entries.
func Array(value any) ([]any, bool) {
	var src []any
	switch v := value.(type) {
	case []any:
		src = v
	case []string:
		src = make([]any, len(v))
		for i, s := range v {
			src[i] = s
		}
	case []map[string]any:
		src = make([]any, len(v))
		for i, m := range v {
			src[i] = m
		}
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Slice {
			src = make([]any, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				src[i] = rv.Index(i).Interface()
			}
		} else {
			src = []any{value}
		}
	}

	out := make([]any, 0, len(src))
	for _, item := range src {
		if HasValue(item) {
			out = append(out, item)
		}
	}
	return out, true
}

// Object shallow-clones a plain mapping, keeping only own string keys and
// dropping the forbidden ones. Non-mapping values are rejected.
func Object(value any) (map[string]any, bool) {
	m, isMap := value.(map[string]any)
	if !isMap {
		return nil, false
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, banned := forbiddenObjectKeys[k]; banned {
			continue
		}
		out[k] = v
	}
	return out, true
}
