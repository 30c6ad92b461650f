// Package sanitize implements schema-driven validation for untrusted payload
// maps. Every field is declared with a type, a required flag, and an optional
// default; SanitizeValidate returns a fully sanitized map or a typed error
// naming the offending field.
package sanitize

import (
	"github.com/oliverpay/txregistry/internal/errors"
)

// Field declares how a single payload value is sanitized.
type Field struct {
	Value    any
	Type     string // int, float, bool, string, array, iterable, email, url, html, object
	Required bool
	Default  any
}

// Schema maps field names to their sanitization rules.
type Schema map[string]Field

// SanitizeValidate applies each field's sanitizer and assembles the result.
//
// Rules: a missing optional field with no default yields nil; a missing
// required field fails with missing_required; a sanitizer returning nil for
// a required field fails with invalid_value.
func SanitizeValidate(schema Schema) (map[string]any, error) {
	out := make(map[string]any, len(schema))

	for name, field := range schema {
		value := field.Value
		if !HasValue(value) && field.Default != nil {
			value = field.Default
		}

		if !HasValue(value) {
			if field.Required {
				return nil, errors.FieldError(errors.ErrCodeMissingRequired, name, "required field is missing")
			}
			out[name] = nil
			continue
		}

		sanitized := applyType(value, field.Type)
		if sanitized == nil {
			if field.Required {
				return nil, errors.FieldError(errors.ErrCodeInvalidValue, name, "value does not sanitize as "+field.Type)
			}
			out[name] = nil
			continue
		}

		out[name] = sanitized
	}

	return out, nil
}

// applyType dispatches to the sanitizer for the declared type. Unknown types
// sanitize to nil so they can never smuggle a raw value through.
func applyType(value any, typ string) any {
	switch typ {
	case "int", "integer":
		if n, ok := Int(value); ok {
			return n
		}
	case "float", "numeric":
		if d, ok := Decimal(value); ok {
			return d
		}
	case "bool", "boolean":
		if b, ok := Bool(value); ok {
			return b
		}
	case "string", "text":
		if s := Text(value, false); s != "" {
			return s
		}
	case "html":
		if s := Text(value, true); s != "" {
			return s
		}
	case "email":
		if s, ok := Email(value); ok {
			return s
		}
	case "url":
		if s, ok := URL(value); ok {
			return s
		}
	case "array", "iterable":
		if arr, ok := Array(value); ok {
			return arr
		}
	case "object":
		if m, ok := Object(value); ok {
			return m
		}
	}
	return nil
}
