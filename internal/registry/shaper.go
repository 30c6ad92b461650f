package registry

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/oliverpay/txregistry/internal/errors"
	"github.com/oliverpay/txregistry/internal/sanitize"
)

// Serialized-size ceilings for the JSON blob columns.
const (
	maxMetaBytes        = 4096
	maxAllocationsBytes = 8192
	maxProductsBytes    = 16384
)

var metaKeyRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// directionAliases lists the payload keys a direction may arrive under, in
// lookup order.
var directionAliases = []string{"direction", "transaction_kind", "transactionKind"}

// ShapeMeta scrubs the caller-supplied meta mapping: keys must match the
// meta key pattern at every nesting level, absent array entries are dropped,
// and the serialized form must fit the meta ceiling. Absent input shapes to
// nil.
func ShapeMeta(value any) (map[string]any, error) {
	if !sanitize.HasValue(value) {
		return nil, nil
	}

	top, ok := sanitize.Object(value)
	if !ok {
		return nil, errors.FieldError(errors.ErrCodeInvalidValue, "meta", "meta must be a mapping")
	}

	cleaned, err := shapeMetaMap(top, "meta")
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cleaned)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidValue, "meta does not serialize", err)
	}
	if len(data) > maxMetaBytes {
		return nil, errors.FieldError(errors.ErrCodeBlobTooLarge, "meta", "serialized meta exceeds size ceiling")
	}
	return cleaned, nil
}

func shapeMetaMap(m map[string]any, path string) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for key, value := range m {
		cleanKey := sanitize.Text(key, false)
		if cleanKey == "" || !metaKeyRe.MatchString(cleanKey) {
			return nil, errors.FieldError(errors.ErrCodeInvalidMetaKey, path+"."+key, "meta key fails the allowed pattern")
		}
		shaped, err := shapeMetaValue(value, path+"."+cleanKey)
		if err != nil {
			return nil, err
		}
		out[cleanKey] = shaped
	}
	return out, nil
}

func shapeMetaValue(value any, path string) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string, bool, float64, int, int64, json.Number:
		return v, nil
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if !sanitize.HasValue(item) {
				continue
			}
			shaped, err := shapeMetaValue(item, path)
			if err != nil {
				return nil, err
			}
			out = append(out, shaped)
		}
		return out, nil
	case map[string]any:
		scrubbed, _ := sanitize.Object(v)
		return shapeMetaMap(scrubbed, path)
	}
	return nil, errors.FieldError(errors.ErrCodeInvalidValue, path, "meta value is not a scalar, array, or mapping")
}

// ShapeOwnerAllocations validates the allocation sequence: every entry needs
// a non-empty owner_uuid and an integer amount_cents, and the serialized form
// must fit its ceiling.
func ShapeOwnerAllocations(value any) ([]OwnerAllocation, error) {
	if !sanitize.HasValue(value) {
		return nil, nil
	}

	items, ok := asSequence(value)
	if !ok {
		return nil, errors.FieldError(errors.ErrCodeInvalidValue, "owner_allocations", "owner_allocations must be a sequence")
	}

	out := make([]OwnerAllocation, 0, len(items))
	for i, item := range items {
		entry, isMap := item.(map[string]any)
		if !isMap {
			return nil, errors.Ef(errors.ErrCodeInvalidAllocation, "owner_allocations[%d] is not a mapping", i)
		}
		uuid := sanitize.Text(entry["owner_uuid"], false)
		if uuid == "" {
			return nil, errors.Ef(errors.ErrCodeInvalidAllocation, "owner_allocations[%d] has no owner_uuid", i)
		}
		cents, okInt := sanitize.Int(entry["amount_cents"])
		if !okInt {
			return nil, errors.Ef(errors.ErrCodeInvalidAllocation, "owner_allocations[%d] has a non-integer amount_cents", i)
		}
		out = append(out, OwnerAllocation{OwnerUUID: uuid, AmountCents: cents})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidValue, "owner_allocations do not serialize", err)
	}
	if len(data) > maxAllocationsBytes {
		return nil, errors.FieldError(errors.ErrCodeBlobTooLarge, "owner_allocations", "serialized owner_allocations exceed size ceiling")
	}
	return out, nil
}

// ShapeOwners validates the owner list: a non-empty sequence of non-empty
// text entries.
func ShapeOwners(value any) ([]string, error) {
	items, ok := asSequence(value)
	if !ok || len(items) == 0 {
		return nil, errors.FieldError(errors.ErrCodeInvalidValue, "owners", "owners must be a non-empty sequence")
	}

	out := make([]string, 0, len(items))
	for i, item := range items {
		owner := sanitize.Text(item, false)
		if owner == "" {
			return nil, errors.Ef(errors.ErrCodeInvalidValue, "owners[%d] is not a non-empty string", i)
		}
		out = append(out, owner)
	}
	return out, nil
}

// ShapeProducts validates the product sequence and its serialized size.
// Absent input shapes to nil.
func ShapeProducts(value any) ([]any, error) {
	if !sanitize.HasValue(value) {
		return nil, nil
	}

	items, ok := asSequence(value)
	if !ok {
		return nil, errors.FieldError(errors.ErrCodeInvalidValue, "products", "products must be a sequence")
	}

	data, err := json.Marshal(items)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidValue, "products do not serialize", err)
	}
	if len(data) > maxProductsBytes {
		return nil, errors.FieldError(errors.ErrCodeBlobTooLarge, "products", "serialized products exceed size ceiling")
	}
	return items, nil
}

// NormalizeDirection trims, lowercases, and checks the direction enum.
func NormalizeDirection(value any) (string, error) {
	direction := strings.ToLower(sanitize.Text(value, false))
	if direction == "" {
		return "", errors.E(errors.ErrCodeInvalidDirection, "direction is missing")
	}
	if _, ok := validDirections[direction]; !ok {
		return "", errors.Ef(errors.ErrCodeInvalidDirection, "direction %q is not in the allowed set", direction)
	}
	return direction, nil
}

// DirectionFromPayload resolves the direction from its accepted alias keys.
func DirectionFromPayload(payload map[string]any) (string, error) {
	for _, key := range directionAliases {
		if sanitize.HasValue(payload[key]) {
			return NormalizeDirection(payload[key])
		}
	}
	return "", errors.E(errors.ErrCodeInvalidDirection, "direction is missing")
}

// NormalizeStatus trims and lowercases a status. Status stays an open string;
// only presence is enforced.
func NormalizeStatus(value any) (string, error) {
	status := strings.ToLower(sanitize.Text(value, false))
	if status == "" {
		return "", errors.E(errors.ErrCodeInvalidStatus, "status is missing")
	}
	return status, nil
}

// asSequence widens supported slice shapes into []any without wrapping
// scalars.
func asSequence(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}
