package modulestore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/yungbote/splitstore/internal/domain/keys"
)

// CloneFields deep-copies a field map built from JSON-shaped values.
func CloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneValue deep-copies one JSON-shaped value.
func CloneValue(v any) any { return cloneValue(v) }

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string{}, t...)
	case []keys.BlockKey:
		return append([]keys.BlockKey{}, t...)
	case map[string]keys.BlockKey:
		out := make(map[string]keys.BlockKey, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	default:
		return v
	}
}

// NormalizeFields rewrites a field map into the exact shape it takes after a trip
// through storage, so in-memory and reloaded values compare equal.
func NormalizeFields(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("normalize fields: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize fields: %w", err)
	}
	return out, nil
}

// NormalizeValue is NormalizeFields for a single value.
func NormalizeValue(v any) (any, error) {
	m, err := NormalizeFields(map[string]any{"v": v})
	if err != nil {
		return nil, err
	}
	return m["v"], nil
}

// JSONEqual compares two values by their canonical JSON encoding (map keys sorted).
func JSONEqual(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}

// FieldsEqual treats nil and empty maps as equal.
func FieldsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return JSONEqual(a, b)
}

// BlocksEquivalent compares everything a reader can observe on a block except edit info.
func BlocksEquivalent(a, b *BlockData) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.BlockType != b.BlockType || a.DefinitionID != b.DefinitionID {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if a.Children[i] != b.Children[i] {
			return false
		}
	}
	if len(a.Asides) != 0 || len(b.Asides) != 0 {
		if !JSONEqual(a.Asides, b.Asides) {
			return false
		}
	}
	return FieldsEqual(a.Fields, b.Fields) && FieldsEqual(a.Defaults, b.Defaults)
}
