// Package probe looks up values in loosely-typed decoded JSON by trying
// ordered lists of key paths. Upstream payloads drift between versions and
// accounts, so every lookup tolerates absence and type mismatch.
package probe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Path is a sequence of object keys from the document root.
type Path []string

// Decode parses body into generic JSON values. Numbers are kept as json.Number
// so integer ids and prices survive without float rounding.
func Decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return out, nil
}

// Lookup walks path through nested objects.
func Lookup(doc any, path Path) (any, bool) {
	cur := doc
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// FirstString returns the first non-empty string found along paths.
func FirstString(doc any, paths ...Path) string {
	for _, path := range paths {
		if val, ok := Lookup(doc, path); ok {
			if str := String(val); str != "" {
				return str
			}
		}
	}
	return ""
}

// Field returns the first non-empty value among keys of a single object.
func Field(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := obj[key]; ok {
			if str := String(val); str != "" {
				return str
			}
		}
	}
	return ""
}

// Objects keeps the object elements of a JSON array and skips the rest.
func Objects(val any) []map[string]any {
	arr, ok := val.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// String converts a scalar to its canonical, locale-independent text form.
// Objects, arrays and nil yield "".
func String(val any) string {
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}
