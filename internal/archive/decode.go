package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnexpectedShape is returned when a response body carries no list of objects.
var ErrUnexpectedShape = errors.New("unexpected API response shape")

var preferredListKeys = []string{
	"items", "value", "data", "results", "records",
	"documents", "reports", "publicReports", "archives", "_embedded",
}

var emptyShapeKeys = map[string]struct{}{"_links": {}, "_meta": {}, "product": {}}

// DecodeJSON decodes a body keeping numbers as json.Number so ids survive untouched.
func DecodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload, nil
}

// CoerceList extracts the first list of objects from an arbitrarily nested payload.
// The known empty-archive shape (only _links, _meta and product) yields an empty slice.
func CoerceList(payload any) ([]map[string]any, error) {
	if rows := firstObjectList(payload); rows != nil {
		return rows, nil
	}
	if looksLikeEmptyArchive(payload) {
		return []map[string]any{}, nil
	}
	if obj, ok := payload.(map[string]any); ok {
		return nil, fmt.Errorf("%w: no list of objects was found. Top-level keys: %s",
			ErrUnexpectedShape, strings.Join(sortedKeys(obj), ", "))
	}
	return nil, fmt.Errorf("%w: no list of objects was found", ErrUnexpectedShape)
}

func firstObjectList(payload any) []map[string]any {
	switch v := payload.(type) {
	case []any:
		var rows []map[string]any
		for _, el := range v {
			if obj, ok := el.(map[string]any); ok {
				rows = append(rows, obj)
			}
		}
		if len(rows) > 0 {
			return rows
		}
		for _, el := range v {
			if nested := firstObjectList(el); len(nested) > 0 {
				return nested
			}
		}
	case map[string]any:
		seen := make(map[string]struct{}, len(preferredListKeys))
		for _, key := range preferredListKeys {
			seen[key] = struct{}{}
			child, ok := v[key]
			if !ok {
				continue
			}
			if nested := firstObjectList(child); len(nested) > 0 {
				return nested
			}
		}
		// Go maps are unordered; walk the rest alphabetically so results are stable.
		for _, key := range sortedKeys(v) {
			if _, done := seen[key]; done {
				continue
			}
			if nested := firstObjectList(v[key]); len(nested) > 0 {
				return nested
			}
		}
	}
	return nil
}

func looksLikeEmptyArchive(payload any) bool {
	obj, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := obj["product"]; !ok {
		return false
	}
	for key := range obj {
		if _, allowed := emptyShapeKeys[key]; !allowed {
			return false
		}
	}
	return true
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
