package memory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// parseItems extracts a JSON array from generated text. It tries, in
// order: the whole text, the span from the first '[' to the last ']', and
// a repaired version of the text. ok is false when none yields an array.
func parseItems(text string) (items []any, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	if items, ok := decodeArray(text); ok {
		return items, true
	}
	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		if items, ok := decodeArray(text[start : end+1]); ok {
			return items, true
		}
	}
	repaired, err := jsonrepair.Repair(text)
	if err != nil {
		return nil, false
	}
	return decodeArray(repaired)
}

func decodeArray(s string) ([]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// validateItems keeps the candidates that are objects with a non-empty
// title and content. Invalid candidates are dropped one by one.
func validateItems(items []any) []MemoryEntry {
	var out []MemoryEntry
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		e := MemoryEntry{
			Title:       stringField(obj["title"]),
			Description: stringField(obj["description"]),
			Content:     stringField(obj["content"]),
		}
		if e.Title == "" || e.Content == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func stringField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64, bool:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
