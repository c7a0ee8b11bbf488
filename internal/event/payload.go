// Package event implements classification and normalization of raw event
// payloads: deriving the title, culprit, and metadata that feed issue
// grouping, plus context enrichment and tag extraction.
package event

// Payload is a raw, loosely structured event body as decoded from JSON.
// SDKs vary widely in which fields they send, so all access is defensive.
type Payload = map[string]any

func getString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func getMap(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func getSlice(m map[string]any, key string) []any {
	v, _ := m[key].([]any)
	return v
}

// isEmptyValue reports whether v carries no content: nil, empty string,
// empty map, or empty slice.
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			return s[:i]
		}
	}
	return s
}

// truncate limits s to max runes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
