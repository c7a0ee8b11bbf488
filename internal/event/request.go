package event

import "sort"

// NormalizeRequest rewrites an event's request object in place: the
// Content-Type header is copied into inferred_content_type, and headers are
// converted from an unordered map into a list of [key, value] pairs sorted
// ascending by key, so serialized output is stable regardless of how the
// SDK ordered them.
func NormalizeRequest(request map[string]any) {
	if request == nil {
		return
	}
	headers := getMap(request, "headers")
	if headers == nil {
		return
	}

	request["inferred_content_type"] = headers["Content-Type"]

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]any, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, []any{k, headers[k]})
	}
	request["headers"] = pairs
}

// requestHeader reads a header value from a request object whose headers may
// be either the raw SDK map or the normalized pair list.
func requestHeader(request map[string]any, name string) string {
	switch headers := request["headers"].(type) {
	case map[string]any:
		return anyToString(headers[name])
	case []any:
		for _, p := range headers {
			pair, ok := p.([]any)
			if ok && len(pair) == 2 && anyToString(pair[0]) == name {
				return anyToString(pair[1])
			}
		}
	}
	return ""
}
