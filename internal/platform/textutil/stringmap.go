package textutil

import (
	"net/url"
	"strings"
)

// FlattenParams keeps the first non-empty value per trimmed key. Gateway redirect
// callbacks carry single-valued params, so extra values are ignored.
func FlattenParams(values url.Values) map[string]string {
	result := make(map[string]string, len(values))
	for key, vals := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		for _, v := range vals {
			if v = strings.TrimSpace(v); v != "" {
				result[key] = v
				break
			}
		}
	}
	return result
}
