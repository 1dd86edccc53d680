package observe

import (
	"net/http"
	"strings"
)

// RedactedValue replaces sensitive values in emitted log entries.
const RedactedValue = "[REDACTED]"

// redactor replaces values whose key is on a deny-list. It walks the top
// level of an entry and one level of nesting (maps and http.Header), which
// covers sub-objects such as "headers" and "error".
type redactor struct {
	keys map[string]struct{}
}

func newRedactor(keys []string) redactor {
	if len(keys) == 0 {
		keys = DefaultRedactedFields
	}
	r := redactor{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		r.keys[normalizeKey(k)] = struct{}{}
	}
	return r
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "-", "")
	return strings.ReplaceAll(k, "_", "")
}

func (r redactor) sensitive(key string) bool {
	_, ok := r.keys[normalizeKey(key)]
	return ok
}

// apply redacts entry in place.
func (r redactor) apply(entry map[string]any) {
	for k, v := range entry {
		if r.sensitive(k) {
			entry[k] = RedactedValue
			continue
		}
		entry[k] = r.nested(v)
	}
}

// nested returns a redacted copy of a one-level sub-object. Other values are
// returned unchanged.
func (r redactor) nested(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if r.sensitive(k) {
				out[k] = RedactedValue
			} else {
				out[k] = inner
			}
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, inner := range val {
			if r.sensitive(k) {
				out[k] = RedactedValue
			} else {
				out[k] = inner
			}
		}
		return out
	case http.Header:
		return r.headers(val)
	case map[string][]string:
		return r.headers(val)
	default:
		return v
	}
}

func (r redactor) headers(h map[string][]string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, vs := range h {
		if r.sensitive(k) {
			out[k] = []string{RedactedValue}
		} else {
			out[k] = append([]string(nil), vs...)
		}
	}
	return out
}
