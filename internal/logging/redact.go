package logging

import "regexp"

// secretKeyPattern matches `<key><sep><value>` where key is one of the
// spec-mandated secret-like field names (case-insensitive) and sep is `=`,
// `:`, or whitespace. The value is captured so it can be swapped for the
// literal [REDACTED] while leaving the key and separator untouched.
var secretKeyPattern = regexp.MustCompile(
	`(?i)(api_key|token|password|secret)([=:\s]+)([^\s,;"']+)`,
)

// secretKeyName matches a map key that names a secret-like field, using the
// same names as secretKeyPattern.
var secretKeyName = regexp.MustCompile(`(?i)(api_key|token|password|secret)`)

const redactedPlaceholder = "[REDACTED]"

// redactString scans s for secret-like key/value pairs and replaces the
// value with [REDACTED]. Idempotent: running it twice yields the same
// output, since a second pass finds only the literal [REDACTED] as the
// "value" and replaces it with itself.
func redactString(s string) string {
	return secretKeyPattern.ReplaceAllString(s, "${1}${2}"+redactedPlaceholder)
}

// redactValue walks an arbitrary value (as produced by json-ish metadata
// maps) redacting every string it finds, recursively through maps and
// slices. A string stored under a map key that names a secret is replaced
// whole with [REDACTED]. Non-string, non-container values pass through
// unchanged.
func redactValue(v any) any {
	switch t := v.(type) {
	case string:
		return redactString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, isString := val.(string); isString && secretKeyName.MatchString(k) {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val)
		}
		return out
	default:
		return v
	}
}
