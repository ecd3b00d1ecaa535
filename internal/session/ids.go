package session

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// newSessionSuffix returns a 6-character, lowercase suffix: the last six
// characters of a fresh ULID, which come from its random component, not its
// timestamp. Uniqueness is not guaranteed; a duplicate id is rejected when
// the node is added to the Store.
func newSessionSuffix() string {
	id := ulid.Make().String()
	return strings.ToLower(id[len(id)-6:])
}

// NewSessionID builds an id of the spec's recommended form
// "<name>-<6-char-random>". Callers must treat the result as opaque.
func NewSessionID(name string) string {
	slug := slugify(name)
	if slug == "" {
		slug = "session"
	}
	return slug + "-" + newSessionSuffix()
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
