// Package session implements the runtime's session tree (spec components
// C4–C6): an in-memory hierarchy of interactive and non-interactive
// sessions, the active-path stack that tracks which one currently owns the
// user's attention, and the per-session opaque context values a host
// attaches to a session at creation time.
//
// Store (C4) owns the node map and active stack and knows nothing about
// context values or bound scopes. Context (C5) is a plain, type-erased
// key/value holder with one-shot copy-on-construction inheritance from a
// parent. Manager (C6) is the façade a host actually talks to: it wires
// Store and Context together, enforces the max-depth and not-found
// structural errors from the error taxonomy (package orcherr), and emits
// session lifecycle events onto the shared event bus (package event) so
// that anything — a CLI renderer, a websocket bridge, a log sink —
// can observe the tree changing shape without polling it.
//
// Session ids are generated, not caller-supplied, and look like
// "<slug>-<6-char-suffix>"; the suffix is the last six characters of a ULID,
// taken from its random part, and a duplicate id fails creation with
// DUPLICATE_SESSION (see ids.go).
package session
