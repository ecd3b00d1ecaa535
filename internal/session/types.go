package session

import "time"

// Status is a session node's lifecycle state, per spec.md §3.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether s is a terminal status; nodes never transition
// out of a terminal status (spec.md §8 invariant 3).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// SubagentSessionConfig is immutable once a session is created with it
// (spec.md §3).
type SubagentSessionConfig struct {
	// Interactive enables bidirectional messaging and a live message queue.
	Interactive bool
	// MaxDepth is the maximum allowed depth for this subtree (root = 0).
	MaxDepth int
	// AutoSwitch, when true, makes creation push the new session onto the
	// active stack.
	AutoSwitch bool
	// InheritContext, when true, constructs the child context by copying
	// every key/value from the parent at creation time.
	InheritContext bool
	// AllowUserInteraction is advisory only; the core does not enforce it.
	AllowUserInteraction bool
}

// Node is a session tree node (spec.md §3's SessionNode).
type Node struct {
	ID           string
	Name         string
	SubagentName string
	Depth        int
	Status       Status
	ParentID     string
	// Children holds child ids in insertion order.
	Children  []string
	CreatedAt time.Time
	UpdatedAt time.Time
	Config    SubagentSessionConfig
}

// Clone returns a defensive copy of n, safe to hand to callers without
// exposing the store's internal Children slice for mutation.
func (n Node) Clone() Node {
	children := make([]string, len(n.Children))
	copy(children, n.Children)
	n.Children = children
	return n
}
