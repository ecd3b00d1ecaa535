// Package subagent implements the runtime's interactive subagent scope
// (spec component C7): one goroutine-backed cooperative loop per
// interactive session that drains a FIFO message queue, drives a chat
// client, streams its output, dispatches tool calls, and reports everything
// through the event bus.
//
// The scope depends on two external collaborators only through interfaces
// (ChatClient, ToolProvider) so that a host can supply an eino/Anthropic-
// backed implementation (package chatclient) and an mcp-go/tool-registry-
// backed implementation (package toolprovider) without this package
// importing either concretely.
package subagent

import (
	"context"
	"encoding/json"
)

// ToolCall is one function call surfaced by a chat client stream chunk.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// StreamChunk is one unit produced by ChatClient.SendMessageStream.
// Exactly one of Text or ToolCalls is expected to carry content on any
// given chunk; Usage is only ever populated on the chunk(s) that report it.
type StreamChunk struct {
	// Retry indicates a transient, already-retried hiccup the client wants
	// the caller to simply continue past (spec.md §4.7's "retry" variant).
	Retry bool

	Text      string
	ToolCalls []ToolCall

	Usage *Usage
}

// Usage is token accounting for one round, as last reported by the stream.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolDeclaration is the tool-shape a ChatClient needs in order to offer a
// tool to the model; it mirrors the JSON-schema declarations the teacher's
// eino-backed tool registry already produces (internal/tool.Tool).
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// SendMessageConfig carries the per-call knobs sendMessageStream needs.
type SendMessageConfig struct {
	Tools []ToolDeclaration
}

// ChatClient is the model-facing collaborator consumed by Scope
// (spec.md §4.7). Implementations must respect ctx cancellation promptly at
// stream-chunk boundaries.
type ChatClient interface {
	// SendMessageStream streams a single round's response to messageText.
	// promptID identifies the round for tracing/log correlation
	// ("<sessionRoot>#<subagentId>#<roundCounter>").
	SendMessageStream(ctx context.Context, messageText string, cfg SendMessageConfig, promptID string) (<-chan StreamChunk, <-chan error)
}

// ToolResult is the outcome of dispatching one ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Success bool
	Output  any
	Err     string
}

// ToolProvider is the tool-facing collaborator consumed by Scope
// (spec.md §4.7's "tool registry").
type ToolProvider interface {
	// Declarations returns every tool's declaration.
	Declarations() []ToolDeclaration
	// DeclarationsFiltered returns only the named tools' declarations.
	DeclarationsFiltered(names []string) []ToolDeclaration
	// Dispatch executes one tool call and returns its result. Dispatch must
	// not panic; a failing tool call is reported via ToolResult.Success.
	Dispatch(ctx context.Context, call ToolCall, sessionID string) ToolResult
}
