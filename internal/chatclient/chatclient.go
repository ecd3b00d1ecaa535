// Package chatclient adapts the runtime's provider registry (an
// eino-backed Anthropic chat model) to the subagent.ChatClient interface
// the interactive scope (package subagent) depends on.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/subagent"
)

// Client adapts one provider.Provider + model id pair to subagent.ChatClient.
// A Client is built once per Scope (via ChatClientFactory) and reused across
// every round of that session, so it accumulates the conversation itself:
// Scope's SendMessageStream contract only carries the new round's message
// text, not the prior turns.
type Client struct {
	prov         provider.Provider
	modelID      string
	maxTokens    int
	temperature  float64
	systemPrompt string

	mu      sync.Mutex
	history []*schema.Message
}

// Config selects the provider/model a Client talks to.
type Config struct {
	Provider     provider.Provider
	ModelID      string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// New builds a Client. Returns an error if cfg.Provider is nil, mirroring
// the chat-object construction failure path spec.md §4.7 routes to
// TerminateMode ERROR.
func New(cfg Config) (*Client, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("chatclient: provider is required")
	}
	return &Client{
		prov:         cfg.Provider,
		modelID:      cfg.ModelID,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

func toEinoTools(decls []subagent.ToolDeclaration) []*schema.ToolInfo {
	tools := make([]provider.ToolInfo, 0, len(decls))
	for _, d := range decls {
		tools = append(tools, provider.ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return provider.ConvertToEinoTools(tools)
}

func toSubagentToolCalls(calls []schema.ToolCall) []subagent.ToolCall {
	out := make([]subagent.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, subagent.ToolCall{
			ID:   c.ID,
			Name: c.Function.Name,
			Args: json.RawMessage(c.Function.Arguments),
		})
	}
	return out
}

// SendMessageStream implements subagent.ChatClient.
func (c *Client) SendMessageStream(ctx context.Context, text string, cfg subagent.SendMessageConfig, promptID string) (<-chan subagent.StreamChunk, <-chan error) {
	chunks := make(chan subagent.StreamChunk, 16)
	errCh := make(chan error, 1)

	messages := c.nextRequestMessages(text)

	req := &provider.CompletionRequest{
		Model:       c.modelID,
		Messages:    messages,
		Tools:       toEinoTools(cfg.Tools),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	go func() {
		defer close(chunks)
		defer close(errCh)

		stream, err := c.prov.CreateCompletion(ctx, req)
		if err != nil {
			select {
			case errCh <- fmt.Errorf("chatclient: %w", err):
			case <-ctx.Done():
			}
			return
		}
		defer stream.Close()

		var reply strings.Builder
		var toolCalls []schema.ToolCall

		for {
			if ctx.Err() != nil {
				return
			}
			msg, err := stream.Recv()
			if err == io.EOF {
				c.appendAssistantTurn(reply.String(), toolCalls)
				return
			}
			if err != nil {
				select {
				case errCh <- fmt.Errorf("chatclient: stream recv: %w", err):
				case <-ctx.Done():
				}
				return
			}

			reply.WriteString(msg.Content)
			toolCalls = append(toolCalls, msg.ToolCalls...)

			chunk := subagent.StreamChunk{
				Text:      msg.Content,
				ToolCalls: toSubagentToolCalls(msg.ToolCalls),
			}
			if u := extractUsage(msg); u != nil {
				chunk.Usage = u
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunks, errCh
}

// nextRequestMessages records text as the round's user turn and returns the
// full message list (system prompt, if any, followed by the whole history
// including this turn) to send upstream.
func (c *Client) nextRequestMessages(text string) []*schema.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, &schema.Message{Role: schema.User, Content: text})
	messages := make([]*schema.Message, 0, len(c.history)+1)
	if c.systemPrompt != "" {
		messages = append(messages, &schema.Message{Role: schema.System, Content: c.systemPrompt})
	}
	messages = append(messages, c.history...)
	return messages
}

// appendAssistantTurn records the model's reply so the next round's request
// carries it as prior context.
func (c *Client) appendAssistantTurn(content string, toolCalls []schema.ToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, &schema.Message{
		Role:      schema.Assistant,
		Content:   content,
		ToolCalls: toolCalls,
	})
}

func extractUsage(msg *schema.Message) *subagent.Usage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return nil
	}
	u := msg.ResponseMeta.Usage
	return &subagent.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

var _ subagent.ChatClient = (*Client)(nil)
