// Package provider adapts an LLM backend to the chatclient/subagent layer's
// opaque chat-client contract (spec.md §1 treats "the LLM client itself" as
// out of scope).
//
// # Core Components
//
//   - Provider: the interface chatclient depends on
//   - Registry: resolves a provider/model pair from config
//   - CompletionRequest/CompletionStream: streaming chat completions
//   - Tool conversion utilities for function calling
//
// # Anthropic (Claude)
//
// The only concrete Provider wired into the runtime. Supports direct API
// access or AWS Bedrock, extended thinking, prompt caching, and tool
// calling:
//
//	provider, err := NewAnthropicProvider(ctx, &AnthropicConfig{
//	    ID:        "anthropic",
//	    APIKey:    "sk-...",
//	    Model:     "claude-sonnet-4-20250514",
//	    MaxTokens: 8192,
//	})
//
// # Registry Usage
//
//	registry := NewRegistry(config)
//	provider, err := registry.Get("anthropic")
//	model, err := registry.GetModel("anthropic", "claude-sonnet-4-20250514")
//	model, err := registry.DefaultModel()
//	models := registry.AllModels()
//
// # Streaming Completions
//
//	stream, err := provider.CreateCompletion(ctx, &CompletionRequest{
//	    Model:     "claude-sonnet-4-20250514",
//	    Messages:  messages,
//	    Tools:     tools,
//	    MaxTokens: 4096,
//	})
//
//	for {
//	    msg, err := stream.Recv()
//	    if err != nil {
//	        break
//	    }
//	    // Process message chunk
//	}
//	stream.Close()
//
// # Tool Calling
//
//	einoTools := ConvertToEinoTools(tools)
//
// # Integration with Eino
//
// Built on github.com/cloudwego/eino, which supplies the ChatModel
// interface, streaming, and message schema this package adapts.
package provider
