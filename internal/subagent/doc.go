// Package subagent drives one interactive session's conversation loop
// (spec component C7): a FIFO message queue, a single-flight round
// processor, streaming text/tool-call dispatch, and cooperative
// cancellation, all reported through the shared event bus.
//
// A Scope consumes two collaborators through interfaces only
// (ChatClient, ToolProvider) so the loop itself never imports a concrete
// model SDK or tool registry; package chatclient and package toolprovider
// supply the production implementations (eino/Anthropic and mcp-go
// respectively). Only RunInteractive, EnqueueUserMessage, and
// CancelCurrentMessage are meant to be called from outside this package —
// everything else is loop-internal bookkeeping.
package subagent
