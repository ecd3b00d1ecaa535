// Package delegate implements internal/tool.TaskExecutor on top of the
// runtime core (session.Manager + subagent.Scope): it is what turns the
// teacher's "Task" tool into spec.md §4.7's nested-task delegation — running
// a full child interactive session synchronously and returning its final
// text as the calling round's tool result.
package delegate

import (
	"context"
	"fmt"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/session"
	"github.com/opencode-ai/agentcore/internal/subagent"
	"github.com/opencode-ai/agentcore/internal/tool"
)

// Dependencies wires one Executor to the runtime core. All fields are
// required.
type Dependencies struct {
	Manager     *session.Manager
	Bus         *event.Bus
	Log         *logging.Logger
	ChatFactory subagent.ChatClientFactory
	Tools       subagent.ToolProvider
	// MaxDepth bounds how deep a delegation chain may nest (spec.md §3's
	// maxDepth, applied to every delegated child).
	MaxDepth int
}

// Executor runs one subtask per ExecuteSubtask call to completion before
// returning, so the calling round's tool-call/tool-result exchange carries
// the delegated session's entire conversation as a single result.
type Executor struct {
	deps Dependencies
}

// New builds an Executor from deps.
func New(deps Dependencies) *Executor {
	return &Executor{deps: deps}
}

// ExecuteSubtask implements internal/tool.TaskExecutor.
func (e *Executor) ExecuteSubtask(ctx context.Context, sessionID string, agentName string, prompt string, opts tool.TaskOptions) (*tool.TaskResult, error) {
	childID, err := e.deps.Manager.CreateSession(session.CreateSessionParams{
		Name:         opts.Description,
		SubagentName: agentName,
		ParentID:     sessionID,
		Config: session.SubagentSessionConfig{
			Interactive: true,
			MaxDepth:    e.deps.MaxDepth,
		},
		TaskPrompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("delegate: create child session: %w", err)
	}

	// A delegated subtask is a single question-answer exchange: the scope
	// itself has no notion of "done after one round" (it is built for
	// open-ended interactive sessions), so this executor watches for the
	// task_prompt round's final answer and cancels the child's context
	// itself once it arrives, rather than waiting on SubagentFinish to
	// fire on its own.
	var finalText string
	answered := make(chan struct{}, 1)
	unsubMsg := e.deps.Bus.Subscribe(event.SubagentMessageToUser, func(evt event.Event) {
		if evt.SessionID != childID {
			return
		}
		if data, ok := evt.Data.(event.SubagentMessageToUserData); ok && data.IsFinal {
			finalText = data.FinalText
			select {
			case answered <- struct{}{}:
			default:
			}
		}
	})
	defer unsubMsg()

	finishCh := make(chan event.SubagentFinishData, 1)
	unsubFinish := e.deps.Bus.Subscribe(event.SubagentFinish, func(evt event.Event) {
		if evt.SessionID != childID {
			return
		}
		if data, ok := evt.Data.(event.SubagentFinishData); ok {
			select {
			case finishCh <- data:
			default:
			}
		}
	})
	defer unsubFinish()

	scope := subagent.NewScope(subagent.Config{
		SessionID:        childID,
		SubagentID:       agentName,
		AllowNestedTasks: opts.ResumeFrom == "" && e.deps.MaxDepth > 1,
	}, e.deps.ChatFactory, e.deps.Tools, e.deps.Manager, e.deps.Bus, e.deps.Log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		scope.RunInteractive(runCtx)
		close(runDone)
	}()

	select {
	case <-answered:
		cancel()
		<-runDone
	case <-runDone:
		// RunInteractive ended on its own (e.g. chat client construction
		// failed) before ever producing an answer.
	case <-ctx.Done():
		cancel()
		<-runDone
	}

	var fin event.SubagentFinishData
	select {
	case fin = <-finishCh:
	default:
	}

	if fin.TerminateMode == string(subagent.TerminateError) {
		_ = e.deps.Manager.Abort(childID, "subtask error")
		return nil, fmt.Errorf("delegate: subtask %q failed", agentName)
	}
	if ctx.Err() != nil && finalText == "" {
		_ = e.deps.Manager.Abort(childID, "parent cancelled")
		return nil, ctx.Err()
	}
	_ = e.deps.Manager.Complete(childID, finalText, fin.TerminateMode)

	return &tool.TaskResult{
		Output:    finalText,
		SessionID: childID,
		AgentID:   agentName,
	}, nil
}

var _ tool.TaskExecutor = (*Executor)(nil)
