package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/session"
)

// TerminateMode records why runInteractive's promise ended.
type TerminateMode string

const (
	TerminateFinished  TerminateMode = "finished"
	TerminateError     TerminateMode = "error"
	TerminateCancelled TerminateMode = "cancelled"
	TerminateMaxTurns  TerminateMode = "max_turns"
	TerminateMaxTime   TerminateMode = "max_time"
)

// ChatClientFactory builds the chat object for a session from its initial
// context, mirroring spec.md §4.7's "construct a chat object from the
// initial context; on failure set terminate mode to ERROR and return."
type ChatClientFactory func(ctx context.Context, initialContext *session.Context) (ChatClient, error)

// Config parameterizes one Scope. SubagentID defaults to SessionID when
// empty and is used only to build the promptId handed to the chat client.
type Config struct {
	SessionID        string
	SubagentID       string
	AllowNestedTasks bool
	DelegationTool   ToolDeclaration
	ToolWhitelist    []string
	InlineTools      []ToolDeclaration

	// MaxTurns and MaxTime are the supplemental hard turn/time limits this
	// module adds on top of spec.md §4.7; zero means unlimited, per
	// spec.md §5's "hard time and turn limits ... enforced by the scope".
	MaxTurns int
	MaxTime  time.Duration
}

// Scope drives one interactive session's conversation: spec component C7.
// A Scope is single-flight per session — at most one round is ever
// in-flight — and is safe for concurrent EnqueueUserMessage/
// CancelCurrentMessage calls from any goroutine.
type Scope struct {
	cfg         Config
	chatFactory ChatClientFactory
	tools       ToolProvider
	manager     *session.Manager
	bus         *event.Bus
	log         *logging.Logger

	mu            sync.Mutex
	chat          ChatClient
	queue         []string
	processing    bool
	roundCounter  int
	terminateMode TerminateMode
	cancelRound   context.CancelFunc
	startedAt     time.Time

	abortCtx    context.Context
	abortCancel context.CancelFunc
}

// NewScope constructs a Scope. Nothing runs until RunInteractive is called.
func NewScope(cfg Config, chatFactory ChatClientFactory, tools ToolProvider, manager *session.Manager, bus *event.Bus, log *logging.Logger) *Scope {
	if cfg.SubagentID == "" {
		cfg.SubagentID = cfg.SessionID
	}
	return &Scope{cfg: cfg, chatFactory: chatFactory, tools: tools, manager: manager, bus: bus, log: log}
}

func (s *Scope) emit(evt event.Event) {
	evt.SessionID = s.cfg.SessionID
	s.bus.PublishSync(evt)
}

// RunInteractive blocks until the session's internal abort controller
// fires: either ctx is cancelled (external abort) or a hard turn/time limit
// trips. It always emits FINISH on return, per spec.md §4.7.
func (s *Scope) RunInteractive(ctx context.Context) {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	abortCtx, abortCancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.abortCtx = abortCtx
	s.abortCancel = abortCancel
	s.mu.Unlock()
	defer abortCancel()
	defer s.emitFinish()

	initialCtx, err := s.manager.GetSessionContext(s.cfg.SessionID)
	if err != nil {
		s.setTerminate(TerminateError)
		return
	}

	chat, err := s.chatFactory(abortCtx, initialCtx)
	if err != nil {
		s.log.Error("subagent: failed to construct chat client", err, map[string]any{"sessionId": s.cfg.SessionID}, nil)
		s.setTerminate(TerminateError)
		return
	}
	s.mu.Lock()
	s.chat = chat
	s.mu.Unlock()

	if bindErr := s.manager.BindScope(s.cfg.SessionID, s); bindErr != nil {
		s.manager.RebindScope(s.cfg.SessionID, s)
	}

	s.emit(event.Event{Type: event.SubagentStart, Data: event.SubagentStartData{}})

	if v, ok := initialCtx.Get("task_prompt"); ok {
		if text, ok := v.(string); ok && text != "" {
			s.EnqueueUserMessage(text)
		}
	}

	if s.cfg.MaxTime > 0 {
		timer := time.AfterFunc(s.cfg.MaxTime, func() {
			s.setTerminate(TerminateMaxTime)
			abortCancel()
		})
		defer timer.Stop()
	}

	<-abortCtx.Done()

	s.mu.Lock()
	if s.terminateMode == "" {
		s.terminateMode = TerminateCancelled
	}
	s.mu.Unlock()
}

// EnqueueUserMessage appends text to the session's FIFO queue and kicks off
// processing if the scope is currently idle. It satisfies session.Scope, so
// the session manager's sendUserMessage can drive it directly; that path
// already emits USER_MESSAGE_TO_SESSION (spec.md §4.6), so this method does
// not emit it a second time.
func (s *Scope) EnqueueUserMessage(text string) {
	s.mu.Lock()
	s.queue = append(s.queue, text)
	shouldStart := !s.processing
	if shouldStart {
		s.processing = true
	}
	s.mu.Unlock()

	if shouldStart {
		go s.processNextInteractive()
	}
}

// CancelCurrentMessage aborts the in-flight round only; the session stays
// alive and keeps draining its queue afterward. It satisfies
// session.CancellableScope.
func (s *Scope) CancelCurrentMessage() {
	s.mu.Lock()
	cancel := s.cancelRound
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Scope) setTerminate(mode TerminateMode) {
	s.mu.Lock()
	if s.terminateMode == "" {
		s.terminateMode = mode
	}
	s.mu.Unlock()
}

// processNextInteractive is the private single-flight loop described in
// spec.md §4.7: while the queue is non-empty and the scope isn't aborted,
// pop one message and run it to completion before considering the next.
func (s *Scope) processNextInteractive() {
	for {
		select {
		case <-s.abortDone():
			s.mu.Lock()
			s.processing = false
			s.mu.Unlock()
			return
		default:
		}

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.processing = false
			s.mu.Unlock()
			return
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.runRound(msg)

		if s.cfg.MaxTurns > 0 {
			s.mu.Lock()
			exceeded := s.roundCounter >= s.cfg.MaxTurns
			s.mu.Unlock()
			if exceeded {
				s.setTerminate(TerminateMaxTurns)
				s.mu.Lock()
				cancel := s.abortCancel
				s.mu.Unlock()
				if cancel != nil {
					cancel()
				}
				return
			}
		}
	}
}

// abortDone returns the abort context's Done channel, or a nil channel if
// RunInteractive has not yet started (so that case of the select above
// never fires before abortCtx exists; its default branch is taken instead).
func (s *Scope) abortDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abortCtx == nil {
		return nil
	}
	return s.abortCtx.Done()
}

func (s *Scope) buildToolList() []ToolDeclaration {
	var decls []ToolDeclaration
	if len(s.cfg.ToolWhitelist) > 0 {
		decls = s.tools.DeclarationsFiltered(s.cfg.ToolWhitelist)
	} else {
		decls = s.tools.Declarations()
	}
	if s.cfg.AllowNestedTasks {
		decls = append(decls, s.cfg.DelegationTool)
	}
	decls = append(decls, s.cfg.InlineTools...)
	return decls
}

func (s *Scope) sessionRoot() string {
	id := s.cfg.SessionID
	for {
		node, err := s.manager.GetSessionNode(id)
		if err != nil || node.ParentID == "" {
			return id
		}
		id = node.ParentID
	}
}

func (s *Scope) runRound(msg string) {
	s.mu.Lock()
	s.roundCounter++
	round := s.roundCounter
	chat := s.chat
	parent := s.abortCtx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	roundCtx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancelRound = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelRound = nil
		s.mu.Unlock()
		cancel()
	}()

	promptID := fmt.Sprintf("%s#%s#%d", s.sessionRoot(), s.cfg.SubagentID, round)
	s.emit(event.Event{Type: event.SubagentRoundStart, Data: event.SubagentRoundStartData{Round: round, PromptID: promptID}})

	chunks, errCh := chat.SendMessageStream(roundCtx, msg, SendMessageConfig{Tools: s.buildToolList()}, promptID)

	var textBuf strings.Builder
	var calls []ToolCall
	var usage *Usage
	aborted := false

loop:
	for {
		select {
		case <-roundCtx.Done():
			aborted = true
			break loop
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			if chunk.Retry {
				continue
			}
			if chunk.Text != "" {
				textBuf.WriteString(chunk.Text)
				s.emit(event.Event{Type: event.SubagentStreamText, Data: event.SubagentStreamTextData{Text: chunk.Text}})
				s.emit(event.Event{Type: event.SubagentMessageToUser, Data: event.SubagentMessageToUserData{TextChunk: chunk.Text}})
			}
			if len(chunk.ToolCalls) > 0 {
				calls = append(calls, chunk.ToolCalls...)
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
		case err, ok := <-errCh:
			if ok && err != nil {
				s.log.Error("subagent: chat client error", err, map[string]any{"sessionId": s.cfg.SessionID, "round": round}, nil)
				s.emit(event.Event{Type: event.SubagentError, Data: event.SubagentErrorData{Err: err.Error()}})
				aborted = true
			}
			break loop
		}
	}

	if usage != nil {
		s.manager.AccumulateTokenUsage(s.cfg.SessionID, usage.PromptTokens, usage.CompletionTokens)
	}

	if !aborted && len(calls) > 0 {
		for _, c := range calls {
			s.emit(event.Event{Type: event.SubagentToolCall, Data: event.SubagentToolCallData{CallID: c.ID, Name: c.Name, Args: json.RawMessage(c.Args)}})
			res := s.tools.Dispatch(roundCtx, c, s.cfg.SessionID)
			s.emit(event.Event{Type: event.SubagentToolResult, Data: event.SubagentToolResultData{
				CallID: res.CallID, Name: res.Name, Success: res.Success, Output: res.Output, Err: res.Err,
			}})
		}
	}

	if !aborted && textBuf.Len() > 0 {
		final := strings.TrimSpace(textBuf.String())
		s.emit(event.Event{Type: event.SubagentMessageToUser, Data: event.SubagentMessageToUserData{FinalText: final, IsFinal: true}})
	}

	s.emit(event.Event{Type: event.SubagentRoundEnd, Data: event.SubagentRoundEndData{Round: round}})
}

func (s *Scope) emitFinish() {
	s.mu.Lock()
	mode := s.terminateMode
	rounds := s.roundCounter
	s.mu.Unlock()
	if mode == "" {
		mode = TerminateFinished
	}

	usage, _ := s.manager.GetTokenUsage(s.cfg.SessionID)
	s.emit(event.Event{Type: event.SubagentFinish, Data: event.SubagentFinishData{
		Rounds:        rounds,
		PromptTokens:  usage.PromptTokens,
		CompletionTok: usage.CompletionTokens,
		TotalTokens:   usage.TotalTokens,
		TerminateMode: string(mode),
	}})
}

var _ session.CancellableScope = (*Scope)(nil)
