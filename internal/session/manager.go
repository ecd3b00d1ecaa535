package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/orcherr"
)

// Scope is the minimal contract a bound execution object must satisfy
// (spec.md §9: "a non-owning reference to something implementing
// {enqueueUserMessage, cancelCurrentMessage?}").
type Scope interface {
	EnqueueUserMessage(text string)
}

// CancellableScope is a Scope that also exposes in-flight round
// cancellation.
type CancellableScope interface {
	Scope
	CancelCurrentMessage()
}

// TokenUsage accumulates per-round usage metadata into a running total for
// a session (this module's supplemental "token usage accounting" feature).
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CreateSessionParams is the input to Manager.CreateSession.
type CreateSessionParams struct {
	Name         string
	SubagentName string
	ParentID     string
	Config       SubagentSessionConfig
	TaskPrompt   string
}

// Manager is the runtime's public façade (spec component C6), coordinating
// the session store (C4), per-session contexts (C5), bound subagent scopes
// (C7), and the event bus (C8).
type Manager struct {
	store *Store
	bus   *event.Bus
	log   *logging.Logger

	mu       sync.Mutex
	contexts map[string]*Context
	scopes   map[string]Scope
	usage    map[string]TokenUsage
}

// NewManager constructs a Manager. bus and log must not be nil.
func NewManager(bus *event.Bus, log *logging.Logger) *Manager {
	return &Manager{
		store:    NewStore(),
		bus:      bus,
		log:      log,
		contexts: make(map[string]*Context),
		scopes:   make(map[string]Scope),
		usage:    make(map[string]TokenUsage),
	}
}

func (m *Manager) emit(evt event.Event) {
	m.bus.PublishSync(evt)
}

func nodeView(n Node) event.SessionNodeView {
	return event.SessionNodeView{
		ID:           n.ID,
		Name:         n.Name,
		SubagentName: n.SubagentName,
		Depth:        n.Depth,
		Status:       string(n.Status),
		ParentID:     n.ParentID,
	}
}

// CreateSession implements spec.md §4.6's createSession operation.
func (m *Manager) CreateSession(params CreateSessionParams) (string, error) {
	depth := 0
	var parentCtx *Context
	if params.ParentID != "" {
		d, ok := m.store.GetDepth(params.ParentID)
		if !ok {
			return "", orcherr.NewSessionError(orcherr.CodeParentNotFound, params.ParentID)
		}
		depth = d + 1
		m.mu.Lock()
		parentCtx = m.contexts[params.ParentID]
		m.mu.Unlock()
	}

	if params.Config.MaxDepth <= 0 {
		params.Config.MaxDepth = 1
	}
	if depth >= params.Config.MaxDepth {
		return "", orcherr.NewSessionError(orcherr.CodeMaxDepthExceeded,
			fmt.Sprintf("depth %d >= maxDepth %d", depth, params.Config.MaxDepth))
	}

	id := NewSessionID(params.Name)
	now := time.Now()
	node := Node{
		ID:           id,
		Name:         params.Name,
		SubagentName: params.SubagentName,
		Depth:        depth,
		Status:       StatusActive,
		ParentID:     params.ParentID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Config:       params.Config,
	}

	if err := m.store.AddNode(node); err != nil {
		return "", orcherr.NewSessionError(orcherr.CodeDuplicateSession, id)
	}
	if params.ParentID != "" {
		if err := m.store.LinkChild(params.ParentID, id); err != nil {
			return "", orcherr.NewSessionError(orcherr.CodeParentNotFound, params.ParentID)
		}
	}

	ctx := NewChildContext(parentCtx, params.Config.InheritContext)
	if params.TaskPrompt != "" {
		ctx.Set("task_prompt", params.TaskPrompt)
	}
	m.mu.Lock()
	m.contexts[id] = ctx
	m.mu.Unlock()

	m.emit(event.Event{Type: event.SessionStarted, SessionID: id, Data: event.SessionStartedData{Node: nodeView(node)}})

	if params.Config.AutoSwitch {
		prev, hadPrev := m.store.GetActive()
		_ = m.store.Push(id)
		from := ""
		if hadPrev {
			from = prev
		}
		m.emit(event.Event{Type: event.SessionSwitched, SessionID: id, Data: event.SessionSwitchedData{From: from, To: id}})
	}

	return id, nil
}

// SwitchActiveSession pushes id onto the active stack and emits
// SessionSwitched.
func (m *Manager) SwitchActiveSession(id string) error {
	if !m.store.Has(id) {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	prev, hadPrev := m.store.GetActive()
	_ = m.store.Push(id)
	from := ""
	if hadPrev {
		from = prev
	}
	m.emit(event.Event{Type: event.SessionSwitched, SessionID: id, Data: event.SessionSwitchedData{From: from, To: id}})
	return nil
}

// BackToParent pops the active stack and, if a session remains, emits
// SessionSwitched to it. Returns the new active id, if any.
func (m *Manager) BackToParent() (string, bool) {
	_, popped := m.store.Pop()
	if !popped {
		return "", false
	}
	newActive, ok := m.store.GetActive()
	if ok {
		m.emit(event.Event{Type: event.SessionSwitched, SessionID: newActive, Data: event.SessionSwitchedData{To: newActive}})
	}
	return newActive, ok
}

// Pause transitions id to paused. A no-op if already paused. Fails with a
// SessionError if id is unknown or already terminal: spec.md §9 flags this
// as an open question; this implementation rejects rather than silently
// reactivating or silently discarding the call.
func (m *Manager) Pause(id string) error {
	node, ok := m.store.GetNode(id)
	if !ok {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	if node.Status == StatusPaused {
		return nil
	}
	if node.Status.Terminal() {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, fmt.Sprintf("%s: cannot pause a terminal session", id))
	}
	if err := m.store.SetStatus(id, StatusPaused); err != nil {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	m.emit(event.Event{Type: event.SessionPaused, SessionID: id, Data: event.SessionPausedData{}})
	return nil
}

// Resume transitions id from paused back to active. A no-op if already
// active.
func (m *Manager) Resume(id string) error {
	node, ok := m.store.GetNode(id)
	if !ok {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	if node.Status == StatusActive {
		return nil
	}
	if node.Status.Terminal() {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, fmt.Sprintf("%s: cannot resume a terminal session", id))
	}
	if err := m.store.SetStatus(id, StatusActive); err != nil {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	m.emit(event.Event{Type: event.SessionResumed, SessionID: id, Data: event.SessionResumedData{}})
	return nil
}

func (m *Manager) popIfActiveAndSwitch(id string) {
	active, ok := m.store.GetActive()
	if !ok || active != id {
		return
	}
	m.store.Pop()
	if newActive, ok := m.store.GetActive(); ok {
		m.emit(event.Event{Type: event.SessionSwitched, SessionID: newActive, Data: event.SessionSwitchedData{From: id, To: newActive}})
	}
}

// Complete transitions id to completed, carrying an optional result and
// terminate reason. If id is currently active, it is popped and
// SessionSwitched is emitted for the new top (if any). Fails with a
// SessionError if id is unknown or already terminal.
func (m *Manager) Complete(id string, result any, reason string) error {
	node, ok := m.store.GetNode(id)
	if !ok {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	if node.Status.Terminal() {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, fmt.Sprintf("%s: cannot complete a terminal session", id))
	}
	if err := m.store.SetStatus(id, StatusCompleted); err != nil {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	m.emit(event.Event{Type: event.SessionCompleted, SessionID: id, Data: event.SessionCompletedData{Result: result, TerminateReason: reason}})
	m.popIfActiveAndSwitch(id)
	return nil
}

// Abort transitions id to aborted. If id is currently active, it is popped
// and SessionSwitched is emitted for the new top (if any). Fails with a
// SessionError if id is unknown or already terminal.
func (m *Manager) Abort(id string, reason string) error {
	node, ok := m.store.GetNode(id)
	if !ok {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	if node.Status.Terminal() {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, fmt.Sprintf("%s: cannot abort a terminal session", id))
	}
	if err := m.store.SetStatus(id, StatusAborted); err != nil {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	m.emit(event.Event{Type: event.SessionAborted, SessionID: id, Data: event.SessionAbortedData{Reason: reason}})
	m.popIfActiveAndSwitch(id)
	return nil
}

// SendUserMessage emits UserMessageToSession and, if a scope is bound for
// id, enqueues text on it.
func (m *Manager) SendUserMessage(id string, text string) error {
	if !m.store.Has(id) {
		return orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	m.emit(event.Event{Type: event.UserMessageToSession, SessionID: id, Data: event.UserMessageToSessionData{Text: text}})

	m.mu.Lock()
	scope := m.scopes[id]
	m.mu.Unlock()
	if scope != nil {
		scope.EnqueueUserMessage(text)
	}
	return nil
}

// BindScope registers scope for id. Per spec.md §9's flagged open question
// on scope rebinding, this implementation refuses to replace an
// already-bound scope; call RebindScope for an explicit takeover.
func (m *Manager) BindScope(id string, scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, bound := m.scopes[id]; bound {
		return fmt.Errorf("session: a scope is already bound for %q; use RebindScope to replace it", id)
	}
	m.scopes[id] = scope
	return nil
}

// RebindScope registers scope for id, replacing any previously bound scope
// without signaling it to shut down (the caller is responsible for that).
func (m *Manager) RebindScope(id string, scope Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[id] = scope
}

// CancelCurrentMessage cancels the active session's in-flight round, if its
// bound scope supports cancellation. Logs and returns otherwise.
func (m *Manager) CancelCurrentMessage() {
	active, ok := m.store.GetActive()
	if !ok {
		m.log.Info("session: cancelCurrentMessage with no active session", nil, nil)
		return
	}
	m.mu.Lock()
	scope := m.scopes[active]
	m.mu.Unlock()

	cancellable, ok := scope.(CancellableScope)
	if !ok {
		m.log.Info("session: active session has no cancellable scope bound", map[string]any{"sessionId": active}, nil)
		return
	}
	cancellable.CancelCurrentMessage()
}

// GetActiveSessionId returns the id at the top of the active stack, if any.
func (m *Manager) GetActiveSessionId() (string, bool) { return m.store.GetActive() }

// GetSessionNode returns a copy of id's node.
func (m *Manager) GetSessionNode(id string) (Node, error) {
	n, ok := m.store.GetNode(id)
	if !ok {
		return Node{}, orcherr.NewSessionError(orcherr.CodeSessionNotFound, id)
	}
	return n, nil
}

// GetTree returns every node in the store.
func (m *Manager) GetTree() []Node { return m.store.GetTree() }

// GetBreadcrumb returns the names from root to id.
func (m *Manager) GetBreadcrumb(id string) []string { return m.store.GetBreadcrumb(id) }

// GetDepth returns id's depth, if known.
func (m *Manager) GetDepth(id string) (int, bool) { return m.store.GetDepth(id) }

// HasSession reports whether id is known.
func (m *Manager) HasSession(id string) bool { return m.store.Has(id) }

// GetSessionCount returns the number of known sessions.
func (m *Manager) GetSessionCount() int { return m.store.Size() }

// GetStackDepth returns the active-path stack's length.
func (m *Manager) GetStackDepth() int { return len(m.store.List()) }

// GetSessionContext returns id's context. Fails if id is unknown.
func (m *Manager) GetSessionContext(id string) (*Context, error) {
	if !m.store.Has(id) {
		return nil, orcherr.NewSessionError(orcherr.CodeContextNotFound, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[id]
	if !ok {
		return nil, orcherr.NewSessionError(orcherr.CodeContextNotFound, id)
	}
	return ctx, nil
}

// AccumulateTokenUsage folds prompt/completion token counts into id's
// running total (supplemental token usage accounting feature).
func (m *Manager) AccumulateTokenUsage(id string, prompt, completion int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.usage[id]
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.TotalTokens += prompt + completion
	m.usage[id] = u
}

// GetTokenUsage returns id's accumulated token usage, if any has been
// recorded.
func (m *Manager) GetTokenUsage(id string) (TokenUsage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usage[id]
	return u, ok
}

// SnapshotNode is one entry of Manager.Snapshot's tree view.
type SnapshotNode struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
	Status   string `json:"status"`
	ParentID string `json:"parentId,omitempty"`
}

// Snapshot returns a point-in-time, JSON-serializable view of the session
// tree for host-side debugging/printing. This is this module's supplemental
// "session tree snapshot export" feature; it does not persist across
// restarts.
func (m *Manager) Snapshot() ([]byte, error) {
	nodes := m.store.GetTree()
	out := make([]SnapshotNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, SnapshotNode{ID: n.ID, Name: n.Name, Depth: n.Depth, Status: string(n.Status), ParentID: n.ParentID})
	}
	return json.Marshal(out)
}
