package event

import "time"

// EventType identifies the shape of an Event's Data payload.
type EventType string

// Session events, emitted by the session manager (component C6).
const (
	SessionStarted        EventType = "session.started"
	SessionSwitched       EventType = "session.switched"
	SessionPaused         EventType = "session.paused"
	SessionResumed        EventType = "session.resumed"
	SessionCompleted      EventType = "session.completed"
	SessionAborted        EventType = "session.aborted"
	UserMessageToSession  EventType = "session.user_message"
	SubagentMessageToUser EventType = "session.subagent_message"
)

// Subagent events, emitted by the interactive subagent scope (component C7).
const (
	SubagentStart           EventType = "subagent.start"
	SubagentRoundStart      EventType = "subagent.round_start"
	SubagentStreamText      EventType = "subagent.stream_text"
	SubagentToolCall        EventType = "subagent.tool_call"
	SubagentToolResult      EventType = "subagent.tool_result"
	SubagentToolWaitApprove EventType = "subagent.tool_waiting_approval"
	SubagentRoundEnd        EventType = "subagent.round_end"
	SubagentFinish          EventType = "subagent.finish"
	SubagentError           EventType = "subagent.error"
)

// Event is a single fan-out item. SessionID is populated whenever the event
// pertains to a specific session (all of the above do). Timestamp is set by
// the emitter at the moment of Publish/PublishSync.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// SessionNodeView is the read-only projection of a session node carried on
// SessionStarted. It is defined here rather than imported from package
// session so that event has no dependency on session's concrete node type;
// session builds this view at emission time.
type SessionNodeView struct {
	ID           string
	Name         string
	SubagentName string
	Depth        int
	Status       string
	ParentID     string
}

type SessionStartedData struct {
	Node SessionNodeView
}

type SessionSwitchedData struct {
	From string
	To   string
}

type SessionPausedData struct{}

type SessionResumedData struct{}

type SessionCompletedData struct {
	Result          any
	TerminateReason string
}

type SessionAbortedData struct {
	Reason string
}

type UserMessageToSessionData struct {
	Text string
}

// SubagentMessageToUserData carries either a streamed chunk or the round's
// final trimmed text, never both; IsFinal disambiguates a legitimately empty
// chunk from the final marker.
type SubagentMessageToUserData struct {
	TextChunk string
	FinalText string
	IsFinal   bool
}

type SubagentStartData struct{}

type SubagentRoundStartData struct {
	Round    int
	PromptID string
}

type SubagentStreamTextData struct {
	Text string
}

type SubagentToolCallData struct {
	CallID string
	Name   string
	Args   any
}

type SubagentToolResultData struct {
	CallID  string
	Name    string
	Success bool
	Output  any
	Err     string
}

type SubagentToolWaitApproveData struct {
	CallID  string
	Name    string
	Pattern string
}

type SubagentRoundEndData struct {
	Round int
}

type SubagentFinishData struct {
	Rounds        int
	PromptTokens  int
	CompletionTok int
	TotalTokens   int
	TerminateMode string
}

type SubagentErrorData struct {
	Err string
}
