// Package orcherr defines the error taxonomy shared across the runtime's
// core components: file-operation errors from the transaction engine,
// structural session errors from the session manager, agent errors from the
// subagent scope, validation errors from public-operation input checking,
// and context-overflow errors surfaced by hosts that track token budgets.
//
// Every kind carries a Severity used by the retry engine's early-termination
// rules (spec §4.3, §7): Critical stops retries immediately, Warning is
// surfaced to the user without retrying, Recoverable may be retried.
package orcherr

import "fmt"

// Severity classifies how a caller (in particular the retry engine) should
// react to an error.
type Severity int

const (
	// SeverityRecoverable may be retried by the retry engine.
	SeverityRecoverable Severity = iota
	// SeverityWarning should be surfaced to the user; never retried.
	SeverityWarning
	// SeverityCritical stops any retry loop immediately.
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityRecoverable:
		return "recoverable"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SessionErrorCode enumerates the structural misuse codes the session
// manager can raise, per spec §7.
type SessionErrorCode string

const (
	CodeDuplicateSession  SessionErrorCode = "DUPLICATE_SESSION"
	CodeSessionNotFound   SessionErrorCode = "SESSION_NOT_FOUND"
	CodeMaxDepthExceeded  SessionErrorCode = "MAX_DEPTH_EXCEEDED"
	CodeContextNotFound   SessionErrorCode = "CONTEXT_NOT_FOUND"
	CodeParentNotFound    SessionErrorCode = "PARENT_NOT_FOUND"
)

// SessionError is always Critical: the session manager throws it
// synchronously to its caller rather than routing it through retry/events.
type SessionError struct {
	Code    SessionErrorCode
	Message string
}

func (e *SessionError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SessionError) Severity() Severity { return SeverityCritical }

func NewSessionError(code SessionErrorCode, message string) *SessionError {
	return &SessionError{Code: code, Message: message}
}

// FileOperationError wraps a failed read/write/delete/move. Always
// Recoverable: the transaction engine never throws it past commit(), but the
// retry engine hardening a higher-level workflow step may see it.
type FileOperationError struct {
	Operation string // "create" | "update" | "delete" | "move"
	Path      string
	Cause     error
}

func (e *FileOperationError) Error() string {
	return fmt.Sprintf("file operation %q failed for %q: %v", e.Operation, e.Path, e.Cause)
}

func (e *FileOperationError) Unwrap() error { return e.Cause }

func (e *FileOperationError) Severity() Severity { return SeverityRecoverable }

func NewFileOperationError(operation, path string, cause error) *FileOperationError {
	return &FileOperationError{Operation: operation, Path: path, Cause: cause}
}

// AgentError wraps a chat-client or tool-dispatch failure during a round.
// Recoverable by default; Critical when the chat object itself could not be
// constructed (spec §7).
type AgentError struct {
	Message  string
	Cause    error
	critical bool
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AgentError) Unwrap() error { return e.Cause }

func (e *AgentError) Severity() Severity {
	if e.critical {
		return SeverityCritical
	}
	return SeverityRecoverable
}

func NewAgentError(message string, cause error) *AgentError {
	return &AgentError{Message: message, Cause: cause}
}

// NewCriticalAgentError marks the chat object construction failure case from
// spec §4.7 ("on failure set terminate mode to ERROR").
func NewCriticalAgentError(message string, cause error) *AgentError {
	return &AgentError{Message: message, Cause: cause, critical: true}
}

// ValidationError is Warning severity: malformed input to a public
// operation, surfaced to the user, never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Severity() Severity { return SeverityWarning }

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ContextOverflowError signals a token/budget limit exceeded; Recoverable —
// the host may prune and retry.
type ContextOverflowError struct {
	Limit, Used int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("context overflow: used %d of %d tokens", e.Used, e.Limit)
}

func (e *ContextOverflowError) Severity() Severity { return SeverityRecoverable }

func NewContextOverflowError(limit, used int) *ContextOverflowError {
	return &ContextOverflowError{Limit: limit, Used: used}
}

// GetSeverity extracts the Severity from err if it implements the unexported
// severity-reporting interface used by these types; unknown error kinds
// default to Recoverable, mirroring the reference codebase's tendency to
// treat unannotated errors as retryable.
func GetSeverity(err error) Severity {
	type severitier interface{ Severity() Severity }
	if s, ok := err.(severitier); ok {
		return s.Severity()
	}
	return SeverityRecoverable
}
