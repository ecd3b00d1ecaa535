// Package retry implements the runtime's retry engine (spec component C3):
// drive a fallible operation through up to MaxAttempts tries, escalating the
// recovery strategy attempt-by-attempt — direct call, then context refresh,
// then user-guided retry — with exponential backoff between attempts.
//
// The engine never panics or returns an error to its caller; every call to
// Execute or ExecuteBatch returns a Result describing what happened,
// mirroring the reference session loop's "never throw past the retry
// boundary" convention (internal/session.runLoop's use of
// github.com/cenkalti/backoff/v4, which this package's delay computation is
// grounded on).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/orcherr"
)

// RecoveryAction labels how a particular attempt was reached.
type RecoveryAction string

const (
	// RecoveryNone means only the initial, non-retried attempt ever ran.
	RecoveryNone RecoveryAction = "none"
	// RecoveryDirect is a plain retry: attempt >= 2 with no context-refresh
	// or user-guidance escalation in effect.
	RecoveryDirect RecoveryAction = "direct"
	// RecoveryContextRefresh is attempt 2 when context refresh is enabled
	// and a callback was supplied.
	RecoveryContextRefresh RecoveryAction = "context-refresh"
	// RecoveryUserGuidance is attempt >= 3 when user guidance is enabled
	// and a callback was supplied.
	RecoveryUserGuidance RecoveryAction = "user-guidance"
)

// RetryConfig mirrors spec.md §3's RetryConfig.
type RetryConfig struct {
	MaxAttempts          int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffMultiplier    float64
	EnableContextRefresh bool
	EnableUserGuidance   bool
}

// AttemptContext is passed to the operation, the context-refresh callback,
// and the user-guidance callback on every attempt.
type AttemptContext struct {
	Attempt   int
	LastError error
	// UserInput carries the prior user-guidance callback's return value,
	// set before the attempt it was collected for.
	UserInput string
}

// Operation is the caller-supplied fallible action.
type Operation[T any] func(ctx context.Context, ac *AttemptContext) (T, error)

// ContextRefreshFunc runs before attempt 2 when enabled. Per spec §6 it may
// suspend arbitrarily and must return an error on failure; the engine
// surfaces that failure as attempt 2's outcome.
type ContextRefreshFunc func(ctx context.Context) error

// UserGuidanceFunc runs before attempt >= 3 when enabled. ok=false is the
// cancel sentinel: the engine aborts retries immediately and reports failure
// with the last error.
type UserGuidanceFunc func(ctx context.Context, lastErr error, ac *AttemptContext) (input string, ok bool)

// Options configures a single Execute call.
type Options[T any] struct {
	Config RetryConfig

	ContextRefresh ContextRefreshFunc
	UserGuidance   UserGuidanceFunc

	// SkipRetryForErrors aborts retries immediately (first occurrence) when
	// the thrown error matches via errors.Is against any entry here.
	SkipRetryForErrors []error
}

// Result is what Execute always returns — it never panics or errors out of
// band.
type Result[T any] struct {
	Success        bool
	Result         T
	Err            error
	Attempts       int
	RecoveryAction RecoveryAction
}

// Engine bundles the logger used to report context-refresh failures and
// exhausted retries; the zero value (with a nil logger) is safe to use.
type Engine struct {
	log *logging.Logger
}

// NewEngine constructs an Engine. log may be nil to disable logging.
func NewEngine(log *logging.Logger) *Engine {
	return &Engine{log: log}
}

func (e *Engine) logWarn(message string, context map[string]any) {
	if e == nil || e.log == nil {
		return
	}
	e.log.Warn(message, context, nil)
}

// delayForAttempt computes the exponential backoff delay preceding attempt
// (attempt >= 2), per spec §4.3: min(initialDelay * backoffMultiplier^(attempt-1), maxDelay).
//
// It is computed by driving a github.com/cenkalti/backoff/v4
// ExponentialBackOff with jitter disabled exactly `attempt` times and
// keeping the last value: NextBackOff returns the current interval before
// advancing it, so attempt calls yield initialDelay * multiplier^(attempt-1),
// with the library's own interval-capping applying the maxDelay ceiling —
// the same field set (InitialInterval/MaxInterval/Multiplier) the reference
// session loop's newRetryBackoff configures.
func delayForAttempt(cfg RetryConfig) func(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.BackoffMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return func(attempt int) time.Duration {
		b.Reset()
		var d time.Duration
		for i := 0; i < attempt; i++ {
			d = b.NextBackOff()
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// retryabler lets a caller-defined error opt out of retry on its very first
// occurrence (spec §4.3's "not flagged retryable" rule). Errors that don't
// implement it are treated as retryable.
type retryabler interface{ Retryable() bool }

func isRetryable(err error) bool {
	var r retryabler
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

func matchesSkipSet(err error, skip []error) bool {
	for _, sentinel := range skip {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// shouldStop applies spec §4.3's early-termination rules, checked before an
// attempt's failure is counted.
func shouldStop(err error, attempt int, skip []error) bool {
	if orcherr.GetSeverity(err) == orcherr.SeverityCritical {
		return true
	}
	if attempt == 1 && !isRetryable(err) {
		return true
	}
	return matchesSkipSet(err, skip)
}

// Execute runs op through the escalation ladder described in spec §4.3.
// It never returns an error out of band; failures are reported in the
// Result.
func Execute[T any](ctx context.Context, eng *Engine, op Operation[T], opts Options[T]) Result[T] {
	cfg := opts.Config
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	nextDelay := delayForAttempt(cfg)

	var zero T
	ac := &AttemptContext{}
	var lastErr error
	lastAction := RecoveryNone

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		ac.Attempt = attempt
		ac.LastError = lastErr

		action := RecoveryDirect
		if attempt == 1 {
			action = RecoveryNone
		}

		if attempt >= 2 {
			if !sleep(ctx, nextDelay(attempt)) {
				return Result[T]{Success: false, Err: ctx.Err(), Attempts: attempt - 1, RecoveryAction: lastAction}
			}
		}

		if attempt == 2 && cfg.EnableContextRefresh && opts.ContextRefresh != nil {
			action = RecoveryContextRefresh
			if err := opts.ContextRefresh(ctx); err != nil {
				lastErr = err
				lastAction = action
				eng.logWarn("retry: context refresh failed", map[string]any{"attempt": attempt, "error": err.Error()})
				if shouldStop(err, attempt, opts.SkipRetryForErrors) {
					return Result[T]{Success: false, Err: err, Attempts: attempt, RecoveryAction: action}
				}
				continue
			}
		} else if attempt >= 3 && cfg.EnableUserGuidance && opts.UserGuidance != nil {
			action = RecoveryUserGuidance
			input, ok := opts.UserGuidance(ctx, lastErr, ac)
			if !ok {
				return Result[T]{Success: false, Err: lastErr, Attempts: attempt - 1, RecoveryAction: lastAction}
			}
			ac.UserInput = input
		}

		result, err := op(ctx, ac)
		if err == nil {
			return Result[T]{Success: true, Result: result, Attempts: attempt, RecoveryAction: action}
		}

		lastErr = err
		lastAction = action
		if shouldStop(err, attempt, opts.SkipRetryForErrors) {
			return Result[T]{Success: false, Result: zero, Err: err, Attempts: attempt, RecoveryAction: action}
		}
	}

	eng.logWarn("retry: attempts exhausted", map[string]any{"attempts": cfg.MaxAttempts})
	return Result[T]{Success: false, Result: zero, Err: lastErr, Attempts: cfg.MaxAttempts, RecoveryAction: lastAction}
}
