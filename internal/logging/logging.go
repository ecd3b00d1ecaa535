// Package logging provides the runtime's structured logger (spec component
// C1): buffered, level-gated, correlation-id-scoped, and secret-redacting,
// sitting on top of github.com/rs/zerolog as the JSON sink.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Level mirrors zerolog's level type so callers never need to import
// zerolog directly.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// ParseLevel parses a log level string (case-insensitive). Unrecognized
// values fall back to InfoLevel, matching spec §4.1's resolution rule for
// the <APP>_LOG_LEVEL environment variable.
func ParseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Config configures a Logger.
type Config struct {
	// Level is the minimum severity to emit, used when LevelSet is true.
	Level    Level
	LevelSet bool

	// AppName prefixes the environment variable consulted for the level
	// (<AppName>_LOG_LEVEL, read when LevelSet is false) and the default log
	// file name. Defaults to "APP".
	AppName string

	// Output is the console sink. Defaults to os.Stderr. Pass io.Discard to
	// disable console output entirely.
	Output io.Writer

	// LogToFile enables writing to <LogDir>/<appname-lowercased>.log.
	LogToFile bool
	LogDir    string

	// DisableRedaction turns off secret scrubbing. Redaction is on by
	// default per spec §4.1.
	DisableRedaction bool

	// FlushInterval overrides the periodic flush cadence. Spec §4.1 caps
	// this at 5s; zero defaults to 5s rather than disabling periodic flush.
	FlushInterval time.Duration
}

type record struct {
	level         Level
	correlationID string
	message       string
	context       map[string]any
	err           error
	metadata      map[string]any
}

// core holds the state shared between a Logger and every Child derived from
// it: the sink, the pending buffer, and the background flusher.
type core struct {
	mu   sync.Mutex
	sink zerolog.Logger

	level  Level
	redact bool

	buffer []record

	flushInterval time.Duration
	stopCh        chan struct{}
	stoppedOnce   sync.Once
	wg            sync.WaitGroup

	logFile *os.File
	tracker *trackingWriter

	reportErr func(msg string)
}

// trackingWriter wraps the sink's underlying io.Writer so write() can detect
// a failed disk write even though zerolog's own Event.Msg does not surface
// writer errors to its caller.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.err = err
	return n, err
}

func (c *core) flusher() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			nonempty := len(c.buffer) > 0
			c.mu.Unlock()
			if nonempty {
				_ = c.flush()
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *core) append(r record) {
	c.mu.Lock()
	c.buffer = append(c.buffer, r)
	c.mu.Unlock()
}

// flush writes every buffered record to the sink in order. A record that
// fails to write, and every record queued after it, are restored to the
// head of the buffer so the next flush retries them (spec §4.1).
func (c *core) flush() error {
	c.mu.Lock()
	pending := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	for i, r := range pending {
		if err := c.write(r); err != nil {
			remaining := pending[i:]
			c.mu.Lock()
			c.buffer = append(remaining, c.buffer...)
			c.mu.Unlock()
			c.reportErr(fmt.Sprintf("logging: flush failed, %d record(s) retained: %v", len(remaining), err))
			return err
		}
	}
	return nil
}

func (c *core) write(r record) error {
	message := r.message
	context := r.context
	metadata := r.metadata
	if c.redact {
		message = redactString(message)
		if context != nil {
			context = redactValue(context).(map[string]any)
		}
		if metadata != nil {
			metadata = redactValue(metadata).(map[string]any)
		}
	}

	evt := c.sink.WithLevel(r.level).Str("correlationId", r.correlationID)
	if len(context) > 0 {
		evt = evt.Interface("context", context)
	}
	if len(metadata) > 0 {
		evt = evt.Interface("metadata", metadata)
	}
	if r.err != nil {
		evt = evt.Err(r.err)
	}

	c.tracker.err = nil
	evt.Msg(message)
	if c.tracker.err != nil {
		return c.tracker.err
	}

	if c.logFile != nil {
		return c.logFile.Sync()
	}
	return nil
}

func (c *core) shutdown() {
	c.stoppedOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	_ = c.flush()
	if c.logFile != nil {
		c.logFile.Close()
	}
}

// Logger is a buffered, correlation-scoped, redacting structured logger.
// The zero value is not usable; construct with New. Child loggers share
// their parent's core (buffer, sink, flusher) but carry their own
// correlation id and inherited fields.
type Logger struct {
	core *core

	mu            sync.Mutex
	correlationID string
	fields        map[string]any
}

// New constructs a Logger per cfg. The returned Logger owns a background
// goroutine that flushes the buffer at most every cfg.FlushInterval (default
// 5s) while it is nonempty; call Shutdown to stop it.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.AppName == "" {
		cfg.AppName = "APP"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	level := cfg.Level
	if !cfg.LevelSet {
		level = ParseLevel(os.Getenv(cfg.AppName + "_LOG_LEVEL"))
	}

	var fileWriter *os.File
	writers := []io.Writer{cfg.Output}
	if cfg.LogToFile {
		dir := cfg.LogDir
		if dir == "" {
			dir = "/tmp"
		}
		if err := os.MkdirAll(dir, 0o755); err == nil {
			path := filepath.Join(dir, strings.ToLower(cfg.AppName)+".log")
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				fileWriter = f
				writers = append(writers, f)
			}
		}
	}

	var out io.Writer
	if len(writers) == 1 {
		out = writers[0]
	} else {
		out = zerolog.MultiLevelWriter(writers...)
	}
	tracker := &trackingWriter{w: out}

	c := &core{
		sink:          zerolog.New(tracker).With().Timestamp().Logger(),
		level:         level,
		redact:        !cfg.DisableRedaction,
		flushInterval: cfg.FlushInterval,
		stopCh:        make(chan struct{}),
		logFile:       fileWriter,
		tracker:       tracker,
		reportErr: func(msg string) {
			fmt.Fprintln(cfg.Output, msg)
		},
	}
	c.wg.Add(1)
	go c.flusher()

	return &Logger{core: c, correlationID: uuid.NewString()}
}

func (l *Logger) snapshot() (string, map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.correlationID, l.fields
}

func (l *Logger) enabled(level Level) bool { return level >= l.core.level }

func (l *Logger) emit(level Level, message string, context map[string]any, err error, metadata map[string]any) {
	if !l.enabled(level) {
		return
	}

	cid, fields := l.snapshot()

	merged := context
	if len(fields) > 0 {
		merged = make(map[string]any, len(fields)+len(context))
		for k, v := range fields {
			merged[k] = v
		}
		for k, v := range context {
			merged[k] = v
		}
	}

	l.core.append(record{
		level:         level,
		correlationID: cid,
		message:       message,
		context:       merged,
		err:           err,
		metadata:      metadata,
	})
}

func (l *Logger) Debug(message string, context map[string]any, metadata map[string]any) {
	l.emit(DebugLevel, message, context, nil, metadata)
}

func (l *Logger) Info(message string, context map[string]any, metadata map[string]any) {
	l.emit(InfoLevel, message, context, nil, metadata)
}

func (l *Logger) Warn(message string, context map[string]any, metadata map[string]any) {
	l.emit(WarnLevel, message, context, nil, metadata)
}

// Error logs at error level; err may be nil.
func (l *Logger) Error(message string, err error, context map[string]any, metadata map[string]any) {
	l.emit(ErrorLevel, message, context, err, metadata)
}

// Child returns a new Logger that merges fields into every record it emits
// and shares this Logger's buffer, sink, and correlation id (unless the
// child's SetCorrelationID is called later).
func (l *Logger) Child(fields map[string]any) *Logger {
	cid, parentFields := l.snapshot()

	merged := make(map[string]any, len(parentFields)+len(fields))
	for k, v := range parentFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &Logger{core: l.core, correlationID: cid, fields: merged}
}

// SetCorrelationID scopes every subsequent record emitted by this Logger to
// id. Loggers derived from it via Child before this call keep their own
// correlation id.
func (l *Logger) SetCorrelationID(id string) {
	l.mu.Lock()
	l.correlationID = id
	l.mu.Unlock()
}

func (l *Logger) GetCorrelationID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.correlationID
}

// Flush forces the buffered records to the sink.
func (l *Logger) Flush() error { return l.core.flush() }

// Shutdown stops the periodic flusher and flushes once more. Safe to call
// from any Logger sharing the same core; safe to call more than once.
func (l *Logger) Shutdown() { l.core.shutdown() }

// --- process-wide convenience instance ---

var (
	globalMu  sync.Mutex
	globalLog *Logger
)

// Init installs the process-wide convenience Logger.
func Init(cfg Config) *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLog = New(cfg)
	return globalLog
}

// Get returns the process-wide Logger, initializing it with defaults on
// first use so the package is usable without explicit Init, matching the
// reference opencode logging package's init()-populated global.
func Get() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLog == nil {
		globalLog = New(Config{})
	}
	return globalLog
}
