package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"
)

// Logger wraps slog.Logger with turn-scoped helpers.
type Logger struct {
	*slog.Logger
}

// New creates a JSON logger on stdout at the given level.
func New(level string) *Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter is New with an explicit destination; tests use it to capture output.
func NewWithWriter(w io.Writer, level string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
}

// Default returns a logger with default settings
func Default() *Logger {
	return New("info")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "error")
}

// WithTurn returns a child logger carrying the tenant, call, and turn sequence.
func (l *Logger) WithTurn(tenantID, callID string, seq int) *Logger {
	if l == nil {
		l = Default()
	}
	return &Logger{Logger: l.Logger.With("tenant_id", tenantID, "call_id", callID, "turn_seq", seq)}
}

// With mirrors slog.Logger.With but keeps the wrapper type.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Truncate shortens free text (utterances, replies) before it is logged.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
