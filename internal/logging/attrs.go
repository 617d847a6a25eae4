package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WarnWithContext logs a warning with enforced event_type and error_hint fields.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logEvent(logger, slog.LevelWarn, msg, eventType, attrs)
}

// ErrorWithContext logs an error with enforced event_type and error_hint fields.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logEvent(logger, slog.LevelError, msg, eventType, attrs)
}

func logEvent(logger *slog.Logger, level slog.Level, msg, eventType string, attrs []Attr) {
	if logger == nil {
		return
	}
	var hasEvent, hasHint bool
	for _, a := range attrs {
		switch a.Key {
		case FieldEventType:
			hasEvent = true
		case FieldErrorHint:
			hasHint = true
		}
	}
	if !hasEvent {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if !hasHint {
		attrs = append(attrs, String(FieldErrorHint, "check logs for details"))
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }
