package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
	"go.opentelemetry.io/otel/trace"
)

const defaultLevel = slog.LevelInfo

// ParseLevel converts a level name (case-insensitive) to a slog.Level.
// Unknown names map to INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return defaultLevel
	}
}

// defaultLogger implements convergelog.Logger on top of slog.
type defaultLogger struct {
	*slog.Logger
}

var _ convergelog.Logger = (*defaultLogger)(nil)

// NewLogger creates a Logger at the given level writing "text" or "json"
// records to writer (os.Stderr when nil). Records logged with a context
// carrying a span get trace_id and span_id attributes.
func NewLogger(levelStr string, formatStr string, writer io.Writer) convergelog.Logger {
	if writer == nil {
		writer = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(levelStr),
		ReplaceAttr: replaceLevelAttribute,
	}

	var base slog.Handler
	if strings.EqualFold(formatStr, "json") {
		base = slog.NewJSONHandler(writer, opts)
	} else {
		base = slog.NewTextHandler(writer, opts)
	}
	return &defaultLogger{Logger: slog.New(NewOtelHandler(base))}
}

// NewDiscardLogger returns a Logger that drops every record. Tests use it.
func NewDiscardLogger() convergelog.Logger {
	return NewLogger("error", "text", io.Discard)
}

var levelStringMap = map[slog.Level]string{
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARN",
	slog.LevelError: "ERROR",
}

func replaceLevelAttribute(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	if s, exists := levelStringMap[level]; exists {
		a.Value = slog.StringValue(s)
	} else {
		a.Value = slog.StringValue(level.String())
	}
	return a
}

func (l *defaultLogger) logf(level slog.Level, format string, args ...interface{}) {
	if !l.Logger.Enabled(context.Background(), level) {
		return
	}
	l.Logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.logf(slog.LevelDebug, format, args...)
}

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.logf(slog.LevelInfo, format, args...)
}

func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.logf(slog.LevelWarn, format, args...)
}

// Errorf logs at ERROR. When the last argument is an error its details are
// attached as attributes; transport errors are broken out into host, op
// and output.
func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	if !l.Logger.Enabled(context.Background(), slog.LevelError) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.Logger.Log(context.Background(), slog.LevelError, msg, errorAttrs(args)...)
}

func errorAttrs(args []interface{}) []any {
	if len(args) == 0 {
		return nil
	}
	err, ok := args[len(args)-1].(error)
	if !ok {
		return nil
	}

	var te *convergeerrors.TransportError
	if errors.As(err, &te) {
		attrs := []any{
			slog.String("error_type", "TransportError"),
			slog.String("host", te.Host),
			slog.String("op", te.Op),
		}
		if te.Output != "" {
			attrs = append(attrs, slog.String("output", te.Output))
		}
		if te.Cause != nil {
			attrs = append(attrs, slog.String("error", te.Cause.Error()))
		}
		return attrs
	}

	var ve *convergeerrors.ValidationError
	if errors.As(err, &ve) {
		return []any{slog.String("error_type", "ValidationError"), slog.String("error", ve.Error())}
	}
	return []any{slog.String("error", err.Error())}
}

func (l *defaultLogger) Log(level slog.Level, msg string, args ...interface{}) {
	l.Logger.Log(context.Background(), level, msg, args...)
}

func (l *defaultLogger) LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{}) {
	l.Logger.Log(ctx, level, msg, args...)
}

func (l *defaultLogger) With(args ...interface{}) convergelog.Logger {
	return &defaultLogger{Logger: l.Logger.With(args...)}
}

func (l *defaultLogger) IsEnabled(level slog.Level) bool {
	return l.Logger.Enabled(context.Background(), level)
}

// OtelHandler is a slog.Handler middleware that injects the trace_id and
// span_id of the span found in the record's context.
type OtelHandler struct {
	next slog.Handler
}

func NewOtelHandler(next slog.Handler) *OtelHandler {
	return &OtelHandler{next: next}
}

func (h *OtelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *OtelHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, record)
}

func (h *OtelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewOtelHandler(h.next.WithAttrs(attrs))
}

func (h *OtelHandler) WithGroup(name string) slog.Handler {
	return NewOtelHandler(h.next.WithGroup(name))
}
