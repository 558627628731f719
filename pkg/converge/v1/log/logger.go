// Package log defines the public logging interface used across converge packages.
package log

import (
	"context"
	"log/slog"
)

// Logger defines the public interface for logging operations within converge.
// Connections, modules and the engine all log through it so the backing
// implementation can be swapped by library consumers.
type Logger interface {
	// Debugf logs a formatted message at the DEBUG level.
	Debugf(format string, args ...interface{})
	// Infof logs a formatted message at the INFO level.
	Infof(format string, args ...interface{})
	// Warnf logs a formatted message at the WARN level.
	Warnf(format string, args ...interface{})
	// Errorf logs a formatted message at the ERROR level. Implementations
	// should check whether the last arg is an error and log it structurally.
	Errorf(format string, args ...interface{})

	// Log logs a message at the specified level with key-value attributes.
	Log(level slog.Level, msg string, args ...interface{})
	// LogCtx is Log with a context, used to attach trace identifiers.
	LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{})

	// With returns a new Logger with the given attributes on every entry.
	With(args ...interface{}) Logger
	// IsEnabled reports whether records at level would be emitted.
	IsEnabled(level slog.Level) bool
}
