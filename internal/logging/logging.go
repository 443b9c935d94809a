package logging

import (
	"log/slog"
	"os"
)

// Logger is the application logger. It wraps slog so call sites keep the
// msg-plus-key-value shape used throughout the service.
type Logger struct {
	sl *slog.Logger
}

// NewLogger creates a new Logger writing text to stderr.
func NewLogger() *Logger {
	return &Logger{sl: slog.New(slog.NewTextHandler(os.Stderr, nil))}
}

// NewLoggerWithLevel creates a Logger with an explicit minimum level.
func NewLoggerWithLevel(level slog.Level) *Logger {
	return &Logger{sl: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) { l.sl.Info(msg, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) { l.sl.Warn(msg, args...) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }
