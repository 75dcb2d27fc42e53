// Package logging provides the structured logger used across the service.
package logging

import (
	"log/slog"
	"os"
)

// Logger wraps a structured logger; call sites pass alternating key-value
// pairs after the message.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger writing to stdout.
func NewLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}

// NewNopLogger creates a Logger that discards everything. For tests.
func NewNopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}
