// Package logging provides structured logging for the Smarther bridge.
//
// It wraps log/slog with level parsing, output selection, and default
// service/version fields. Every long-lived task derives its own logger via
// With("component", ...) so log lines identify the owning task.
package logging
