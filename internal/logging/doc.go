// Package logging assembles structured slog loggers and formatting helpers used
// across MultiTalk services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so request handlers and the
// replenish scheduler tag log lines with account IDs, job IDs, and correlation
// IDs. The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
