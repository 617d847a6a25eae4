// Package logging assembles structured slog loggers and formatting helpers used
// across traceapi services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so registry and generation code
// can tag log lines with mix, generation and unit IDs. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
