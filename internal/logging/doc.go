// Package logging assembles structured slog loggers and formatting helpers used
// across aco services.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so handlers and pipeline steps tag log
// lines with run ids, steps, attempt ids, and request correlation ids. The
// package also provides a no-op logger for tests and wiring code that cannot fail.
package logging
