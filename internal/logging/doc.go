// Package logging assembles structured slog loggers and formatting helpers used
// across the machine service.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so worker and ingress code can
// tag log lines with piece identifiers, machine types, and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
