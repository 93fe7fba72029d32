// Package logging assembles structured slog loggers and formatting helpers used
// across sessionqa services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with session IDs, stages, and correlation IDs. The package also
// provides a no-op logger for tests and wiring code that cannot fail, a
// progress sampler for chatty download loops, and log retention pruning.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
