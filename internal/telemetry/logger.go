// Package telemetry centralizes the slog setup used across pkg/modhost and
// cmd/modhostd, matching the optional-*slog.Logger-with-Default-fallback
// convention kernel/core/mesh/optimization.NewEpochAwareOptimizer and
// kernel/core/mesh.NewCoordinator already use.
package telemetry

import (
	"log/slog"
	"os"
)

// Options configures the process-wide logger built by New.
type Options struct {
	Level     slog.Level
	JSON      bool
	AddSource bool
}

// New builds a *slog.Logger writing to stderr, text-formatted by default or
// JSON-formatted when Options.JSON is set (cmd/modhostd exposes this via
// --log-format).
func New(opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	return slog.New(handler)
}

// Named returns a child logger tagged with a "component" field, the
// pattern kernel/core/mesh/coordinator.go uses (logger.With("component",
// "mesh-coordinator")) rather than per-package globals.
func Named(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}
