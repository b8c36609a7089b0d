// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package ctaplog provides the structured logger used by the demo CLI and,
// optionally, by embedders that want to observe authenticator activity. It
// is a thin, slog-based wrapper rather than a new logging abstraction,
// matching the teacher's own preference for log/slog over a third-party
// logging framework (SPEC_FULL.md §9 records this as a considered-then-
// rejected choice, not a silent omission).
package ctaplog

import (
	"context"
	"log/slog"
	"os"
)

// contextKey is unexported so no other package can collide with it.
type contextKey struct{}

// Default is the package-level logger used when no logger has been placed
// in context. It writes human-readable text to stderr at info level.
var Default = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// WithLogger returns a context carrying logger for downstream calls to
// From to retrieve.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// From returns the logger stored in ctx by WithLogger, or Default if none
// was stored.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return Default
}

// New builds a logger at the given level, writing JSON to stderr. verbose
// additionally enables source-location annotations, matching the shape of
// the demo CLI's --verbose flag.
func New(level slog.Level, verbose bool) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	}))
}
