// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	taskIDKey        contextKey = "task_id"
)

// GenerateCorrelationID creates a short unique correlation ID suitable for
// log scanning (first 8 characters of a UUID).
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a new context carrying the correlation ID.
// Worker tasks propagate this through enqueued task payloads.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation ID, or "" if absent.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithTaskID returns a new context carrying the worker task ID.
func ContextWithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskIDFromContext retrieves the worker task ID, or "" if absent.
func TaskIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(taskIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger enriched with any correlation and task IDs stored in
// the context. Components use this at suspension points so concurrent worker
// output remains attributable.
func Ctx(ctx context.Context) zerolog.Logger {
	logger := Logger()
	lctx := logger.With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		lctx = lctx.Str("correlation_id", id)
	}
	if id := TaskIDFromContext(ctx); id != "" {
		lctx = lctx.Str("task_id", id)
	}
	return lctx.Logger()
}
