package alert

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type traceKey struct{}

// NewTrace attaches a fresh trace ID to ctx. Call once per outermost
// business operation; nested calls reuse the existing ID.
func NewTrace(ctx context.Context) (context.Context, string) {
	if id := TraceID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return context.WithValue(ctx, traceKey{}, id), id
}

// TraceID returns the trace ID bound to ctx, or "" when none is set.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// Logger returns logger with the ctx trace ID attached, so every event
// emitted inside one business operation shares a trace_id field.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := TraceID(ctx); id != "" {
		return logger.With().Str("trace_id", id).Logger()
	}
	return logger
}

// LogError emits err with its ErrorContext fields on logger.
func LogError(ctx context.Context, logger zerolog.Logger, err error, ec ErrorContext) {
	lg := Logger(ctx, logger)
	evt := lg.Error().
		Err(err).
		Str("operation", ec.Operation).
		Str("component", ec.Component).
		Int64("elapsed_ms", ec.ElapsedMS)
	if ec.Code != "" {
		evt = evt.Str("code", ec.Code)
	}
	evt.Msg("operation failed")
}
