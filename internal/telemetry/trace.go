package telemetry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type traceKey struct{}

// NewTraceID mints a fresh trace ID for a Scrape invocation. UUIDv7 keeps
// IDs roughly time-ordered.
func NewTraceID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate trace id: %w", err)
	}
	return id.String(), nil
}

// WithTraceID binds a trace ID to ctx for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceIDFromContext returns the trace ID bound to ctx, or "" if none.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceKey{}).(string)
	return v
}

// Bind returns a child logger with trace_id attached to every subsequent
// record, so every log line emitted during one Scrape call shares that
// call's trace_id.
func Bind(logger *zap.Logger, traceID, component string) *zap.Logger {
	return logger.With(zap.String("trace_id", traceID), zap.String("component", component))
}
