package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type taskNameKey struct{}
type cycleKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTaskName attaches the current task name to the context.
func WithTaskName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, taskNameKey{}, name)
}

// TaskName extracts the current task name from context. Returns "" if absent.
func TaskName(ctx context.Context) string {
	if v, ok := ctx.Value(taskNameKey{}).(string); ok {
		return v
	}
	return ""
}

// WithCycle attaches the scheduler cycle number to the context.
func WithCycle(ctx context.Context, n int64) context.Context {
	return context.WithValue(ctx, cycleKey{}, n)
}

// Cycle extracts the scheduler cycle number (0 if absent).
func Cycle(ctx context.Context) int64 {
	if v, ok := ctx.Value(cycleKey{}).(int64); ok {
		return v
	}
	return 0
}
