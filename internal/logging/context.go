package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context: the active span,
// then the task, thought, round, pipeline stage and provider currently
// being worked on.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if id := TaskIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("task_id", id))
	}
	if id := ThoughtIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("thought_id", id))
	}
	if round, ok := ctx.Value(roundCtxKey{}).(int); ok {
		fields = append(fields, zap.Int("round", round))
	}
	if stage, ok := ctx.Value(stageCtxKey{}).(string); ok && stage != "" {
		fields = append(fields, zap.String("stage", stage))
	}
	if p, ok := ctx.Value(providerCtxKey{}).(string); ok && p != "" {
		fields = append(fields, zap.String("provider", p))
	}

	return fields
}

type taskCtxKey struct{}
type thoughtCtxKey struct{}
type roundCtxKey struct{}
type stageCtxKey struct{}
type providerCtxKey struct{}

// WithTask adds a task ID to context.
func WithTask(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, taskID)
}

// TaskIDFromContext extracts the task ID from context.
func TaskIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(taskCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithThought adds a thought ID and its round to context.
func WithThought(ctx context.Context, thoughtID string, round int) context.Context {
	ctx = context.WithValue(ctx, thoughtCtxKey{}, thoughtID)
	return context.WithValue(ctx, roundCtxKey{}, round)
}

// ThoughtIDFromContext extracts the thought ID from context.
func ThoughtIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(thoughtCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithStage records the pipeline stage on the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, stage)
}

// WithProvider records the provider serving the current call.
func WithProvider(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, providerCtxKey{}, name)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
