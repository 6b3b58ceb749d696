package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	traceIDKey    contextKey = "trace_id"
	taskIDKey     contextKey = "task_id"
	documentIDKey contextKey = "document_id"
)

// WithTraceID attaches the request trace identifier to the context.
// An empty value is ignored.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace identifier, or "" when unset.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// WithTaskID attaches the ingestion task identifier to the context.
// An empty value is ignored.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	if taskID == "" {
		return ctx
	}
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskIDFromContext returns the task identifier, or "" when unset.
func TaskIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(taskIDKey).(string)
	return v
}

// WithDocumentID attaches the document identifier to the context.
// An empty value is ignored.
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	if documentID == "" {
		return ctx
	}
	return context.WithValue(ctx, documentIDKey, documentID)
}

// DocumentIDFromContext returns the document identifier, or "" when unset.
func DocumentIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(documentIDKey).(string)
	return v
}

// ContextFields extracts correlation fields from the context. The
// application trace id wins over the active OpenTelemetry span; the span
// is the fallback so traced requests stay correlated even when no
// explicit id was set.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if traceID := TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	} else if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		fields = append(fields, zap.String("trace_id", span.SpanContext().TraceID().String()))
	}

	if taskID := TaskIDFromContext(ctx); taskID != "" {
		fields = append(fields, zap.String("task_id", taskID))
	}
	if documentID := DocumentIDFromContext(ctx); documentID != "" {
		fields = append(fields, zap.String("document_id", documentID))
	}

	return fields
}
