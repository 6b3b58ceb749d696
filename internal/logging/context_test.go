package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestContextCarriers(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, TraceIDFromContext(ctx))
	assert.Empty(t, TaskIDFromContext(ctx))
	assert.Empty(t, DocumentIDFromContext(ctx))

	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithTaskID(ctx, "task-456")
	ctx = WithDocumentID(ctx, "doc-789")

	assert.Equal(t, "trace-123", TraceIDFromContext(ctx))
	assert.Equal(t, "task-456", TaskIDFromContext(ctx))
	assert.Equal(t, "doc-789", DocumentIDFromContext(ctx))
}

func TestContextCarriersIgnoreEmpty(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithTraceID(ctx, "")

	assert.Equal(t, "trace-123", TraceIDFromContext(ctx))
}

func TestContextFields(t *testing.T) {
	t.Run("empty context yields no fields", func(t *testing.T) {
		assert.Empty(t, ContextFields(context.Background()))
	})

	t.Run("all carriers present", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-123")
		ctx = WithTaskID(ctx, "task-456")
		ctx = WithDocumentID(ctx, "doc-789")

		fields := ContextFields(ctx)
		require.Len(t, fields, 3)
		assert.Equal(t, zap.String("trace_id", "trace-123"), fields[0])
		assert.Equal(t, zap.String("task_id", "task-456"), fields[1])
		assert.Equal(t, zap.String("document_id", "doc-789"), fields[2])
	})

	t.Run("partial carriers", func(t *testing.T) {
		ctx := WithDocumentID(context.Background(), "doc-789")

		fields := ContextFields(ctx)
		require.Len(t, fields, 1)
		assert.Equal(t, "document_id", fields[0].Key)
	})
}
