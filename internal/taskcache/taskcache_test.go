package taskcache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, "ragd", cfg.KeyPrefix)
	assert.Equal(t, time.Hour, cfg.TTL)
}

func TestSnapshotPayload(t *testing.T) {
	snap := Snapshot{
		TaskID:     "task-1",
		DocumentID: "doc-1",
		Status:     "processing",
		TraceID:    "trace-1",
		Extra: map[string]any{
			"fileName": "notes.md",
			"strategy": "parent_child",
		},
	}

	payload := snap.payload()
	assert.Equal(t, "task-1", payload["taskId"])
	assert.Equal(t, "doc-1", payload["documentId"])
	assert.Equal(t, "processing", payload["status"])
	assert.Equal(t, "trace-1", payload["traceId"])
	assert.Equal(t, "notes.md", payload["fileName"])
	assert.Equal(t, "parent_child", payload["strategy"])
}

func TestKeyFormat(t *testing.T) {
	cache := NewWithClient(nil, Config{KeyPrefix: "myapp"}, zap.NewNop())
	assert.Equal(t, "myapp:task:abc", cache.key("abc"))
}

func TestPutSkipsEmptyTaskID(t *testing.T) {
	// A nil client would panic if Put touched Redis.
	cache := NewWithClient(nil, Config{}, zap.NewNop())
	err := cache.Put(context.Background(), Snapshot{DocumentID: "doc-1"})
	assert.NoError(t, err)
}

func TestCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("RAGD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RAGD_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	cache, err := New(ctx, Config{Addr: addr, KeyPrefix: "ragd_test", TTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	defer cache.Close()

	taskID := uuid.NewString()
	err = cache.Put(ctx, Snapshot{
		TaskID:     taskID,
		DocumentID: "doc-42",
		Status:     "completed",
		TraceID:    "trace-42",
		Extra:      map[string]any{"chunkCount": 7},
	})
	require.NoError(t, err)

	payload, err := cache.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "completed", payload["status"])
	assert.Equal(t, "doc-42", payload["documentId"])
	assert.EqualValues(t, 7, payload["chunkCount"])

	_, err = cache.Get(ctx, "missing-task")
	assert.ErrorIs(t, err, ErrNotFound)
}
