package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/mcp"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{DSN: "postgres://localhost/ragd"}
	cfg.ApplyDefaults()

	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, int32(10), cfg.MaxConns)

	cfg = Config{DSN: "x", MinConns: 20, MaxConns: 5}
	cfg.ApplyDefaults()
	assert.Equal(t, int32(20), cfg.MaxConns, "max is raised to min")
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.Validate())

	cfg.DSN = "postgres://localhost/ragd"
	assert.NoError(t, cfg.Validate())
}

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements(1536)
	require.NotEmpty(t, stmts)

	joined := strings.Join(stmts, "\n")
	assert.Contains(t, joined, "CREATE EXTENSION IF NOT EXISTS vector")
	assert.Contains(t, joined, "vector(1536)")
	for _, table := range []string{
		"documents", "document_chunks", "chunk_embeddings",
		"retrieval_logs", "mcp_skill_logs", "mcp_servers", "mcp_tools",
		"tool_runs", "deep_think_runs",
	} {
		assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table, table)
	}

	// Nonsense dimensions are clamped rather than rendered into DDL.
	assert.Contains(t, strings.Join(schemaStatements(-3), "\n"), "vector(1)")
}

func TestDecodeJSONMap(t *testing.T) {
	assert.Equal(t, map[string]any{}, decodeJSONMap(nil))
	assert.Equal(t, map[string]any{}, decodeJSONMap([]byte("not json")))
	assert.Equal(t, map[string]any{}, decodeJSONMap([]byte("null")))
	assert.Equal(t, map[string]any{"k": "v"}, decodeJSONMap([]byte(`{"k":"v"}`)))
}

func TestTextOrNil(t *testing.T) {
	assert.Nil(t, textOrNil(""))
	assert.Equal(t, "x", textOrNil("x"))
}

func TestListDocumentsOptionsLimit(t *testing.T) {
	assert.Equal(t, 50, ListDocumentsOptions{}.limit())
	assert.Equal(t, 200, ListDocumentsOptions{Limit: 999}.limit())
	assert.Equal(t, 25, ListDocumentsOptions{Limit: 25}.limit())
}

// openTestStore connects to the database named by RAGD_TEST_POSTGRES_DSN
// and bootstraps the schema, skipping when unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("RAGD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RAGD_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := New(ctx, Config{DSN: dsn}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Bootstrap(ctx, 8))
	return store
}

func TestDocumentLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := Document{
		ID:       uuid.New().String(),
		FileName: "handbook.md",
		Source:   "upload",
		Status:   DocumentQueued,
		Metadata: map[string]any{"taskId": "task-1", "strategy": "fixed"},
	}
	require.NoError(t, store.CreateDocument(ctx, doc))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "handbook.md", got.FileName)
	assert.Equal(t, DocumentQueued, got.Status)
	assert.Equal(t, "task-1", got.Metadata["taskId"])

	// Status transition merges metadata instead of replacing it.
	err = store.SetDocumentStatus(ctx, doc.ID, DocumentCompleted, map[string]any{"chunkCount": 12})
	require.NoError(t, err)

	got, err = store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, DocumentCompleted, got.Status)
	assert.Equal(t, "task-1", got.Metadata["taskId"], "existing keys survive the patch")
	assert.Equal(t, float64(12), got.Metadata["chunkCount"])

	docs, total, err := store.ListDocuments(ctx, ListDocumentsOptions{Status: DocumentCompleted})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	found := false
	for _, d := range docs {
		if d.ID == doc.ID {
			found = true
		}
	}
	assert.True(t, found)

	fileName, err := store.SoftDeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "handbook.md", fileName)

	_, err = store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = store.SoftDeleteDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound, "double delete reports not found")
}

func TestSetDocumentStatusUnknownDocument(t *testing.T) {
	store := openTestStore(t)
	err := store.SetDocumentStatus(context.Background(), uuid.New().String(), DocumentFailed, nil)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestCatalogBuiltinsAndServers(t *testing.T) {
	store := openTestStore(t)
	catalog := NewCatalog(store.Pool(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, catalog.EnsureBuiltinTools(ctx))

	fetch, err := catalog.GetTool(ctx, mcp.ToolWebFetch)
	require.NoError(t, err)
	assert.Equal(t, mcp.SourceBuiltin, fetch.Source)

	// Disable survives re-seeding.
	_, err = catalog.SetToolEnabled(ctx, mcp.ToolWebFetch, false)
	require.NoError(t, err)
	require.NoError(t, catalog.EnsureBuiltinTools(ctx))
	fetch, err = catalog.GetTool(ctx, mcp.ToolWebFetch)
	require.NoError(t, err)
	assert.False(t, fetch.Enabled)
	_, err = catalog.SetToolEnabled(ctx, mcp.ToolWebFetch, true)
	require.NoError(t, err)

	key := "it-" + uuid.New().String()[:8]
	server, err := catalog.CreateServer(ctx, mcp.ServerInput{
		Key:      key,
		Name:     "Integration Server",
		Endpoint: "http://tools.internal:9000",
	})
	require.NoError(t, err)
	assert.Equal(t, 12000, server.TimeoutMS)

	_, err = catalog.CreateServer(ctx, mcp.ServerInput{
		Key:      key,
		Name:     "Duplicate",
		Endpoint: "http://tools.internal:9001",
	})
	assert.Error(t, err, "duplicate key is rejected")

	enabled := false
	server, err = catalog.UpdateServer(ctx, key, mcp.ServerPatch{Enabled: &enabled})
	require.NoError(t, err)
	assert.False(t, server.Enabled)

	_, err = catalog.UpdateServer(ctx, key, mcp.ServerPatch{})
	assert.ErrorIs(t, err, mcp.ErrNoUpdatableField)

	toolName := key + ".lookup"
	_, err = catalog.UpsertExternalTool(ctx, mcp.ExternalTool{
		Name:        toolName,
		DisplayName: "Lookup",
		ServerKey:   key,
	})
	require.NoError(t, err)

	disabled, err := catalog.DisableServerToolsExcept(ctx, key, []string{"nothing"})
	require.NoError(t, err)
	assert.Equal(t, 1, disabled)

	tool, err := catalog.GetTool(ctx, toolName)
	require.NoError(t, err)
	assert.False(t, tool.Enabled)

	// Upsert keeps the disabled flag.
	tool, err = catalog.UpsertExternalTool(ctx, mcp.ExternalTool{
		Name:        toolName,
		DisplayName: "Lookup v2",
		ServerKey:   key,
	})
	require.NoError(t, err)
	assert.False(t, tool.Enabled)
	assert.Equal(t, "Lookup v2", tool.DisplayName)
}

func TestLogWriters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	logID, err := store.InsertRetrievalLog(ctx, RetrievalLog{
		TraceID:      "trace-" + uuid.New().String()[:8],
		Question:     "什么是向量检索?",
		ModelID:      "gpt-4.1-mini",
		TopK:         5,
		Threshold:    0.4,
		LatencyMS:    120,
		TotalTokens:  300,
		MCPCallCount: 2,
		Results:      []map[string]any{{"chunkId": "c1", "score": 0.91}},
	})
	require.NoError(t, err)
	assert.Greater(t, logID, int64(0))

	err = store.InsertSkillLogs(ctx, logID, "trace-x", "", []SkillLog{
		{SkillName: "mcp.embedding.generate", Status: "success", LatencyMS: 40},
		{SkillName: "mcp.vector.search", Status: "success", LatencyMS: 15},
	})
	require.NoError(t, err)

	runID, err := store.InsertToolRun(ctx, ToolRun{
		RetrievalLogID: &logID,
		TraceID:        "trace-x",
		ToolName:       mcp.ToolWebFetch,
		Source:         mcp.SourceBuiltin,
		Status:         "success",
		LatencyMS:      230,
		InputSummary:   "url=https://example.com",
		OutputSummary:  "title=Example,chars=1200",
		OutputPayload:  map[string]any{"title": "Example"},
	})
	require.NoError(t, err)
	assert.Greater(t, runID, int64(0))

	stageID, err := store.InsertDeepThinkRun(ctx, DeepThinkRun{
		TraceID:       "trace-x",
		Stage:         "plan",
		Status:        "success",
		LatencyMS:     3,
		OutputSummary: "steps=4",
		Payload:       map[string]any{"steps": []any{"a", "b"}},
	})
	require.NoError(t, err)
	assert.Greater(t, stageID, int64(0))
}
