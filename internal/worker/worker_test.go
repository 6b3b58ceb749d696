package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/registry"
	"github.com/fyrsmithlabs/ragd/internal/storage"
	"github.com/fyrsmithlabs/ragd/internal/taskcache"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

type statusUpdate struct {
	documentID string
	status     string
	patch      map[string]any
}

type fakeDocs struct {
	mu       sync.Mutex
	statuses []statusUpdate
	err      error
}

func (f *fakeDocs) SetDocumentStatus(_ context.Context, documentID, status string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.statuses = append(f.statuses, statusUpdate{documentID, status, patch})
	return nil
}

type fakeTasks struct {
	mu    sync.Mutex
	snaps []taskcache.Snapshot
	err   error
}

func (f *fakeTasks) Put(_ context.Context, snap taskcache.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.snaps = append(f.snaps, snap)
	return nil
}

type fakeResolver struct {
	model registry.Model
	err   error
}

func (f fakeResolver) ResolveEmbedding(string) (registry.Model, error) {
	return f.model, f.err
}

type stubProvider struct {
	dim   int
	usage embeddings.Usage
	calls int
	err   error
}

func (p *stubProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, embeddings.Usage, error) {
	if p.err != nil {
		return nil, embeddings.Usage{}, p.err
	}
	p.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dim)
	}
	return out, p.usage, nil
}

func (p *stubProvider) EmbedQuery(_ context.Context, _ string) ([]float32, embeddings.Usage, error) {
	return make([]float32, p.dim), p.usage, nil
}

func (p *stubProvider) Dimension() int { return p.dim }
func (p *stubProvider) Close() error   { return nil }

type fakeProviders struct {
	provider embeddings.Provider
	err      error
}

func (f fakeProviders) ForModel(context.Context, registry.Model) (embeddings.Provider, error) {
	return f.provider, f.err
}

type fakeVectors struct {
	mu        sync.Mutex
	deletes   []string
	deleteAt  []int
	inserts   []vectorstore.ChunkRecord
	insertErr error
	deleteErr error
}

func (f *fakeVectors) InsertChunk(_ context.Context, rec vectorstore.ChunkRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserts = append(f.inserts, rec)
	return "chunk-id", nil
}

func (f *fakeVectors) DeleteDocumentChunks(_ context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deletes = append(f.deletes, documentID)
	f.deleteAt = append(f.deleteAt, len(f.inserts))
	return 0, nil
}

func (f *fakeVectors) Search(context.Context, []float32, vectorstore.SearchOptions) ([]vectorstore.Hit, error) {
	return nil, nil
}

func (f *fakeVectors) Neighbors(context.Context, string, int, int) ([]vectorstore.Hit, error) {
	return nil, nil
}

func (f *fakeVectors) Close() error { return nil }

type fixture struct {
	worker    *Worker
	docs      *fakeDocs
	tasks     *fakeTasks
	vectors   *fakeVectors
	provider  *stubProvider
	uploadDir string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = t.TempDir()
	}
	cfg.Enabled = true
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 120
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "fixed"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "emb-1"
	}

	docs := &fakeDocs{}
	tasks := &fakeTasks{}
	vectors := &fakeVectors{}
	provider := &stubProvider{dim: 4, usage: embeddings.Usage{PromptTokens: 7, TotalTokens: 9}}

	w, err := New(cfg, Dependencies{
		Queue:     &fakeQueue{},
		Documents: docs,
		Vectors:   vectors,
		Models:    fakeResolver{model: registry.Model{ID: "emb-1"}},
		Providers: fakeProviders{provider: provider},
		Tasks:     tasks,
	}, zap.NewNop())
	require.NoError(t, err)

	return &fixture{
		worker:    w,
		docs:      docs,
		tasks:     tasks,
		vectors:   vectors,
		provider:  provider,
		uploadDir: cfg.UploadsDir,
	}
}

func (f *fixture) writeUpload(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(f.uploadDir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func (f *fixture) handle(t *testing.T, task Task) {
	t.Helper()
	body, err := json.Marshal(task)
	require.NoError(t, err)
	require.NoError(t, f.worker.handle(context.Background(), body))
}

func TestWorkerProcessCompletes(t *testing.T) {
	f := newFixture(t, Config{})
	path := f.writeUpload(t, "doc-1-notes.txt", []byte(strings.Repeat("a", 300)))

	f.handle(t, Task{
		TaskID:      "task-abc",
		DocumentID:  "doc-1",
		FileName:    "notes.txt",
		Strategy:    "fixed",
		TraceID:     "trace-1",
		StoragePath: path,
	})

	require.Len(t, f.docs.statuses, 2)
	processing := f.docs.statuses[0]
	assert.Equal(t, "doc-1", processing.documentID)
	assert.Equal(t, storage.DocumentProcessing, processing.status)
	assert.NotEmpty(t, processing.patch["workerStartedAt"])
	assert.Equal(t, "fixed", processing.patch["strategy"])
	assert.Equal(t, path, processing.patch["storagePath"])

	completed := f.docs.statuses[1]
	assert.Equal(t, storage.DocumentCompleted, completed.status)
	assert.Equal(t, "emb-1", completed.patch["embeddingModelId"])
	assert.Equal(t, 3, completed.patch["chunkCount"])
	assert.Equal(t, 21, completed.patch["promptTokens"])
	assert.Equal(t, 27, completed.patch["embeddingTokens"])

	require.Equal(t, []string{"doc-1"}, f.vectors.deletes)
	assert.Equal(t, []int{0}, f.vectors.deleteAt, "existing chunks are deleted before any insert")

	require.Len(t, f.vectors.inserts, 3)
	for i, rec := range f.vectors.inserts {
		assert.Equal(t, "doc-1", rec.DocumentID)
		assert.Equal(t, i+1, rec.Index)
		assert.Equal(t, "emb-1", rec.Model)
		assert.Equal(t, 9, rec.TokenCount)
		assert.Len(t, rec.Embedding, 4)
		assert.Equal(t, "notes.txt", rec.Metadata["file_name"])
		assert.Equal(t, "task-abc", rec.Metadata["taskId"])
		assert.Equal(t, "trace-1", rec.Metadata["traceId"])
	}
	assert.Equal(t, 0, f.vectors.inserts[0].Metadata["start"])
	assert.Equal(t, 120, f.vectors.inserts[0].Metadata["end"])
	assert.Equal(t, 120, f.vectors.inserts[0].Metadata["length"])

	require.Len(t, f.tasks.snaps, 2)
	assert.Equal(t, storage.DocumentProcessing, f.tasks.snaps[0].Status)
	assert.Equal(t, "notes.txt", f.tasks.snaps[0].Extra["fileName"])
	assert.Equal(t, storage.DocumentCompleted, f.tasks.snaps[1].Status)
	assert.Equal(t, 3, f.tasks.snaps[1].Extra["chunkCount"])
	assert.Equal(t, "emb-1", f.tasks.snaps[1].Extra["embeddingModelId"])
}

func TestWorkerUnknownStrategyFallsBack(t *testing.T) {
	f := newFixture(t, Config{})
	path := f.writeUpload(t, "doc-2-a.md", []byte("short but real content"))

	f.handle(t, Task{TaskID: "t2", DocumentID: "doc-2", FileName: "a.md", Strategy: "bogus", StoragePath: path})

	require.Len(t, f.tasks.snaps, 2)
	assert.Equal(t, "fixed", f.tasks.snaps[0].Extra["strategy"])
	require.NotEmpty(t, f.vectors.inserts)
	assert.Equal(t, "fixed", f.vectors.inserts[0].Metadata["strategy"])
}

func TestWorkerMissingFile(t *testing.T) {
	f := newFixture(t, Config{})
	path := filepath.Join(f.uploadDir, "doc-3-gone.txt")

	f.handle(t, Task{TaskID: "t3", DocumentID: "doc-3", FileName: "gone.txt", StoragePath: path})

	require.Len(t, f.docs.statuses, 2)
	failed := f.docs.statuses[1]
	assert.Equal(t, storage.DocumentFailed, failed.status)
	assert.Contains(t, failed.patch["workerError"], "上传文件不存在")

	assert.Equal(t, []string{"doc-3"}, f.vectors.deletes, "failure path removes partial chunks")
	assert.Empty(t, f.vectors.inserts)

	last := f.tasks.snaps[len(f.tasks.snaps)-1]
	assert.Equal(t, storage.DocumentFailed, last.Status)
	assert.Contains(t, last.Extra["error"], "上传文件不存在")
}

func TestWorkerUnsupportedExtension(t *testing.T) {
	f := newFixture(t, Config{})
	path := f.writeUpload(t, "doc-4-data.bin", []byte("binary-ish"))

	f.handle(t, Task{TaskID: "t4", DocumentID: "doc-4", FileName: "data.bin", StoragePath: path})

	failed := f.docs.statuses[len(f.docs.statuses)-1]
	assert.Equal(t, storage.DocumentFailed, failed.status)
	assert.Contains(t, failed.patch["workerError"], "暂不支持的文件类型: .bin")
	assert.Empty(t, f.vectors.inserts)
}

func TestWorkerRejectsPathOutsideUploads(t *testing.T) {
	f := newFixture(t, Config{})

	f.handle(t, Task{TaskID: "t5", DocumentID: "doc-5", FileName: "x.txt", StoragePath: "/etc/passwd"})

	failed := f.docs.statuses[len(f.docs.statuses)-1]
	assert.Equal(t, storage.DocumentFailed, failed.status)
	assert.Contains(t, failed.patch["workerError"], "storage path rejected")
	assert.Empty(t, f.vectors.inserts)
}

func TestWorkerDecodesGB18030(t *testing.T) {
	content := "简体中文编码测试内容，包含标点。"
	encoded, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte(content))
	require.NoError(t, err)

	f := newFixture(t, Config{})
	path := f.writeUpload(t, "doc-6-cn.txt", encoded)

	f.handle(t, Task{TaskID: "t6", DocumentID: "doc-6", FileName: "cn.txt", StoragePath: path})

	require.Len(t, f.vectors.inserts, 1)
	assert.Equal(t, content, f.vectors.inserts[0].Content)
	assert.Equal(t, storage.DocumentCompleted, f.docs.statuses[len(f.docs.statuses)-1].status)
}

func TestWorkerDecodeFailure(t *testing.T) {
	f := newFixture(t, Config{})
	path := f.writeUpload(t, "doc-7-bad.txt", []byte{0x81, 0x20, 0x81})

	f.handle(t, Task{TaskID: "t7", DocumentID: "doc-7", FileName: "bad.txt", StoragePath: path})

	failed := f.docs.statuses[len(f.docs.statuses)-1]
	assert.Equal(t, storage.DocumentFailed, failed.status)
	assert.Contains(t, failed.patch["workerError"], "文件解码失败")
}

func TestWorkerEmptyDocument(t *testing.T) {
	f := newFixture(t, Config{})
	path := f.writeUpload(t, "doc-8-empty.txt", []byte("   \n\t  \n"))

	f.handle(t, Task{TaskID: "t8", DocumentID: "doc-8", FileName: "empty.txt", StoragePath: path})

	failed := f.docs.statuses[len(f.docs.statuses)-1]
	assert.Equal(t, storage.DocumentFailed, failed.status)
	assert.Contains(t, failed.patch["workerError"], "文档切分后无有效分块")
}

func TestWorkerChunkSizeFloor(t *testing.T) {
	f := newFixture(t, Config{ChunkSize: 10})
	path := f.writeUpload(t, "doc-9-long.txt", []byte(strings.Repeat("b", 150)))

	f.handle(t, Task{TaskID: "t9", DocumentID: "doc-9", FileName: "long.txt", StoragePath: path})

	require.Len(t, f.vectors.inserts, 2, "chunk size floors at 100")
	assert.Len(t, f.vectors.inserts[0].Content, 100)
	assert.Len(t, f.vectors.inserts[1].Content, 50)
}

func TestWorkerEmbeddingFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.err = errors.New("upstream unavailable")
	path := f.writeUpload(t, "doc-10-x.txt", []byte("real content to embed"))

	f.handle(t, Task{TaskID: "t10", DocumentID: "doc-10", FileName: "x.txt", StoragePath: path})

	failed := f.docs.statuses[len(f.docs.statuses)-1]
	assert.Equal(t, storage.DocumentFailed, failed.status)
	assert.Contains(t, failed.patch["workerError"], "upstream unavailable")
	// Delete runs once before embedding and once during rollback.
	assert.Equal(t, []string{"doc-10", "doc-10"}, f.vectors.deletes)
}

func TestWorkerTruncatesLongErrors(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.err = errors.New(strings.Repeat("坏", 600))
	path := f.writeUpload(t, "doc-11-y.txt", []byte("content"))

	f.handle(t, Task{TaskID: "t11", DocumentID: "doc-11", FileName: "y.txt", StoragePath: path})

	failed := f.docs.statuses[len(f.docs.statuses)-1]
	msg, ok := failed.patch["workerError"].(string)
	require.True(t, ok)
	assert.Equal(t, maxErrorRunes, len([]rune(msg)))
}

func TestWorkerHandleMalformed(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.worker.handle(context.Background(), []byte(`{"taskId":`)))
	require.NoError(t, f.worker.handle(context.Background(), []byte(`[1,2,3]`)))

	assert.Empty(t, f.docs.statuses)
	assert.Empty(t, f.tasks.snaps)
}

func TestWorkerHandleMissingDocumentID(t *testing.T) {
	f := newFixture(t, Config{})

	f.handle(t, Task{TaskID: "only-task"})

	assert.Empty(t, f.docs.statuses)
	assert.Empty(t, f.tasks.snaps)
	assert.Empty(t, f.vectors.deletes)
}

func TestWorkerSnapshotFailureDoesNotFailTask(t *testing.T) {
	f := newFixture(t, Config{})
	f.tasks.err = errors.New("redis down")
	path := f.writeUpload(t, "doc-12-z.txt", []byte("still processed"))

	f.handle(t, Task{TaskID: "t12", DocumentID: "doc-12", FileName: "z.txt", StoragePath: path})

	assert.Equal(t, storage.DocumentCompleted, f.docs.statuses[len(f.docs.statuses)-1].status)
	require.Len(t, f.vectors.inserts, 1)
}

type consumeCounter struct {
	fakeQueue
	mu     sync.Mutex
	calls  int
	cancel context.CancelFunc
}

func (c *consumeCounter) Consume(ctx context.Context, _ queue.Handler) error {
	c.mu.Lock()
	c.calls++
	calls := c.calls
	c.mu.Unlock()
	if calls >= 2 {
		c.cancel()
		return ctx.Err()
	}
	return errors.New("broker down")
}

func TestWorkerRunRedialsAfterFailure(t *testing.T) {
	old := consumeRetryDelay
	consumeRetryDelay = time.Millisecond
	t.Cleanup(func() { consumeRetryDelay = old })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	counter := &consumeCounter{cancel: cancel}
	w, err := New(Config{Enabled: true, ChunkSize: 100, UploadsDir: t.TempDir()}, Dependencies{
		Queue:     counter,
		Documents: &fakeDocs{},
		Vectors:   &fakeVectors{},
		Models:    fakeResolver{},
		Providers: fakeProviders{provider: &stubProvider{dim: 2}},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.Run(ctx))
	counter.mu.Lock()
	defer counter.mu.Unlock()
	assert.GreaterOrEqual(t, counter.calls, 2)
}

func TestWorkerRunDisabled(t *testing.T) {
	counter := &consumeCounter{cancel: func() {}}
	w, err := New(Config{Enabled: false, UploadsDir: t.TempDir()}, Dependencies{
		Queue:     counter,
		Documents: &fakeDocs{},
		Vectors:   &fakeVectors{},
		Models:    fakeResolver{},
		Providers: fakeProviders{provider: &stubProvider{dim: 2}},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.Run(context.Background()))
	assert.Zero(t, counter.calls)
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Config{}, Dependencies{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is required")
}

func TestDecodeText(t *testing.T) {
	t.Run("plain utf-8", func(t *testing.T) {
		got, err := decodeText([]byte("hello 世界"))
		require.NoError(t, err)
		assert.Equal(t, "hello 世界", got)
	})

	t.Run("utf-8 with BOM", func(t *testing.T) {
		got, err := decodeText(append([]byte{0xEF, 0xBB, 0xBF}, []byte("bom text")...))
		require.NoError(t, err)
		assert.Equal(t, "bom text", got)
	})

	t.Run("gb18030", func(t *testing.T) {
		encoded, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte("中文"))
		require.NoError(t, err)
		got, err := decodeText(encoded)
		require.NoError(t, err)
		assert.Equal(t, "中文", got)
	})

	t.Run("undecodable", func(t *testing.T) {
		_, err := decodeText([]byte{0x81, 0x20, 0x81})
		require.ErrorIs(t, err, errDecodeFailed)
	})
}
