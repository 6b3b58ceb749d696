// Package worker consumes document ingestion tasks from the queue and
// drives each one through the chunk/embed/index state machine:
// queued -> processing -> completed or failed. The submit side lives in
// the same package so producers and the consumer share one task format.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/fyrsmithlabs/ragd/internal/chunking"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/registry"
	"github.com/fyrsmithlabs/ragd/internal/sanitize"
	"github.com/fyrsmithlabs/ragd/internal/storage"
	"github.com/fyrsmithlabs/ragd/internal/taskcache"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const (
	// minChunkSize is the floor applied to the configured chunk size.
	minChunkSize = 100

	// maxErrorRunes caps the failure reason persisted to document
	// metadata and the task cache.
	maxErrorRunes = 500
)

// consumeRetryDelay is how long the worker waits before redialing the
// broker after a consume failure. Variable so tests can shrink it.
var consumeRetryDelay = 3 * time.Second

// textExtensions is the allowlist of ingestable file types.
var textExtensions = map[string]struct{}{
	".txt":      {},
	".md":       {},
	".markdown": {},
	".text":     {},
	".log":      {},
	".csv":      {},
	".json":     {},
}

// Task failure reasons surface to polling clients through the task
// cache and document metadata, so they stay in the product language.
var (
	errMissingStoragePath = errors.New("worker: 任务缺少 storagePath，无法读取上传文件")
	errNoChunks           = errors.New("worker: 文档切分后无有效分块")
	errDecodeFailed       = errors.New("worker: 文件解码失败，请确保是 UTF-8 或 GB18030 文本文件")
)

// Task is the queue message describing one ingestion job.
type Task struct {
	TaskID        string `json:"taskId"`
	DocumentID    string `json:"documentId"`
	FileName      string `json:"fileName"`
	Strategy      string `json:"strategy"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
	TraceID       string `json:"traceId"`
	StoragePath   string `json:"storagePath"`
}

// normalized trims every field and fills the fallbacks consumers rely
// on.
func (t Task) normalized() Task {
	t.TaskID = strings.TrimSpace(t.TaskID)
	t.DocumentID = strings.TrimSpace(t.DocumentID)
	t.FileName = strings.TrimSpace(t.FileName)
	if t.FileName == "" {
		t.FileName = "unnamed"
	}
	t.Strategy = strings.TrimSpace(t.Strategy)
	t.TraceID = strings.TrimSpace(t.TraceID)
	if t.TraceID == "" {
		t.TraceID = "worker-trace"
	}
	t.StoragePath = strings.TrimSpace(t.StoragePath)
	return t
}

// DocumentStore updates document lifecycle rows.
type DocumentStore interface {
	SetDocumentStatus(ctx context.Context, documentID, status string, metaPatch map[string]any) error
}

// TaskCache records task snapshots for polling clients.
type TaskCache interface {
	Put(ctx context.Context, snap taskcache.Snapshot) error
}

// ModelResolver picks the embedding model from the catalog.
type ModelResolver interface {
	ResolveEmbedding(preferredID string) (registry.Model, error)
}

// ProviderSource yields the embedding provider serving a catalog model.
type ProviderSource interface {
	ForModel(ctx context.Context, m registry.Model) (embeddings.Provider, error)
}

// Config tunes the ingestion worker.
type Config struct {
	Enabled bool

	// ChunkSize is the target chunk length in runes, floored at 100.
	ChunkSize int

	// Overlap is the chunk overlap in runes, floored at zero.
	Overlap int

	// Strategy is the chunking strategy applied when a task names none.
	Strategy string

	// EmbeddingModel is the preferred embedding model id. When it is
	// offline or missing the first online embedding-capable model runs
	// instead.
	EmbeddingModel string

	// UploadsDir is the root every task storage path must resolve
	// under.
	UploadsDir string
}

// Dependencies carries the worker's collaborators. Tasks may be nil to
// run without status snapshots.
type Dependencies struct {
	Queue     queue.Queue
	Documents DocumentStore
	Vectors   vectorstore.Store
	Models    ModelResolver
	Providers ProviderSource
	Tasks     TaskCache
}

func (d Dependencies) validate() error {
	switch {
	case d.Queue == nil:
		return errors.New("worker: queue is required")
	case d.Documents == nil:
		return errors.New("worker: document store is required")
	case d.Vectors == nil:
		return errors.New("worker: vector store is required")
	case d.Models == nil:
		return errors.New("worker: model resolver is required")
	case d.Providers == nil:
		return errors.New("worker: provider source is required")
	}
	return nil
}

// Worker consumes ingestion tasks and indexes documents.
type Worker struct {
	config    Config
	queue     queue.Queue
	documents DocumentStore
	vectors   vectorstore.Store
	models    ModelResolver
	providers ProviderSource
	tasks     TaskCache
	logger    *zap.Logger
}

// New builds a Worker. A nil logger is replaced with a no-op logger.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Worker, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		config:    cfg,
		queue:     deps.Queue,
		documents: deps.Documents,
		vectors:   deps.Vectors,
		models:    deps.Models,
		providers: deps.Providers,
		tasks:     deps.Tasks,
		logger:    logger,
	}, nil
}

// Run consumes the task queue until ctx is cancelled, redialing after
// broker failures. It returns nil on a clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	if !w.config.Enabled {
		w.logger.Info("document worker disabled by config")
		return nil
	}

	for {
		err := w.queue.Consume(ctx, w.handle)
		if ctx.Err() != nil {
			w.logger.Info("document worker stopped")
			return nil
		}
		w.logger.Error("document worker consume failed, retrying",
			zap.Duration("backoff", consumeRetryDelay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			w.logger.Info("document worker stopped")
			return nil
		case <-time.After(consumeRetryDelay):
		}
	}
}

// handle decodes one delivery. It always returns nil: malformed
// messages are dropped and task failures are recorded as failed status,
// never redelivered.
func (w *Worker) handle(ctx context.Context, body []byte) error {
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		w.logger.Error("invalid task message dropped", zap.Error(err))
		observeTask("dropped", time.Now(), 0)
		return nil
	}
	w.process(ctx, task)
	return nil
}

func (w *Worker) process(ctx context.Context, task Task) {
	start := time.Now()
	task = task.normalized()
	if task.DocumentID == "" {
		w.logger.Error("task dropped: documentId missing",
			zap.String("taskId", task.TaskID))
		observeTask("dropped", start, 0)
		return
	}

	strategy := w.resolveStrategy(task.Strategy)
	w.snapshot(ctx, task, storage.DocumentProcessing, map[string]any{
		"fileName": task.FileName,
		"strategy": string(strategy),
	})

	res, err := w.ingest(ctx, task, strategy)
	if err != nil {
		w.logger.Error("document ingestion failed",
			zap.String("traceId", task.TraceID),
			zap.String("documentId", task.DocumentID),
			zap.Error(err))
		w.markFailed(ctx, task, err)
		observeTask("failed", start, 0)
		return
	}

	w.snapshot(ctx, task, storage.DocumentCompleted, map[string]any{
		"chunkCount":       res.ChunkCount,
		"embeddingModelId": res.ModelID,
	})
	w.logger.Info("document ingestion completed",
		zap.String("traceId", task.TraceID),
		zap.String("documentId", task.DocumentID),
		zap.Int("chunks", res.ChunkCount),
		zap.String("strategy", string(strategy)))
	observeTask("completed", start, res.ChunkCount)
}

type ingestResult struct {
	ChunkCount int
	ModelID    string
	Usage      embeddings.Usage
}

// ingest runs one task through the pipeline. Any error sends the task
// to markFailed.
func (w *Worker) ingest(ctx context.Context, task Task, strategy chunking.Strategy) (ingestResult, error) {
	err := w.documents.SetDocumentStatus(ctx, task.DocumentID, storage.DocumentProcessing, map[string]any{
		"workerStartedAt": time.Now().UTC().Format(time.RFC3339Nano),
		"strategy":        string(strategy),
		"storagePath":     task.StoragePath,
	})
	if err != nil {
		return ingestResult{}, err
	}

	text, err := w.readTextFile(task.StoragePath, task.FileName)
	if err != nil {
		return ingestResult{}, err
	}

	chunkSize := w.config.ChunkSize
	if chunkSize < minChunkSize {
		chunkSize = minChunkSize
	}
	overlap := w.config.Overlap
	if overlap < 0 {
		overlap = 0
	}
	chunks, err := chunking.Split(text, chunking.Options{
		ChunkSize: chunkSize,
		Overlap:   overlap,
		Strategy:  strategy,
	})
	if err != nil {
		return ingestResult{}, err
	}
	if len(chunks) == 0 {
		return ingestResult{}, errNoChunks
	}

	model, err := w.models.ResolveEmbedding(w.config.EmbeddingModel)
	if err != nil {
		return ingestResult{}, err
	}
	provider, err := w.providers.ForModel(ctx, model)
	if err != nil {
		return ingestResult{}, err
	}

	if _, err := w.vectors.DeleteDocumentChunks(ctx, task.DocumentID); err != nil {
		return ingestResult{}, err
	}

	base := map[string]any{
		"file_name":   task.FileName,
		"strategy":    string(strategy),
		"taskId":      task.TaskID,
		"traceId":     task.TraceID,
		"storagePath": task.StoragePath,
	}

	var usage embeddings.Usage
	inserted := 0
	for _, chunk := range chunks {
		content := strings.TrimSpace(chunk.Content)
		if content == "" {
			continue
		}

		vectors, chunkUsage, err := provider.EmbedDocuments(ctx, []string{content})
		if err != nil {
			return ingestResult{}, fmt.Errorf("worker: embedding chunk %d: %w", chunk.Index, err)
		}
		if len(vectors) == 0 {
			return ingestResult{}, fmt.Errorf("worker: embedding chunk %d: provider returned no vector", chunk.Index)
		}
		usage.Add(chunkUsage)

		_, err = w.vectors.InsertChunk(ctx, vectorstore.ChunkRecord{
			DocumentID: task.DocumentID,
			Index:      chunk.Index,
			Content:    content,
			Embedding:  vectors[0],
			Metadata:   chunkMetadata(base, chunk),
			Model:      model.ID,
			TokenCount: chunkUsage.TotalTokens,
		})
		if err != nil {
			return ingestResult{}, fmt.Errorf("worker: inserting chunk %d: %w", chunk.Index, err)
		}
		inserted++
	}

	err = w.documents.SetDocumentStatus(ctx, task.DocumentID, storage.DocumentCompleted, map[string]any{
		"embeddingModelId": model.ID,
		"chunkCount":       inserted,
		"promptTokens":     usage.PromptTokens,
		"embeddingTokens":  usage.TotalTokens,
	})
	if err != nil {
		return ingestResult{}, err
	}
	return ingestResult{ChunkCount: inserted, ModelID: model.ID, Usage: usage}, nil
}

// markFailed rolls back partial chunks and records the failure reason.
// Cleanup errors are logged, never propagated: the task is already
// lost.
func (w *Worker) markFailed(ctx context.Context, task Task, cause error) {
	msg := truncateRunes(cause.Error(), maxErrorRunes)

	if _, err := w.vectors.DeleteDocumentChunks(ctx, task.DocumentID); err != nil {
		w.logger.Error("removing partial chunks failed",
			zap.String("documentId", task.DocumentID),
			zap.Error(err))
	}
	err := w.documents.SetDocumentStatus(ctx, task.DocumentID, storage.DocumentFailed, map[string]any{
		"workerError": msg,
	})
	if err != nil {
		w.logger.Error("persisting failed status failed",
			zap.String("documentId", task.DocumentID),
			zap.Error(err))
	}
	w.snapshot(ctx, task, storage.DocumentFailed, map[string]any{"error": msg})
}

// snapshot best-effort updates the task cache. Tasks without an id, or
// workers without a cache, skip silently.
func (w *Worker) snapshot(ctx context.Context, task Task, status string, extra map[string]any) {
	if task.TaskID == "" || w.tasks == nil {
		return
	}
	err := w.tasks.Put(ctx, taskcache.Snapshot{
		TaskID:     task.TaskID,
		DocumentID: task.DocumentID,
		Status:     status,
		TraceID:    task.TraceID,
		Extra:      extra,
	})
	if err != nil {
		w.logger.Warn("task snapshot write failed",
			zap.String("taskId", task.TaskID),
			zap.Error(err))
	}
}

// resolveStrategy maps the task strategy to a canonical one, falling
// back to the configured default and finally to fixed. Unknown names
// never fail a task.
func (w *Worker) resolveStrategy(name string) chunking.Strategy {
	if name == "" {
		name = w.config.Strategy
	}
	strategy, err := chunking.ResolveStrategy(name)
	if err != nil {
		w.logger.Debug("unknown chunking strategy, using fixed",
			zap.String("strategy", name))
		return chunking.StrategyFixed
	}
	return strategy
}

// readTextFile loads and decodes one queued upload. The path must
// resolve under the configured uploads root; queue messages are not
// trusted to name arbitrary files.
func (w *Worker) readTextFile(path, fileName string) (string, error) {
	if path == "" {
		return "", errMissingStoragePath
	}
	clean, err := sanitize.ValidatePath(path, w.config.UploadsDir)
	if err != nil {
		return "", fmt.Errorf("worker: storage path rejected: %w", err)
	}

	if _, err := os.Stat(clean); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("worker: 上传文件不存在: %s", clean)
		}
		return "", fmt.Errorf("worker: stat upload: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(clean))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(fileName))
	}
	if _, ok := textExtensions[ext]; !ok {
		label := ext
		if label == "" {
			label = "unknown"
		}
		return "", fmt.Errorf("worker: 暂不支持的文件类型: %s，当前仅支持 txt/md/csv/json", label)
	}

	raw, err := os.ReadFile(clean)
	if err != nil {
		return "", fmt.Errorf("worker: reading upload: %w", err)
	}
	return decodeText(raw)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText decodes an upload as UTF-8 (with or without BOM) and
// falls back to GB18030. Anything else fails the task.
func decodeText(raw []byte) (string, error) {
	trimmed := bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(trimmed) {
		return string(trimmed), nil
	}
	decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(raw)
	// The decoder substitutes U+FFFD for invalid sequences instead of
	// failing, so treat any substitution as a decode failure.
	if err != nil || bytes.ContainsRune(decoded, utf8.RuneError) {
		return "", errDecodeFailed
	}
	return string(decoded), nil
}

// chunkMetadata merges the per-task base fields with one chunk's span
// and structure information.
func chunkMetadata(base map[string]any, chunk chunking.Chunk) map[string]any {
	meta := make(map[string]any, len(base)+12)
	for k, v := range base {
		meta[k] = v
	}
	meta["start"] = chunk.Start
	meta["end"] = chunk.End
	meta["length"] = chunk.Length

	if chunk.Parent != nil {
		meta["parentChunkId"] = chunk.Parent.ID
		meta["parentStart"] = chunk.Parent.Start
		meta["parentEnd"] = chunk.Parent.End
		meta["parentLength"] = chunk.Parent.Length
	}
	if chunk.Section != nil {
		meta["nodeId"] = chunk.Section.NodeID
		meta["nodePath"] = chunk.Section.NodePath
		meta["level"] = chunk.Section.Level
		meta["pageStart"] = chunk.Section.PageStart
		meta["pageEnd"] = chunk.Section.PageEnd
		meta["charStart"] = chunk.Section.CharStart
		meta["charEnd"] = chunk.Section.CharEnd
		if chunk.Section.SectionTitle != "" {
			meta["sectionTitle"] = chunk.Section.SectionTitle
		}
	}
	return meta
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
