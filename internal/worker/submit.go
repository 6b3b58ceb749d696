package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chunking"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/sanitize"
	"github.com/fyrsmithlabs/ragd/internal/storage"
	"github.com/fyrsmithlabs/ragd/internal/taskcache"
)

// SourceUpload is the document source recorded for direct submissions.
const SourceUpload = "upload"

// NewTaskID returns a fresh polling-friendly task id.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}

// DocumentCreator registers new document lifecycle rows.
type DocumentCreator interface {
	CreateDocument(ctx context.Context, doc storage.Document) error
}

// SubmitRequest describes one document entering the pipeline.
type SubmitRequest struct {
	FileName string
	Content  []byte

	// Strategy is the chunking strategy name. Empty means fixed;
	// unknown names are rejected before any side effect.
	Strategy string

	// TraceID correlates the submission with its logs. Empty generates
	// one.
	TraceID string

	// Source tags where the document came from. Empty means upload.
	Source string
}

// SubmitResult identifies the queued work.
type SubmitResult struct {
	TaskID        string `json:"taskId"`
	DocumentID    string `json:"documentId"`
	FileName      string `json:"fileName"`
	Strategy      string `json:"strategy"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
	TraceID       string `json:"traceId"`
	Status        string `json:"status"`
}

// Submitter saves uploads, registers document rows, and enqueues their
// ingestion tasks.
type Submitter struct {
	queue      queue.Queue
	documents  DocumentCreator
	tasks      TaskCache
	uploadsDir string
	logger     *zap.Logger
}

// NewSubmitter builds a Submitter. tasks may be nil to skip status
// snapshots; a nil logger is replaced with a no-op logger.
func NewSubmitter(q queue.Queue, documents DocumentCreator, tasks TaskCache, uploadsDir string, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		queue:      q,
		documents:  documents,
		tasks:      tasks,
		uploadsDir: uploadsDir,
		logger:     logger,
	}
}

// Submit writes the upload under the uploads root, registers the
// document as queued, and publishes the ingestion task. The stored file
// name is sanitized; the document keeps the caller's original name.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	strategyName := strings.TrimSpace(req.Strategy)
	if strategyName == "" {
		strategyName = string(chunking.StrategyFixed)
	}
	strategy, err := chunking.ResolveStrategy(strategyName)
	if err != nil {
		return SubmitResult{}, err
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = "unnamed"
	}
	traceID := strings.TrimSpace(req.TraceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = SourceUpload
	}

	documentID := uuid.NewString()
	taskID := NewTaskID()

	storagePath, err := s.saveUpload(documentID, fileName, req.Content)
	if err != nil {
		return SubmitResult{}, err
	}

	size := int64(len(req.Content))
	err = s.documents.CreateDocument(ctx, storage.Document{
		ID:       documentID,
		FileName: fileName,
		Source:   source,
		Status:   storage.DocumentQueued,
		Metadata: map[string]any{
			"taskId":        taskID,
			"strategy":      string(strategy),
			"fileSizeBytes": size,
			"traceId":       traceID,
			"storagePath":   storagePath,
		},
	})
	if err != nil {
		return SubmitResult{}, err
	}

	body, err := json.Marshal(Task{
		TaskID:        taskID,
		DocumentID:    documentID,
		FileName:      fileName,
		Strategy:      string(strategy),
		FileSizeBytes: size,
		TraceID:       traceID,
		StoragePath:   storagePath,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("worker: encoding task: %w", err)
	}
	if err := s.queue.Publish(ctx, body); err != nil {
		return SubmitResult{}, fmt.Errorf("worker: enqueuing task: %w", err)
	}

	if s.tasks != nil {
		err := s.tasks.Put(ctx, taskcache.Snapshot{
			TaskID:     taskID,
			DocumentID: documentID,
			Status:     storage.DocumentQueued,
			TraceID:    traceID,
		})
		if err != nil {
			s.logger.Warn("task snapshot write failed",
				zap.String("taskId", taskID),
				zap.Error(err))
		}
	}

	s.logger.Info("document queued",
		zap.String("traceId", traceID),
		zap.String("documentId", documentID),
		zap.String("taskId", taskID),
		zap.String("fileName", fileName),
		zap.String("strategy", string(strategy)),
		zap.Int64("sizeBytes", size))

	return SubmitResult{
		TaskID:        taskID,
		DocumentID:    documentID,
		FileName:      fileName,
		Strategy:      string(strategy),
		FileSizeBytes: size,
		TraceID:       traceID,
		Status:        storage.DocumentQueued,
	}, nil
}

// saveUpload writes the content under the uploads root as
// "<documentId>-<sanitized name>".
func (s *Submitter) saveUpload(documentID, fileName string, content []byte) (string, error) {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("worker: creating uploads dir: %w", err)
	}
	target := filepath.Join(s.uploadsDir, documentID+"-"+sanitize.Filename(fileName))
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return "", fmt.Errorf("worker: saving upload: %w", err)
	}
	return target, nil
}
