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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chunking"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/storage"
)

type fakeQueue struct {
	mu         sync.Mutex
	published  [][]byte
	publishErr error
}

func (f *fakeQueue) Publish(_ context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, body)
	return nil
}

func (f *fakeQueue) Consume(ctx context.Context, _ queue.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeQueue) Ping(context.Context) error { return nil }
func (f *fakeQueue) Close() error               { return nil }

type fakeCreator struct {
	docs []storage.Document
	err  error
}

func (f *fakeCreator) CreateDocument(_ context.Context, doc storage.Document) error {
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, doc)
	return nil
}

func TestSubmitQueuesDocument(t *testing.T) {
	dir := t.TempDir()
	fq := &fakeQueue{}
	fc := &fakeCreator{}
	ft := &fakeTasks{}
	s := NewSubmitter(fq, fc, ft, dir, zap.NewNop())

	res, err := s.Submit(context.Background(), SubmitRequest{
		FileName: "my report (1).txt",
		Content:  []byte("hello world"),
		Strategy: "parent-child",
		TraceID:  "trace-1",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.TaskID, "task-"))
	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, "my report (1).txt", res.FileName)
	assert.Equal(t, "parent_child", res.Strategy)
	assert.Equal(t, int64(11), res.FileSizeBytes)
	assert.Equal(t, storage.DocumentQueued, res.Status)

	// The stored file carries the sanitized name; the row keeps the
	// original.
	storedPath := filepath.Join(dir, res.DocumentID+"-my_report_1_.txt")
	content, err := os.ReadFile(storedPath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	require.Len(t, fc.docs, 1)
	doc := fc.docs[0]
	assert.Equal(t, res.DocumentID, doc.ID)
	assert.Equal(t, "my report (1).txt", doc.FileName)
	assert.Equal(t, SourceUpload, doc.Source)
	assert.Equal(t, storage.DocumentQueued, doc.Status)
	assert.Equal(t, res.TaskID, doc.Metadata["taskId"])
	assert.Equal(t, "parent_child", doc.Metadata["strategy"])
	assert.Equal(t, storedPath, doc.Metadata["storagePath"])
	assert.Equal(t, "trace-1", doc.Metadata["traceId"])

	require.Len(t, fq.published, 1)
	var task Task
	require.NoError(t, json.Unmarshal(fq.published[0], &task))
	assert.Equal(t, res.TaskID, task.TaskID)
	assert.Equal(t, res.DocumentID, task.DocumentID)
	assert.Equal(t, "my report (1).txt", task.FileName)
	assert.Equal(t, "parent_child", task.Strategy)
	assert.Equal(t, int64(11), task.FileSizeBytes)
	assert.Equal(t, "trace-1", task.TraceID)
	assert.Equal(t, storedPath, task.StoragePath)

	require.Len(t, ft.snaps, 1)
	assert.Equal(t, storage.DocumentQueued, ft.snaps[0].Status)
	assert.Equal(t, "trace-1", ft.snaps[0].TraceID)
}

func TestSubmitUnknownStrategy(t *testing.T) {
	dir := t.TempDir()
	fq := &fakeQueue{}
	fc := &fakeCreator{}
	s := NewSubmitter(fq, fc, nil, dir, zap.NewNop())

	_, err := s.Submit(context.Background(), SubmitRequest{
		FileName: "a.txt",
		Content:  []byte("text"),
		Strategy: "bogus",
	})
	require.ErrorIs(t, err, chunking.ErrUnknownStrategy)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "rejected submissions write nothing")
	assert.Empty(t, fc.docs)
	assert.Empty(t, fq.published)
}

func TestSubmitDefaults(t *testing.T) {
	s := NewSubmitter(&fakeQueue{}, &fakeCreator{}, nil, t.TempDir(), zap.NewNop())

	res, err := s.Submit(context.Background(), SubmitRequest{Content: []byte("x")})
	require.NoError(t, err)

	assert.Equal(t, "unnamed", res.FileName)
	assert.Equal(t, "fixed", res.Strategy)
	assert.NotEmpty(t, res.TraceID)
}

func TestSubmitPublishFailure(t *testing.T) {
	fq := &fakeQueue{publishErr: errors.New("broker unavailable")}
	fc := &fakeCreator{}
	ft := &fakeTasks{}
	s := NewSubmitter(fq, fc, ft, t.TempDir(), zap.NewNop())

	_, err := s.Submit(context.Background(), SubmitRequest{
		FileName: "a.txt",
		Content:  []byte("text"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")

	// The document row stays behind as queued; the poller surfaces the
	// stall rather than losing the upload.
	assert.Len(t, fc.docs, 1)
	assert.Empty(t, ft.snaps)
}
