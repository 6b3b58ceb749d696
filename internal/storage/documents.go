package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrDocumentNotFound marks lookups of missing or soft-deleted documents.
var ErrDocumentNotFound = errors.New("storage: document not found")

// Document lifecycle statuses.
const (
	DocumentQueued     = "queued"
	DocumentProcessing = "processing"
	DocumentCompleted  = "completed"
	DocumentFailed     = "failed"
)

// Document is one ingested file's lifecycle row.
type Document struct {
	ID        string         `json:"documentId"`
	FileName  string         `json:"fileName"`
	Source    string         `json:"source"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Chunk is one stored slice of a document, without its embedding.
type Chunk struct {
	ID         string         `json:"chunkId"`
	ChunkIndex int            `json:"chunkIndex"`
	Content    string         `json:"content"`
	TokenCount int            `json:"tokenCount"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"createdAt"`
}

const documentColumns = `
	id::text,
	file_name,
	source,
	status,
	metadata,
	created_at,
	updated_at`

// CreateDocument inserts a new lifecycle row.
func (s *Store) CreateDocument(ctx context.Context, doc Document) error {
	meta := doc.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("storage: encoding document metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (id, file_name, source, status, metadata)
		VALUES ($1::uuid, $2, $3, $4, $5::jsonb)
	`, doc.ID, doc.FileName, doc.Source, doc.Status, string(metaJSON))
	if err != nil {
		return fmt.Errorf("storage: inserting document: %w", err)
	}
	s.logger.Debug("document created",
		zap.String("document_id", doc.ID),
		zap.String("file_name", doc.FileName),
		zap.String("status", doc.Status),
	)
	return nil
}

// GetDocument returns a live document by id.
func (s *Store) GetDocument(ctx context.Context, documentID string) (Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+documentColumns+`
		FROM documents
		WHERE id::text = $1
		  AND deleted_at IS NULL
		LIMIT 1
	`, documentID)
	if err != nil {
		return Document{}, fmt.Errorf("storage: querying document: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Document{}, fmt.Errorf("storage: reading document: %w", err)
		}
		return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	return scanDocument(rows.Scan)
}

// ListDocumentsOptions filters ListDocuments.
type ListDocumentsOptions struct {
	// Status filters by lifecycle status when non-empty.
	Status string

	// Limit caps the page size. Clamped to [1, 200], default 50.
	Limit int
}

func (o ListDocumentsOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return 50
	case o.Limit > 200:
		return 200
	default:
		return o.Limit
	}
}

// ListDocuments returns live documents newest first, plus the total
// count matching the filter.
func (s *Store) ListDocuments(ctx context.Context, opts ListDocumentsOptions) ([]Document, int, error) {
	where := "WHERE deleted_at IS NULL"
	args := []any{}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM documents `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: counting documents: %w", err)
	}

	args = append(args, opts.limit())
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT%s
		FROM documents
		%s
		ORDER BY created_at DESC
		LIMIT $%d
	`, documentColumns, where, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: reading documents: %w", err)
	}
	return docs, total, nil
}

// SetDocumentStatus updates the status and merges metaPatch into the
// stored metadata. Keys in metaPatch win on conflict.
func (s *Store) SetDocumentStatus(ctx context.Context, documentID, status string, metaPatch map[string]any) error {
	if metaPatch == nil {
		metaPatch = map[string]any{}
	}
	patchJSON, err := json.Marshal(metaPatch)
	if err != nil {
		return fmt.Errorf("storage: encoding metadata patch: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2,
		    metadata = COALESCE(metadata, '{}'::jsonb) || $3::jsonb,
		    updated_at = NOW()
		WHERE id::text = $1
		  AND deleted_at IS NULL
	`, documentID, status, string(patchJSON))
	if err != nil {
		return fmt.Errorf("storage: updating document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	s.logger.Debug("document status updated",
		zap.String("document_id", documentID),
		zap.String("status", status),
	)
	return nil
}

// SoftDeleteDocument marks a document deleted and reports its file name.
// Chunk rows stay in place; search queries exclude deleted documents.
func (s *Store) SoftDeleteDocument(ctx context.Context, documentID string) (string, error) {
	var fileName string
	err := s.pool.QueryRow(ctx, `
		UPDATE documents
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id::text = $1
		  AND deleted_at IS NULL
		RETURNING file_name
	`, documentID).Scan(&fileName)
	if err != nil {
		if isNoRows(err) {
			return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
		}
		return "", fmt.Errorf("storage: soft-deleting document: %w", err)
	}
	s.logger.Info("document soft-deleted",
		zap.String("document_id", documentID),
		zap.String("file_name", fileName),
	)
	return fileName, nil
}

// ListChunks pages through a document's stored chunks in index order.
// The document must exist and be live.
func (s *Store) ListChunks(ctx context.Context, documentID string, limit, offset int) ([]Chunk, int, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(1) FROM document_chunks WHERE document_id = $1::uuid
	`, documentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: counting chunks: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT
			id::text,
			chunk_index,
			content,
			token_count,
			metadata,
			created_at
		FROM document_chunks
		WHERE document_id = $1::uuid
		ORDER BY chunk_index ASC
		LIMIT $2 OFFSET $3
	`, documentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: listing chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c    Chunk
			meta []byte
		)
		if err := rows.Scan(&c.ID, &c.ChunkIndex, &c.Content, &c.TokenCount, &meta, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scanning chunk: %w", err)
		}
		c.Metadata = decodeJSONMap(meta)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: reading chunks: %w", err)
	}
	return chunks, total, nil
}

type scanFunc func(dest ...any) error

func scanDocument(scan scanFunc) (Document, error) {
	var (
		doc  Document
		meta []byte
	)
	if err := scan(&doc.ID, &doc.FileName, &doc.Source, &doc.Status, &meta, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, fmt.Errorf("storage: scanning document: %w", err)
	}
	doc.Metadata = decodeJSONMap(meta)
	return doc, nil
}

// decodeJSONMap tolerates malformed stored metadata by returning an
// empty map instead of failing the whole read.
func decodeJSONMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}
