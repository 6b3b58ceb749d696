package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const pgDriverName = "pgvector"

// PgStore stores chunks and embeddings in PostgreSQL with the pgvector
// extension. It is the production driver: chunk rows live in
// document_chunks, vectors in chunk_embeddings, and similarity is computed
// in SQL as 1 - cosine distance.
//
// The store borrows the pool; closing the store does not close the pool.
type PgStore struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *zap.Logger
}

// NewPgStore returns a PgStore on an existing pool. dimension is the
// configured vector width; incoming vectors are truncated or zero-padded
// to it.
func NewPgStore(pool *pgxpool.Pool, dimension int, logger *zap.Logger) *PgStore {
	if dimension < 1 {
		dimension = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgStore{pool: pool, dimension: dimension, logger: logger}
}

// vectorLiteral renders a vector in pgvector's text form. The corpus
// carries no pgvector binding for pgx, so vectors cross the wire as text
// and are cast server-side.
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 2)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (s *PgStore) InsertChunk(ctx context.Context, rec ChunkRecord) (string, error) {
	var err error
	defer func() { observeInsert(pgDriverName, err) }()

	if len(rec.Embedding) == 0 {
		err = ErrEmptyEmbedding
		return "", err
	}

	chunkID := uuid.New().String()
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding chunk metadata: %w", err)
	}
	model := rec.Model
	if model == "" {
		model = "unknown"
	}
	embedding := vectorLiteral(NormalizeDimension(rec.Embedding, s.dimension))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Chunks can arrive for a document that has no row yet; create a
	// placeholder so the FK holds.
	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, file_name, source, status, metadata)
		VALUES ($1::uuid, $2, $3, $4, $5::jsonb)
		ON CONFLICT (id) DO NOTHING
	`, rec.DocumentID, "auto-"+rec.DocumentID, "generated", "processing", "{}")
	if err != nil {
		return "", fmt.Errorf("ensuring document row: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO document_chunks (id, document_id, chunk_index, content, token_count, metadata)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6::jsonb)
	`, chunkID, rec.DocumentID, rec.Index, rec.Content, rec.TokenCount, string(metaJSON))
	if err != nil {
		return "", fmt.Errorf("inserting chunk: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, embedding, model_id)
		VALUES ($1::uuid, $2::vector, $3)
	`, chunkID, embedding, model)
	if err != nil {
		return "", fmt.Errorf("inserting embedding: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("committing chunk insert: %w", err)
	}

	s.logger.Debug("inserted chunk",
		zap.String("chunk_id", chunkID),
		zap.String("document_id", rec.DocumentID),
		zap.Int("chunk_index", rec.Index),
	)
	return chunkID, nil
}

const pgHitColumns = `
	dc.id::text AS chunk_id,
	dc.document_id::text AS document_id,
	dc.chunk_index,
	dc.content,
	dc.metadata`

func (s *PgStore) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]Hit, error) {
	start := time.Now()
	var (
		hits []Hit
		err  error
	)
	defer func() { observeSearch(pgDriverName, start, len(hits), err) }()

	if len(embedding) == 0 {
		err = ErrEmptyEmbedding
		return nil, err
	}

	_, candidateK := searchBounds(opts)
	query := vectorLiteral(NormalizeDimension(embedding, s.dimension))

	var candidates []Hit
	if len(opts.DocumentIDs) > 0 {
		candidates, err = s.fetchScored(ctx, `
			SELECT`+pgHitColumns+`,
				1 - (ce.embedding <=> $1::vector) AS score
			FROM chunk_embeddings ce
			JOIN document_chunks dc ON ce.chunk_id = dc.id
			JOIN documents d ON dc.document_id = d.id
			WHERE 1 - (ce.embedding <=> $1::vector) >= $2
			  AND d.deleted_at IS NULL
			  AND dc.document_id = ANY($4::uuid[])
			ORDER BY ce.embedding <=> $1::vector
			LIMIT $3
		`, query, opts.MinScore, candidateK, opts.DocumentIDs)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			// Nothing above the threshold inside the scope: retry without
			// it so the caller still gets best-effort context.
			s.logger.Info("no scoped hits above threshold, retrying without threshold",
				zap.Int("documents", len(opts.DocumentIDs)),
				zap.Float64("min_score", opts.MinScore),
			)
			candidates, err = s.fetchScored(ctx, `
				SELECT`+pgHitColumns+`,
					1 - (ce.embedding <=> $1::vector) AS score
				FROM chunk_embeddings ce
				JOIN document_chunks dc ON ce.chunk_id = dc.id
				JOIN documents d ON dc.document_id = d.id
				WHERE d.deleted_at IS NULL
				  AND dc.document_id = ANY($3::uuid[])
				ORDER BY ce.embedding <=> $1::vector
				LIMIT $2
			`, query, candidateK, opts.DocumentIDs)
			if err != nil {
				return nil, err
			}
		}
	} else {
		candidates, err = s.fetchScored(ctx, `
			SELECT`+pgHitColumns+`,
				1 - (ce.embedding <=> $1::vector) AS score
			FROM chunk_embeddings ce
			JOIN document_chunks dc ON ce.chunk_id = dc.id
			JOIN documents d ON dc.document_id = d.id
			WHERE 1 - (ce.embedding <=> $1::vector) >= $2
			  AND d.deleted_at IS NULL
			ORDER BY ce.embedding <=> $1::vector
			LIMIT $3
		`, query, opts.MinScore, candidateK)
		if err != nil {
			return nil, err
		}
	}

	hits, err = finishSearch(ctx, s, candidates, opts)
	return hits, err
}

func (s *PgStore) fetchScored(ctx context.Context, sql string, args ...any) ([]Hit, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h    Hit
			meta []byte
		)
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.ChunkIndex, &h.Content, &meta, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning candidate row: %w", err)
		}
		h.Metadata = parseMetadata(meta)
		h.ParentChunkID = parentChunkKey(h.Metadata)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading candidate rows: %w", err)
	}
	return hits, nil
}

func (s *PgStore) Neighbors(ctx context.Context, documentID string, fromIndex, toIndex int) ([]Hit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+pgHitColumns+`
		FROM document_chunks dc
		JOIN documents d ON dc.document_id = d.id
		WHERE d.deleted_at IS NULL
		  AND dc.document_id = $1::uuid
		  AND dc.chunk_index BETWEEN $2 AND $3
		ORDER BY dc.chunk_index ASC
	`, documentID, fromIndex, toIndex)
	if err != nil {
		return nil, fmt.Errorf("querying neighbors: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h    Hit
			meta []byte
		)
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.ChunkIndex, &h.Content, &meta); err != nil {
			return nil, fmt.Errorf("scanning neighbor row: %w", err)
		}
		h.Metadata = parseMetadata(meta)
		h.ParentChunkID = parentChunkKey(h.Metadata)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading neighbor rows: %w", err)
	}
	return hits, nil
}

func (s *PgStore) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM document_chunks
		WHERE document_id = $1::uuid
	`, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting document chunks: %w", err)
	}
	deleted := int(tag.RowsAffected())
	observeDelete(pgDriverName, deleted)
	s.logger.Debug("deleted document chunks",
		zap.String("document_id", documentID),
		zap.Int("deleted", deleted),
	)
	return deleted, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PgStore) Close() error { return nil }
