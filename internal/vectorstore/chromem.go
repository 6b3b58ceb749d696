package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const chromemDriverName = "chromem"

// ChromemConfig configures the embedded chromem driver.
type ChromemConfig struct {
	// Path is the storage directory. Empty means in-memory, which is what
	// tests use.
	Path string

	// Collection is the chromem collection name.
	Collection string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// Dimension is the configured vector width; zero disables
	// normalization.
	Dimension int
}

// ApplyDefaults fills in zero values.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "ragd_chunks"
	}
}

// ChromemStore is the embedded, local-first driver. Chunks are stored
// under deterministic IDs ("documentID:index") so sibling lookups need no
// range queries.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) the chromem collection. With an empty
// path the store lives in memory.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, pathErr := expandHomePath(config.Path)
		if pathErr != nil {
			return nil, fmt.Errorf("expanding path: %w", pathErr)
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem DB: %w", err)
		}
	}

	// Embeddings are always supplied by the caller; chromem must never
	// compute one itself.
	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("chromem store requires precomputed embeddings")
	}
	collection, err := db.GetOrCreateCollection(config.Collection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("dimension", config.Dimension),
	)
	return &ChromemStore{db: db, collection: collection, config: config, logger: logger}, nil
}

func expandHomePath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func chromemChunkID(documentID string, index int) string {
	return documentID + ":" + strconv.Itoa(index)
}

func (s *ChromemStore) InsertChunk(ctx context.Context, rec ChunkRecord) (string, error) {
	var err error
	defer func() { observeInsert(chromemDriverName, err) }()

	if len(rec.Embedding) == 0 {
		err = ErrEmptyEmbedding
		return "", err
	}

	model := rec.Model
	if model == "" {
		model = "unknown"
	}

	meta := metadataToStrings(rec.Metadata)
	meta["document_id"] = rec.DocumentID
	meta["chunk_index"] = strconv.Itoa(rec.Index)
	meta["model_id"] = model
	if rec.TokenCount > 0 {
		meta["token_count"] = strconv.Itoa(rec.TokenCount)
	}

	id := chromemChunkID(rec.DocumentID, rec.Index)
	err = s.collection.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   rec.Content,
		Metadata:  meta,
		Embedding: NormalizeDimension(rec.Embedding, s.config.Dimension),
	})
	if err != nil {
		return "", fmt.Errorf("adding chunk document: %w", err)
	}
	return id, nil
}

func (s *ChromemStore) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]Hit, error) {
	start := time.Now()
	var (
		hits []Hit
		err  error
	)
	defer func() { observeSearch(chromemDriverName, start, len(hits), err) }()

	if len(embedding) == 0 {
		err = ErrEmptyEmbedding
		return nil, err
	}

	_, candidateK := searchBounds(opts)
	vec := NormalizeDimension(embedding, s.config.Dimension)

	raw, err := s.queryCandidates(ctx, vec, candidateK, opts.DocumentIDs)
	if err != nil {
		return nil, err
	}

	var candidates []Hit
	for _, h := range raw {
		if h.Score >= opts.MinScore {
			candidates = append(candidates, h)
		}
	}
	if len(candidates) == 0 && len(opts.DocumentIDs) > 0 && len(raw) > 0 {
		s.logger.Info("no scoped hits above threshold, using best-effort candidates",
			zap.Int("documents", len(opts.DocumentIDs)),
			zap.Float64("min_score", opts.MinScore),
		)
		candidates = raw
	}

	hits, err = finishSearch(ctx, s, candidates, opts)
	return hits, err
}

// queryCandidates runs the raw similarity query. Multi-document scoping is
// emulated by querying per document and merging, since chromem metadata
// filters are single-valued.
func (s *ChromemStore) queryCandidates(ctx context.Context, vec []float32, candidateK int, documentIDs []string) ([]Hit, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	n := candidateK
	if n > count {
		n = count
	}

	if len(documentIDs) == 0 {
		results, err := s.collection.QueryEmbedding(ctx, vec, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("querying collection: %w", err)
		}
		return chromemHits(results), nil
	}

	var merged []Hit
	for _, documentID := range documentIDs {
		results, err := s.collection.QueryEmbedding(ctx, vec, n, map[string]string{"document_id": documentID}, nil)
		if err != nil {
			return nil, fmt.Errorf("querying collection for document %s: %w", documentID, err)
		}
		merged = append(merged, chromemHits(results)...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > candidateK {
		merged = merged[:candidateK]
	}
	return merged, nil
}

func chromemHits(results []chromem.Result) []Hit {
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, chromemHit(r.ID, r.Content, r.Metadata, float64(r.Similarity)))
	}
	return hits
}

func chromemHit(id, content string, meta map[string]string, score float64) Hit {
	anyMeta := metadataFromStrings(meta)
	index, _ := strconv.Atoi(meta["chunk_index"])
	return Hit{
		ChunkID:       id,
		DocumentID:    meta["document_id"],
		ChunkIndex:    index,
		Content:       content,
		Score:         score,
		Metadata:      anyMeta,
		ParentChunkID: parentChunkKey(anyMeta),
	}
}

func (s *ChromemStore) Neighbors(ctx context.Context, documentID string, fromIndex, toIndex int) ([]Hit, error) {
	var hits []Hit
	for i := fromIndex; i <= toIndex; i++ {
		doc, err := s.collection.GetByID(ctx, chromemChunkID(documentID, i))
		if err != nil {
			continue // missing index, nothing stored there
		}
		hits = append(hits, chromemHit(doc.ID, doc.Content, doc.Metadata, 0))
	}
	return hits, nil
}

func (s *ChromemStore) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	before := s.collection.Count()
	if err := s.collection.Delete(ctx, map[string]string{"document_id": documentID}, nil); err != nil {
		return 0, fmt.Errorf("deleting document chunks: %w", err)
	}
	deleted := before - s.collection.Count()
	if deleted < 0 {
		deleted = 0
	}
	observeDelete(chromemDriverName, deleted)
	return deleted, nil
}

// Close is a no-op; persistent collections are flushed on every write.
func (s *ChromemStore) Close() error { return nil }

func metadataToStrings(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta)+4)
	for k, v := range meta {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func metadataFromStrings(meta map[string]string) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
