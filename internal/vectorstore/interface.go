package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedDriver is returned by New for an unknown driver name.
	ErrUnsupportedDriver = errors.New("vectorstore: unsupported driver")

	// ErrEmptyEmbedding is returned when a chunk or query carries no vector.
	ErrEmptyEmbedding = errors.New("vectorstore: empty embedding")
)

const (
	// maxTopK bounds how many results a single search may return.
	maxTopK = 50

	// maxCandidates bounds the oversized candidate set fetched for reranking.
	maxCandidates = 200

	// maxCandidateMultiplier bounds the candidate multiplier.
	maxCandidateMultiplier = 20
)

// Hit is one search result.
type Hit struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Content    string
	Score      float64
	Metadata   map[string]any

	// ParentChunkID is the parent block key extracted from metadata, or a
	// synthesized range key when only the parent span is recorded. Empty
	// when the chunk has no parent.
	ParentChunkID string

	// Expanded marks sibling chunks pulled in by the rerank rather than
	// matched by the query itself.
	Expanded bool
}

// ChunkRecord is one chunk to persist, with its embedding.
type ChunkRecord struct {
	DocumentID string
	Index      int
	Content    string
	Embedding  []float32
	Metadata   map[string]any
	Model      string

	// TokenCount is the embedding token usage attributed to this chunk.
	// Zero when the provider does not report usage.
	TokenCount int
}

// SearchOptions controls a Search call. Zero values are clamped, not
// defaulted: a zero TopK becomes 1 and a zero CandidateMultiplier becomes
// 1. Use DefaultSearchOptions for the standard retrieval profile.
type SearchOptions struct {
	TopK     int
	MinScore float64

	// DocumentIDs scopes the search to the given documents. When the
	// scoped search yields nothing above MinScore, it is retried without
	// the threshold so callers still get best-effort context.
	DocumentIDs []string

	// CandidateMultiplier oversizes the candidate set for reranking.
	CandidateMultiplier int

	// ExpandWindow is how many sibling chunks to pull in on each side of a
	// hit. Clamped to [0, 3].
	ExpandWindow int

	DisableRerank bool
}

// DefaultSearchOptions returns the standard retrieval profile.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		TopK:                5,
		MinScore:            0.5,
		CandidateMultiplier: 6,
		ExpandWindow:        1,
	}
}

// searchBounds applies the clamps shared by every driver: topK in
// [1, maxTopK], multiplier in [1, maxCandidateMultiplier], candidates in
// [topK, maxCandidates].
func searchBounds(opts SearchOptions) (topK, candidateK int) {
	topK = opts.TopK
	if topK < 1 {
		topK = 1
	}
	if topK > maxTopK {
		topK = maxTopK
	}
	mult := opts.CandidateMultiplier
	if mult < 1 {
		mult = 1
	}
	if mult > maxCandidateMultiplier {
		mult = maxCandidateMultiplier
	}
	candidateK = topK * mult
	if candidateK < topK {
		candidateK = topK
	}
	if candidateK > maxCandidates {
		candidateK = maxCandidates
	}
	return topK, candidateK
}

// Store is the contract every vector backend implements.
//
// Neighbors is part of the contract because the parent/child rerank needs
// ordered sibling access regardless of driver.
type Store interface {
	// InsertChunk persists one chunk with its embedding and returns the
	// stored chunk ID.
	InsertChunk(ctx context.Context, rec ChunkRecord) (string, error)

	// DeleteDocumentChunks removes every chunk belonging to a document and
	// reports how many were removed.
	DeleteDocumentChunks(ctx context.Context, documentID string) (int, error)

	// Search returns the best-matching chunks for the query embedding.
	Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]Hit, error)

	// Neighbors returns a document's chunks with index in [fromIndex,
	// toIndex], ordered by index. Scores on the returned hits are zero.
	Neighbors(ctx context.Context, documentID string, fromIndex, toIndex int) ([]Hit, error)

	Close() error
}

// NormalizeDimension fits a vector to the configured dimension: oversized
// vectors are truncated, undersized ones zero-padded.
func NormalizeDimension(vec []float32, dim int) []float32 {
	if dim <= 0 || len(vec) == dim {
		return vec
	}
	if len(vec) > dim {
		return vec[:dim]
	}
	padded := make([]float32, dim)
	copy(padded, vec)
	return padded
}

// parentChunkKey extracts the parent block key from chunk metadata. Several
// spellings are accepted; when only the parent span is present a range key
// is synthesized from it.
func parentChunkKey(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	for _, key := range []string{"parentChunkId", "parent_chunk_id", "parentId", "parent_id"} {
		if v, ok := meta[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	start, okStart := metaLookup(meta, "parentStart", "parent_start")
	end, okEnd := metaLookup(meta, "parentEnd", "parent_end")
	if okStart && okEnd {
		return fmt.Sprintf("range:%v:%v", start, end)
	}
	return ""
}

func metaLookup(meta map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := meta[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// parseMetadata tolerantly decodes stored metadata. Anything that is not a
// JSON object comes back as an empty map.
func parseMetadata(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil || meta == nil {
		return map[string]any{}
	}
	return meta
}
