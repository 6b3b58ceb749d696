package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const qdrantDriverName = "qdrant"

// QdrantConfig configures the external qdrant driver.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// Collection is the qdrant collection name.
	Collection string

	// Dimension is the vector width the collection is created with.
	Dimension int

	// MaxMessageSize caps gRPC message sizes in bytes.
	MaxMessageSize int
}

// ApplyDefaults fills in zero values.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "ragd_chunks"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 * 1024 * 1024
	}
}

// Validate checks required fields.
func (c QdrantConfig) Validate() error {
	if c.Dimension < 1 {
		return fmt.Errorf("qdrant dimension must be positive, got %d", c.Dimension)
	}
	return nil
}

// QdrantStore talks to an external qdrant instance over gRPC. Chunk
// metadata rides along as a JSON payload field; document ID and chunk
// index are top-level payload keys so scoping and sibling lookups can
// filter on them.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantStore connects to qdrant and ensures the collection exists with
// cosine distance.
func NewQdrantStore(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	store := &QdrantStore{client: client, config: config, logger: logger}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Int("dimension", config.Dimension),
	)
	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

func (s *QdrantStore) InsertChunk(ctx context.Context, rec ChunkRecord) (string, error) {
	var err error
	defer func() { observeInsert(qdrantDriverName, err) }()

	if len(rec.Embedding) == 0 {
		err = ErrEmptyEmbedding
		return "", err
	}

	model := rec.Model
	if model == "" {
		model = "unknown"
	}
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding chunk metadata: %w", err)
	}

	payload := map[string]*qdrant.Value{
		"document_id": {Kind: &qdrant.Value_StringValue{StringValue: rec.DocumentID}},
		"chunk_index": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(rec.Index)}},
		"content":     {Kind: &qdrant.Value_StringValue{StringValue: rec.Content}},
		"model_id":    {Kind: &qdrant.Value_StringValue{StringValue: model}},
		"metadata":    {Kind: &qdrant.Value_StringValue{StringValue: string(metaJSON)}},
	}
	if rec.TokenCount > 0 {
		payload["token_count"] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(rec.TokenCount)}}
	}

	pointID := uuid.New().String()
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(NormalizeDimension(rec.Embedding, s.config.Dimension)...),
			Payload: payload,
		}},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return "", fmt.Errorf("upserting point: %w", err)
	}
	return pointID, nil
}

func (s *QdrantStore) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]Hit, error) {
	start := time.Now()
	var (
		hits []Hit
		err  error
	)
	defer func() { observeSearch(qdrantDriverName, start, len(hits), err) }()

	if len(embedding) == 0 {
		err = ErrEmptyEmbedding
		return nil, err
	}

	_, candidateK := searchBounds(opts)
	vec := NormalizeDimension(embedding, s.config.Dimension)
	filter := documentScopeFilter(opts.DocumentIDs)

	points, err := s.query(ctx, vec, candidateK, filter, &opts.MinScore)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 && filter != nil {
		s.logger.Info("no scoped hits above threshold, retrying without threshold",
			zap.Int("documents", len(opts.DocumentIDs)),
			zap.Float64("min_score", opts.MinScore),
		)
		points, err = s.query(ctx, vec, candidateK, filter, nil)
		if err != nil {
			return nil, err
		}
	}

	candidates := make([]Hit, 0, len(points))
	for _, p := range points {
		h := qdrantHit(p.Id.GetUuid(), p.Payload)
		h.Score = float64(p.Score)
		candidates = append(candidates, h)
	}

	hits, err = finishSearch(ctx, s, candidates, opts)
	return hits, err
}

func (s *QdrantStore) query(ctx context.Context, vec []float32, limit int, filter *qdrant.Filter, minScore *float64) ([]*qdrant.ScoredPoint, error) {
	req := &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	}
	if minScore != nil {
		req.ScoreThreshold = qdrant.PtrOf(float32(*minScore))
	}
	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}
	return points, nil
}

func documentScopeFilter(documentIDs []string) *qdrant.Filter {
	if len(documentIDs) == 0 {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "document_id",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: documentIDs},
						},
					},
				},
			},
		}},
	}
}

func qdrantHit(id string, payload map[string]*qdrant.Value) Hit {
	h := Hit{ChunkID: id, Metadata: map[string]any{}}
	if payload == nil {
		return h
	}
	h.DocumentID = payload["document_id"].GetStringValue()
	h.ChunkIndex = int(payload["chunk_index"].GetIntegerValue())
	h.Content = payload["content"].GetStringValue()
	if raw := payload["metadata"].GetStringValue(); raw != "" {
		h.Metadata = parseMetadata([]byte(raw))
	}
	h.ParentChunkID = parentChunkKey(h.Metadata)
	return h
}

func (s *QdrantStore) Neighbors(ctx context.Context, documentID string, fromIndex, toIndex int) ([]Hit, error) {
	if toIndex < fromIndex {
		return nil, nil
	}
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "document_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: documentID},
						},
					},
				},
			},
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "chunk_index",
						Range: &qdrant.Range{
							Gte: qdrant.PtrOf(float64(fromIndex)),
							Lte: qdrant.PtrOf(float64(toIndex)),
						},
					},
				},
			},
		},
	}
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.config.Collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(toIndex - fromIndex + 1)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("scrolling neighbors: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, qdrantHit(p.Id.GetUuid(), p.Payload))
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ChunkIndex < hits[j].ChunkIndex })
	return hits, nil
}

func (s *QdrantStore) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "document_id",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: documentID},
					},
				},
			},
		}},
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.config.Collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting document chunks: %w", err)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("deleting document chunks: %w", err)
	}

	deleted := int(count)
	observeDelete(qdrantDriverName, deleted)
	return deleted, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
