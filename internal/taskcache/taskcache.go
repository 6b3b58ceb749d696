// Package taskcache mirrors ingestion task state into Redis so clients
// can poll progress without touching the database. Entries are
// short-lived snapshots keyed by task id.
package taskcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no snapshot exists for a task id.
var ErrNotFound = errors.New("taskcache: task not found")

const (
	// DefaultTTL is how long task snapshots stay readable.
	DefaultTTL = time.Hour

	// DefaultKeyPrefix namespaces all cache keys.
	DefaultKeyPrefix = "ragd"
)

// Config configures the Redis connection and key layout.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
}

// Snapshot is the task state stored for polling clients. Extra entries
// are flattened into the stored JSON object alongside the fixed fields.
type Snapshot struct {
	TaskID     string
	DocumentID string
	Status     string
	TraceID    string
	Extra      map[string]any
}

func (s Snapshot) payload() map[string]any {
	payload := map[string]any{
		"taskId":     s.TaskID,
		"documentId": s.DocumentID,
		"status":     s.Status,
		"traceId":    s.TraceID,
	}
	for k, v := range s.Extra {
		payload[k] = v
	}
	return payload
}

// Cache stores task snapshots in Redis.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New dials Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	cfg.ApplyDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("taskcache: connecting to redis: %w", err)
	}
	cache := NewWithClient(client, cfg, logger)
	cache.logger.Info("task cache connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("prefix", cfg.KeyPrefix))
	return cache, nil
}

// NewWithClient wraps an existing Redis client. Used by tests and by
// callers that manage the client lifecycle themselves.
func NewWithClient(client redis.UniversalClient, cfg Config, logger *zap.Logger) *Cache {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

func (c *Cache) key(taskID string) string {
	return fmt.Sprintf("%s:task:%s", c.prefix, taskID)
}

// Put stores a task snapshot. Snapshots with an empty task id are
// silently skipped so callers can pass through optional ids.
func (c *Cache) Put(ctx context.Context, snap Snapshot) error {
	if snap.TaskID == "" {
		return nil
	}
	body, err := json.Marshal(snap.payload())
	if err != nil {
		return fmt.Errorf("taskcache: encoding snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key(snap.TaskID), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("taskcache: storing snapshot: %w", err)
	}
	return nil
}

// Get returns the stored snapshot for a task id. Returns ErrNotFound
// when the task is unknown or its snapshot has expired.
func (c *Cache) Get(ctx context.Context, taskID string) (map[string]any, error) {
	body, err := c.client.Get(ctx, c.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskcache: reading snapshot: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("taskcache: decoding snapshot: %w", err)
	}
	return payload, nil
}

// Ping reports whether the Redis connection is healthy.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
