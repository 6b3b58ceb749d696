package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Driver names accepted by New.
const (
	DriverPgvector = "pgvector"
	DriverChromem  = "chromem"
	DriverQdrant   = "qdrant"
)

// Config selects and configures a vector store driver.
type Config struct {
	// Driver is one of pgvector, chromem, qdrant. Empty means pgvector.
	Driver string

	// Dimension is the vector width shared by all drivers. Driver-specific
	// dimensions override it when set.
	Dimension int

	Chromem ChromemConfig
	Qdrant  QdrantConfig
}

// New builds the configured Store. The pgvector driver reuses the given
// pool; the other drivers ignore it.
func New(ctx context.Context, cfg Config, pool *pgxpool.Pool, logger *zap.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", DriverPgvector:
		if pool == nil {
			return nil, fmt.Errorf("pgvector driver requires a database pool")
		}
		return NewPgStore(pool, cfg.Dimension, logger), nil
	case DriverChromem:
		chromemCfg := cfg.Chromem
		if chromemCfg.Dimension == 0 {
			chromemCfg.Dimension = cfg.Dimension
		}
		return NewChromemStore(chromemCfg, logger)
	case DriverQdrant:
		qdrantCfg := cfg.Qdrant
		if qdrantCfg.Dimension == 0 {
			qdrantCfg.Dimension = cfg.Dimension
		}
		return NewQdrantStore(ctx, qdrantCfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}
