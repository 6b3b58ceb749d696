package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Provider names accepted by NewProvider.
const (
	ProviderHTTP      = "http"
	ProviderFastEmbed = "fastembed"
)

var (
	// ErrEmptyInput is returned when a query text is empty.
	ErrEmptyInput = errors.New("embeddings: empty input")

	// ErrInvalidConfig is returned for unusable provider configuration.
	ErrInvalidConfig = errors.New("embeddings: invalid configuration")

	// ErrEmbeddingFailed wraps transport and upstream API failures.
	ErrEmbeddingFailed = errors.New("embeddings: generation failed")

	// ErrFastEmbedNotAvailable is returned when the binary was built
	// without CGO and the fastembed provider is requested.
	ErrFastEmbedNotAvailable = errors.New("embeddings: fastembed not available (built without CGO, use the http provider)")
)

// Usage reports token consumption for an embeddings call. Local
// providers report zeros.
type Usage struct {
	PromptTokens int
	TotalTokens  int
}

// Add accumulates another call's usage into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.TotalTokens += other.TotalTokens
}

// Provider generates embedding vectors for one model.
type Provider interface {
	// EmbedDocuments embeds passage texts. An empty slice is a no-op
	// returning no vectors and zero usage.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, Usage, error)

	// EmbedQuery embeds a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, Usage, error)

	// Dimension returns the vector width this provider produces.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// Config holds provider construction settings.
type Config struct {
	// Provider selects the backend: "http" (default) or "fastembed".
	Provider string

	// Model is the model identifier sent upstream or loaded locally.
	Model string

	// Dimension is the vector width the http provider reports. The
	// fastembed provider derives it from the model instead.
	Dimension int

	// BaseURL is the OpenAI-compatible API base, e.g.
	// http://localhost:8080/v1 (http provider only).
	BaseURL string

	// APIKey authenticates requests when set (http provider only).
	APIKey string

	// APIVersion is appended as an api-version query parameter for
	// Azure-style endpoints when set (http provider only).
	APIVersion string

	// Timeout bounds a single upstream request. Defaults to 30s.
	Timeout time.Duration

	// CacheDir is where fastembed stores downloaded model files.
	CacheDir string
}

// Validate checks settings that do not depend on the target model.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderHTTP, "":
		if c.BaseURL == "" {
			return fmt.Errorf("%w: base URL required for http provider", ErrInvalidConfig)
		}
		if c.Dimension <= 0 {
			return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
		}
	case ProviderFastEmbed:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	return nil
}

// FastEmbedConfig holds settings for the local ONNX provider.
type FastEmbedConfig struct {
	// Model is the embedding model to load, e.g. BAAI/bge-small-en-v1.5.
	Model string

	// CacheDir is the model file cache. Defaults to ./local_cache.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// NewProvider builds a provider for cfg bound to cfg.Model.
func NewProvider(ctx context.Context, cfg Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}

	switch cfg.Provider {
	case ProviderHTTP, "":
		return NewHTTPProvider(cfg, logger)
	case ProviderFastEmbed:
		return NewFastEmbedProvider(ctx, FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
