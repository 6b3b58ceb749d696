package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultHTTPTimeout = 30 * time.Second

// Retry policy for upstream calls: three tries with exponential waits
// clamped to [2s, 10s]. Variables so tests can shrink the waits.
const retryAttempts = 3

var (
	retryBackoffBase = time.Second
	minRetryDelay    = 2 * time.Second
	maxRetryDelay    = 10 * time.Second
)

// HTTPProvider calls an OpenAI-compatible embeddings endpoint.
type HTTPProvider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewHTTPProvider creates a provider for cfg.BaseURL bound to cfg.Model.
func NewHTTPProvider(cfg Config, logger *zap.Logger) (*HTTPProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &HTTPProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage *struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbedDocuments embeds passage texts in one upstream request.
func (p *HTTPProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, Usage, error) {
	if len(texts) == 0 {
		return nil, Usage{}, nil
	}
	return p.embed(ctx, "embed_documents", texts)
}

// EmbedQuery embeds a single query text.
func (p *HTTPProvider) EmbedQuery(ctx context.Context, text string) ([]float32, Usage, error) {
	if text == "" {
		return nil, Usage{}, fmt.Errorf("%w: query text is empty", ErrEmptyInput)
	}
	vectors, usage, err := p.embed(ctx, "embed_query", []string{text})
	if err != nil {
		return nil, usage, err
	}
	return vectors[0], usage, nil
}

// Dimension returns the configured vector width.
func (p *HTTPProvider) Dimension() int {
	return p.config.Dimension
}

// Close is a no-op for the HTTP provider.
func (p *HTTPProvider) Close() error {
	return nil
}

func (p *HTTPProvider) embed(ctx context.Context, operation string, texts []string) (vectors [][]float32, usage Usage, err error) {
	start := time.Now()
	defer func() {
		observeEmbed(ProviderHTTP, operation, start, len(texts), usage, err)
	}()

	err = withRetry(ctx, retryAttempts, func() error {
		var attemptErr error
		vectors, usage, attemptErr = p.doRequest(ctx, texts)
		return attemptErr
	})
	if err != nil {
		return nil, Usage{}, err
	}

	dimension := 0
	if len(vectors) > 0 {
		dimension = len(vectors[0])
	}
	p.logger.Debug("generated embeddings",
		zap.String("model", p.config.Model),
		zap.Int("count", len(vectors)),
		zap.Int("dimension", dimension),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("total_tokens", usage.TotalTokens))
	return vectors, usage, nil
}

func (p *HTTPProvider) doRequest(ctx context.Context, texts []string) ([][]float32, Usage, error) {
	body, err := json.Marshal(embeddingsRequest{Input: texts, Model: p.config.Model})
	if err != nil {
		return nil, Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := strings.TrimSuffix(p.config.BaseURL, "/") + "/embeddings"
	if p.config.APIVersion != "" {
		endpoint += "?api-version=" + url.QueryEscape(p.config.APIVersion)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		// Bearer for OpenAI-compatible gateways, api-key for Azure.
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
		req.Header.Set("api-key", p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, Usage{}, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, Usage{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, Usage{}, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbeddingFailed, len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(parsed.Data))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, Usage{}, fmt.Errorf("%w: embedding index %d out of range", ErrEmbeddingFailed, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}

	var usage Usage
	if parsed.Usage != nil {
		usage = Usage{PromptTokens: parsed.Usage.PromptTokens, TotalTokens: parsed.Usage.TotalTokens}
	}
	return vectors, usage, nil
}

// withRetry runs op up to attempts times, waiting between failures.
// The last error is returned; context cancellation cuts the wait short.
func withRetry(ctx context.Context, attempts int, op func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay(attempt)):
		}
	}
	return err
}

func retryDelay(attempt int) time.Duration {
	delay := retryBackoffBase << uint(attempt-1)
	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
