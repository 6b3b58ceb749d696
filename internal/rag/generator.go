package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/registry"
)

var (
	// ErrGenerationFailed wraps transport and upstream API failures.
	ErrGenerationFailed = errors.New("rag: llm generation failed")

	// ErrNoEndpoint is returned when neither the generator config nor
	// the model carries a chat endpoint.
	ErrNoEndpoint = errors.New("rag: no generation endpoint configured")
)

const (
	defaultGenerateTimeout   = 60 * time.Second
	defaultTemperature       = 0.7
	defaultGenerateMaxTokens = 1024

	// Retry policy for upstream calls, matching the embedding client:
	// three tries with exponential waits clamped to [2s, 10s].
	generateRetryAttempts = 3
)

// Variables so tests can shrink the waits.
var (
	generateBackoffBase = time.Second
	minGenerateDelay    = 2 * time.Second
	maxGenerateDelay    = 10 * time.Second
)

// Generation is one chat completion with its token usage.
type Generation struct {
	Answer           string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Generator produces an answer from a system prompt and a user prompt.
type Generator interface {
	Generate(ctx context.Context, model registry.Model, systemPrompt, userPrompt string) (Generation, error)
}

// GeneratorConfig holds the default chat endpoint. A catalog model
// carrying its own base URL and API key routes there instead.
type GeneratorConfig struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	Timeout    time.Duration

	// Temperature and MaxTokens apply to every request. Zero selects
	// the defaults.
	Temperature float64
	MaxTokens   int
}

// HTTPGenerator calls an OpenAI-compatible chat completions endpoint.
type HTTPGenerator struct {
	config GeneratorConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPGenerator builds a generator for cfg. The base URL may stay
// empty when every chat model carries its own endpoint.
func NewHTTPGenerator(cfg GeneratorConfig, logger *zap.Logger) *HTTPGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGenerateTimeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultGenerateMaxTokens
	}
	return &HTTPGenerator{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate asks the chat model for an answer, retrying transient
// upstream failures.
func (g *HTTPGenerator) Generate(ctx context.Context, model registry.Model, systemPrompt, userPrompt string) (gen Generation, err error) {
	endpoint, apiKey := g.endpointFor(model)
	if endpoint == "" {
		return Generation{}, ErrNoEndpoint
	}

	start := time.Now()
	defer func() { observeGenerate(start, err) }()

	err = generateWithRetry(ctx, generateRetryAttempts, func() error {
		var attemptErr error
		gen, attemptErr = g.doRequest(ctx, endpoint, apiKey, model.ID, systemPrompt, userPrompt)
		return attemptErr
	})
	if err != nil {
		return Generation{}, err
	}

	g.logger.Debug("generated answer",
		zap.String("model", model.ID),
		zap.Int("answer_chars", utf8.RuneCountInString(gen.Answer)),
		zap.Int("prompt_tokens", gen.PromptTokens),
		zap.Int("completion_tokens", gen.CompletionTokens),
		zap.Int("total_tokens", gen.TotalTokens))
	return gen, nil
}

// endpointFor prefers the model's own endpoint when it carries both a
// base URL and an API key.
func (g *HTTPGenerator) endpointFor(model registry.Model) (endpoint, apiKey string) {
	if model.BaseURL != "" && model.APIKey != "" {
		return model.BaseURL, model.APIKey
	}
	return g.config.BaseURL, g.config.APIKey
}

func (g *HTTPGenerator) doRequest(ctx context.Context, endpoint, apiKey, modelID, systemPrompt, userPrompt string) (Generation, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model: modelID,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
	})
	if err != nil {
		return Generation{}, fmt.Errorf("marshaling request: %w", err)
	}

	target := strings.TrimSuffix(endpoint, "/") + "/chat/completions"
	if g.config.APIVersion != "" {
		target += "?api-version=" + url.QueryEscape(g.config.APIVersion)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return Generation{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		// Bearer for OpenAI-compatible gateways, api-key for Azure.
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("api-key", apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Generation{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Generation{}, fmt.Errorf("%w: status %d: %s", ErrGenerationFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Generation{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Generation{}, fmt.Errorf("%w: response carried no choices", ErrGenerationFailed)
	}

	gen := Generation{Answer: parsed.Choices[0].Message.Content}
	if parsed.Usage != nil {
		gen.PromptTokens = parsed.Usage.PromptTokens
		gen.CompletionTokens = parsed.Usage.CompletionTokens
		gen.TotalTokens = parsed.Usage.TotalTokens
	}
	return gen, nil
}

// generateWithRetry runs op up to attempts times, waiting between
// failures. The last error is returned; context cancellation cuts the
// wait short.
func generateWithRetry(ctx context.Context, attempts int, op func() error) error {
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
		case <-time.After(generateRetryDelay(attempt)):
		}
	}
	return err
}

func generateRetryDelay(attempt int) time.Duration {
	delay := generateBackoffBase << uint(attempt-1)
	if delay < minGenerateDelay {
		delay = minGenerateDelay
	}
	if delay > maxGenerateDelay {
		delay = maxGenerateDelay
	}
	return delay
}
