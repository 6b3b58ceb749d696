package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shrinkRetryDelays(t *testing.T) {
	t.Helper()
	origBase, origMin, origMax := retryBackoffBase, minRetryDelay, maxRetryDelay
	retryBackoffBase = time.Millisecond
	minRetryDelay = time.Millisecond
	maxRetryDelay = 5 * time.Millisecond
	t.Cleanup(func() {
		retryBackoffBase = origBase
		minRetryDelay = origMin
		maxRetryDelay = origMax
	})
}

func embeddingsHandler(t *testing.T, vectors map[int][]float32, promptTokens, totalTokens int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, 0, len(req.Input))
		for i := range req.Input {
			data = append(data, map[string]any{"index": i, "embedding": vectors[i]})
		}
		resp := map[string]any{
			"data": data,
			"usage": map[string]int{
				"prompt_tokens": promptTokens,
				"total_tokens":  totalTokens,
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestHTTPProviderEmbedDocuments(t *testing.T) {
	var gotAuth, gotAPIKey, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("api-key")

		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"alpha", "beta"}, req.Input)
		gotModel = req.Model

		resp := map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{0.1, 0.2}},
				{"index": 1, "embedding": []float32{0.3, 0.4}},
			},
			"usage": map[string]int{"prompt_tokens": 7, "total_tokens": 7},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{
		BaseURL:   srv.URL,
		Model:     "text-embedding-3-large",
		Dimension: 2,
		APIKey:    "sk-test",
	}, nil)
	require.NoError(t, err)

	vectors, usage, err := p.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, []float32{0.3, 0.4}, vectors[1])
	assert.Equal(t, Usage{PromptTokens: 7, TotalTokens: 7}, usage)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "sk-test", gotAPIKey)
	assert.Equal(t, "text-embedding-3-large", gotModel)
}

func TestHTTPProviderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deliberately out of order; callers must get index order back.
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{1}},
				{"index": 0, "embedding": []float32{0}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{BaseURL: srv.URL, Model: "m", Dimension: 1}, nil)
	require.NoError(t, err)

	vectors, usage, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0}, {1}}, vectors)
	assert.Equal(t, Usage{}, usage)
}

func TestHTTPProviderEmbedQuery(t *testing.T) {
	srv := httptest.NewServer(embeddingsHandler(t, map[int][]float32{0: {0.5, 0.6}}, 3, 3))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{BaseURL: srv.URL, Model: "m", Dimension: 2}, nil)
	require.NoError(t, err)

	vector, usage, err := p.EmbedQuery(context.Background(), "what is ragd")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.6}, vector)
	assert.Equal(t, 3, usage.PromptTokens)
}

func TestHTTPProviderEmptyInput(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{BaseURL: srv.URL, Model: "m", Dimension: 2}, nil)
	require.NoError(t, err)

	vectors, usage, err := p.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Equal(t, Usage{}, usage)
	assert.Equal(t, int32(0), hits.Load(), "empty input must not call upstream")

	_, _, err = p.EmbedQuery(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, int32(0), hits.Load())
}

func TestHTTPProviderAPIVersion(t *testing.T) {
	var gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.URL.Query().Get("api-version")
		resp := map[string]any{"data": []map[string]any{{"index": 0, "embedding": []float32{1}}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{BaseURL: srv.URL, Model: "m", Dimension: 1, APIVersion: "2024-02-01"}, nil)
	require.NoError(t, err)

	_, _, err = p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", gotVersion)
}

func TestHTTPProviderRetriesTransientFailure(t *testing.T) {
	shrinkRetryDelays(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "upstream overloaded", http.StatusInternalServerError)
			return
		}
		resp := map[string]any{"data": []map[string]any{{"index": 0, "embedding": []float32{1}}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{BaseURL: srv.URL, Model: "m", Dimension: 1}, nil)
	require.NoError(t, err)

	vector, _, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vector)
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPProviderFailsAfterRetries(t *testing.T) {
	shrinkRetryDelays(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{BaseURL: srv.URL, Model: "m", Dimension: 1}, nil)
	require.NoError(t, err)

	_, _, err = p.EmbedDocuments(context.Background(), []string{"a"})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, int32(retryAttempts), hits.Load())
}

func TestHTTPProviderCountMismatch(t *testing.T) {
	shrinkRetryDelays(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"data": []map[string]any{{"index": 0, "embedding": []float32{1}}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{BaseURL: srv.URL, Model: "m", Dimension: 1}, nil)
	require.NoError(t, err)

	_, _, err = p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "got 1 embeddings for 2 inputs")
}

func TestNewHTTPProviderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing base URL", Config{Model: "m", Dimension: 2}},
		{"missing model", Config{BaseURL: "http://localhost:8080/v1", Dimension: 2}},
		{"zero dimension", Config{BaseURL: "http://localhost:8080/v1", Model: "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPProvider(tt.cfg, nil)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestHTTPProviderDimension(t *testing.T) {
	p, err := NewHTTPProvider(Config{BaseURL: "http://localhost:8080/v1", Model: "m", Dimension: 1536}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimension())
	assert.NoError(t, p.Close())
}
