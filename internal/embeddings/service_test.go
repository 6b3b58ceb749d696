package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/registry"
)

func echoEmbeddingsServer(t *testing.T, hits *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*hits = append(*hits, req.Model)

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"index": i, "embedding": []float32{1, 2}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
	}))
}

func TestServiceForModelDefaultEndpoint(t *testing.T) {
	var hits []string
	srv := echoEmbeddingsServer(t, &hits)
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, Dimension: 2}, nil)
	require.NoError(t, err)
	defer svc.Close()

	p, err := svc.ForModel(context.Background(), registry.Model{ID: "text-embedding-3-large"})
	require.NoError(t, err)

	_, _, err = p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"text-embedding-3-large"}, hits)
	assert.Equal(t, 2, p.Dimension())
}

func TestServiceForModelEndpointOverride(t *testing.T) {
	var defaultHits, overrideHits []string
	defaultSrv := echoEmbeddingsServer(t, &defaultHits)
	defer defaultSrv.Close()
	overrideSrv := echoEmbeddingsServer(t, &overrideHits)
	defer overrideSrv.Close()

	svc, err := NewService(Config{BaseURL: defaultSrv.URL, Dimension: 2}, nil)
	require.NoError(t, err)
	defer svc.Close()

	t.Run("base URL and key route to the model endpoint", func(t *testing.T) {
		p, err := svc.ForModel(context.Background(), registry.Model{
			ID:      "bge-m3",
			BaseURL: overrideSrv.URL,
			APIKey:  "sk-override",
		})
		require.NoError(t, err)

		_, _, err = p.EmbedQuery(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, []string{"bge-m3"}, overrideHits)
		assert.Empty(t, defaultHits)
	})

	t.Run("base URL without key stays on the default", func(t *testing.T) {
		p, err := svc.ForModel(context.Background(), registry.Model{
			ID:      "half-configured",
			BaseURL: overrideSrv.URL,
		})
		require.NoError(t, err)

		_, _, err = p.EmbedQuery(context.Background(), "q")
		require.NoError(t, err)
		assert.Contains(t, defaultHits, "half-configured")
	})
}

func TestServiceForModelCachesProviders(t *testing.T) {
	var hits []string
	srv := echoEmbeddingsServer(t, &hits)
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, Dimension: 2}, nil)
	require.NoError(t, err)
	defer svc.Close()

	first, err := svc.ForModel(context.Background(), registry.Model{ID: "a"})
	require.NoError(t, err)
	second, err := svc.ForModel(context.Background(), registry.Model{ID: "a"})
	require.NoError(t, err)
	assert.Same(t, first, second)

	other, err := svc.ForModel(context.Background(), registry.Model{ID: "b"})
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestServiceForModelRepointedEndpoint(t *testing.T) {
	var oldHits, newHits []string
	oldSrv := echoEmbeddingsServer(t, &oldHits)
	defer oldSrv.Close()
	newSrv := echoEmbeddingsServer(t, &newHits)
	defer newSrv.Close()

	svc, err := NewService(Config{BaseURL: oldSrv.URL, Dimension: 2}, nil)
	require.NoError(t, err)
	defer svc.Close()

	before, err := svc.ForModel(context.Background(), registry.Model{ID: "m", BaseURL: oldSrv.URL, APIKey: "k"})
	require.NoError(t, err)
	after, err := svc.ForModel(context.Background(), registry.Model{ID: "m", BaseURL: newSrv.URL, APIKey: "k"})
	require.NoError(t, err)
	assert.NotSame(t, before, after, "a repointed model must get a fresh provider")
}

func TestNewServiceValidatesConfig(t *testing.T) {
	_, err := NewService(Config{Provider: ProviderHTTP}, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService(Config{Provider: "grpc", BaseURL: "http://x", Dimension: 2}, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
