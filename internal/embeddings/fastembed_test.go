//go:build cgo

package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelMapping(t *testing.T) {
	for name, model := range modelMapping {
		dim, ok := modelDimensions[model]
		assert.True(t, ok, "model %s has no dimension entry", name)
		assert.Greater(t, dim, 0)
	}
}

func TestNewFastEmbedProviderUnknownModel(t *testing.T) {
	_, err := NewFastEmbedProvider(context.Background(), FastEmbedConfig{Model: "no-such-model"}, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFastEmbedProviderEmbed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping fastembed test in short mode")
	}
	if ONNXLibraryPath() == "" {
		t.Skip("ONNX runtime not available")
	}

	ctx := context.Background()
	p, err := NewFastEmbedProvider(ctx, FastEmbedConfig{Model: "BAAI/bge-small-en-v1.5"}, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 384, p.Dimension())

	vectors, usage, err := p.EmbedDocuments(ctx, []string{"vector stores", "chunking strategies"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 384)
	assert.Equal(t, Usage{}, usage, "local models report no token usage")

	vector, _, err := p.EmbedQuery(ctx, "how are documents chunked")
	require.NoError(t, err)
	assert.Len(t, vector, 384)
}

func TestFastEmbedProviderEmptyInput(t *testing.T) {
	p := &FastEmbedProvider{}

	vectors, usage, err := p.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Equal(t, Usage{}, usage)

	_, _, err = p.EmbedQuery(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyInput)
}
