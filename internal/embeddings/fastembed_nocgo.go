//go:build !cgo

package embeddings

import (
	"context"

	"go.uber.org/zap"
)

// FastEmbedProvider is a stub for binaries built without CGO.
type FastEmbedProvider struct{}

// NewFastEmbedProvider always fails without CGO.
func NewFastEmbedProvider(_ context.Context, _ FastEmbedConfig, _ *zap.Logger) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

// EmbedDocuments always fails without CGO.
func (p *FastEmbedProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, Usage, error) {
	return nil, Usage{}, ErrFastEmbedNotAvailable
}

// EmbedQuery always fails without CGO.
func (p *FastEmbedProvider) EmbedQuery(_ context.Context, _ string) ([]float32, Usage, error) {
	return nil, Usage{}, ErrFastEmbedNotAvailable
}

// Dimension returns 0 without CGO.
func (p *FastEmbedProvider) Dimension() int {
	return 0
}

// Close is a no-op without CGO.
func (p *FastEmbedProvider) Close() error {
	return nil
}
