package embeddings

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/ragd/internal/registry"
	"go.uber.org/zap"
)

// Service hands out providers per catalog model. Providers are built
// lazily and cached; construction of the same model is serialized so a
// local model is never loaded twice.
type Service struct {
	config Config
	logger *zap.Logger

	mu        sync.Mutex
	providers map[string]Provider
}

// NewService validates cfg and creates the provider cache.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		config:    cfg,
		logger:    logger,
		providers: make(map[string]Provider),
	}, nil
}

// ForModel returns the provider for a catalog model, building it on
// first use. With the http provider, a model carrying both a base URL
// and an API key routes to that endpoint instead of the default.
func (s *Service) ForModel(ctx context.Context, m registry.Model) (Provider, error) {
	cfg := s.config
	cfg.Model = m.ID
	if isHTTPProvider(cfg.Provider) && m.BaseURL != "" && m.APIKey != "" {
		cfg.BaseURL = m.BaseURL
		cfg.APIKey = m.APIKey
	}
	// Registry edits may repoint a model, so the endpoint is part of
	// the cache key.
	key := cfg.Model + "|" + cfg.BaseURL + "|" + cfg.APIKey

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.providers[key]; ok {
		return p, nil
	}
	p, err := NewProvider(ctx, cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.providers[key] = p
	return p, nil
}

// Close releases all cached providers.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, p := range s.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.providers = make(map[string]Provider)
	return errors.Join(errs...)
}

func isHTTPProvider(name string) bool {
	return name == ProviderHTTP || name == ""
}
