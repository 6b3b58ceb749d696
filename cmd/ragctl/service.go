package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/mcp"
	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/registry"
	"github.com/fyrsmithlabs/ragd/internal/sanitize"
	"github.com/fyrsmithlabs/ragd/internal/storage"
	"github.com/fyrsmithlabs/ragd/internal/taskcache"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragd/internal/webfetch"
	"github.com/fyrsmithlabs/ragd/internal/worker"
)

// ragDeps bundles the infrastructure a local command builds from the
// daemon configuration. Close is safe on a partially initialized
// struct.
type ragDeps struct {
	store    *storage.Store
	vectors  vectorstore.Store
	queue    queue.Queue
	tasks    *taskcache.Cache
	registry *registry.Registry
	embedder *embeddings.Service
	logger   *zap.Logger
}

func (d *ragDeps) Close() {
	if d.queue != nil {
		_ = d.queue.Close()
	}
	if d.tasks != nil {
		_ = d.tasks.Close()
	}
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
	if d.vectors != nil {
		_ = d.vectors.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
}

// quietLogger returns a console logger at warn level on stderr so
// command output stays readable.
func quietLogger() (*zap.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Level = zapcore.WarnLevel
	logCfg.Format = "console"
	logCfg.Output = "stderr"

	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger.Underlying(), nil
}

// initSubmitter wires the document submitter: queue, document store,
// and task cache.
func initSubmitter(ctx context.Context, cfg *config.Config) (*worker.Submitter, *ragDeps, error) {
	logger, err := quietLogger()
	if err != nil {
		return nil, nil, err
	}
	deps := &ragDeps{logger: logger}

	store, err := storage.New(ctx, storage.Config{
		DSN:      cfg.Database.DSN.Value(),
		MinConns: int32(cfg.Database.MinConns),
		MaxConns: int32(cfg.Database.MaxConns),
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	deps.store = store

	q, err := queue.New(ctx, queue.Config{
		Driver:   queue.Driver(cfg.Queue.Driver),
		URL:      cfg.Queue.URL.Value(),
		Name:     cfg.Queue.Name,
		Prefetch: cfg.Queue.Prefetch,
	}, logger)
	if err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("failed to connect to queue: %w", err)
	}
	deps.queue = q

	tasks, err := taskcache.New(ctx, taskcache.Config{
		Addr:      cfg.TaskCache.Addr,
		Password:  cfg.TaskCache.Password.Value(),
		DB:        cfg.TaskCache.DB,
		KeyPrefix: cfg.TaskCache.KeyPrefix,
		TTL:       cfg.TaskCache.TTL,
	}, logger)
	if err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("failed to connect to task cache: %w", err)
	}
	deps.tasks = tasks

	submitter := worker.NewSubmitter(q, store, tasks, cfg.Worker.UploadsDir, logger)
	return submitter, deps, nil
}

// initRAGService wires the full retrieval pipeline the way the daemon
// does: vector store, model registry, embeddings, tool gateway, and
// generator.
func initRAGService(ctx context.Context, cfg *config.Config) (*rag.Service, *ragDeps, error) {
	logger, err := quietLogger()
	if err != nil {
		return nil, nil, err
	}
	deps := &ragDeps{logger: logger}

	store, err := storage.New(ctx, storage.Config{
		DSN:      cfg.Database.DSN.Value(),
		MinConns: int32(cfg.Database.MinConns),
		MaxConns: int32(cfg.Database.MaxConns),
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	deps.store = store

	vectors, err := vectorstore.New(ctx, vectorstore.Config{
		Driver:    cfg.VectorStore.Driver,
		Dimension: cfg.VectorStore.Dimension,
		Chromem: vectorstore.ChromemConfig{
			Path:       cfg.VectorStore.Chromem.Path,
			Collection: cfg.VectorStore.Chromem.Collection,
			Compress:   cfg.VectorStore.Chromem.Compress,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			APIKey:     cfg.VectorStore.Qdrant.APIKey.Value(),
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
			Collection: cfg.VectorStore.Qdrant.Collection,
		},
	}, store.Pool(), logger)
	if err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	deps.vectors = vectors

	reg, err := registry.Open(cfg.Registry.Path, logger)
	if err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("failed to open model registry: %w", err)
	}
	deps.registry = reg

	embedder, err := embeddings.NewService(embeddings.Config{
		Provider:   cfg.Embeddings.Provider,
		Dimension:  cfg.VectorStore.Dimension,
		BaseURL:    cfg.Embeddings.BaseURL,
		APIKey:     cfg.Embeddings.APIKey.Value(),
		APIVersion: cfg.Embeddings.APIVersion,
		Timeout:    cfg.Embeddings.Timeout,
	}, logger)
	if err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("failed to create embedding service: %w", err)
	}
	deps.embedder = embedder

	catalog := storage.NewCatalog(store.Pool(), logger)
	if err := catalog.EnsureBuiltinTools(ctx); err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("failed to seed builtin tools: %w", err)
	}

	scrubber, err := sanitize.NewScrubber(sanitize.Config{Enabled: cfg.Sanitize.Enabled}, logger)
	if err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("failed to initialize scrubber: %w", err)
	}

	fetcher := webfetch.New(webfetch.Config{UserAgent: cfg.WebFetch.UserAgent}, logger)

	gateway := mcp.NewGateway(catalog, fetcher, scrubber, mcp.GatewayConfig{
		WebFetchTimeout:  cfg.WebFetch.Timeout,
		WebFetchMaxChars: cfg.WebFetch.MaxChars,
	}, logger)

	tools := orchestrator.New(catalog, gateway, orchestrator.Config{
		MaxSteps:            cfg.RAG.MaxSteps,
		DeepThinkIterations: cfg.RAG.DeepThinkIterations,
		WebFetchMaxChars:    cfg.WebFetch.MaxChars,
	}, logger)

	generator := rag.NewHTTPGenerator(rag.GeneratorConfig{
		BaseURL:    cfg.Embeddings.BaseURL,
		APIKey:     cfg.Embeddings.APIKey.Value(),
		APIVersion: cfg.Embeddings.APIVersion,
	}, logger)

	svc, err := rag.New(rag.Config{
		TopK:                cfg.RAG.TopK,
		MinScore:            cfg.RAG.MinScore,
		Rerank:              cfg.RAG.Rerank,
		CandidateMultiplier: cfg.RAG.CandidateMultiplier,
		ExpandWindow:        cfg.RAG.ExpandWindow,
		GenerationModel:     cfg.RAG.GenerationModel,
		EmbeddingModel:      cfg.Worker.EmbeddingModel,
	}, rag.Dependencies{
		Tools:     tools,
		Models:    reg,
		Providers: embedder,
		Vectors:   vectors,
		Generator: generator,
		Traces:    store,
	}, logger)
	if err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("failed to initialize rag service: %w", err)
	}

	return svc, deps, nil
}
