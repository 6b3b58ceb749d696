// Ragd is the retrieval-augmented generation daemon.
//
// The binary starts the document ingestion worker and the ops HTTP
// listener with full service initialization: PostgreSQL, the vector
// store, the ingestion queue, the Redis task cache, the model registry,
// and embeddings. With -mcp-stdio it additionally serves the
// agent-facing tool surface over stdin/stdout.
//
// Configuration is loaded from an optional YAML file layered under
// RAGD_-prefixed environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	ragd
//
//	# Configure via file and environment
//	RAGD_SERVER__PORT=9091 ragd -config ragd.yaml
//
//	# Serve tools to an MCP client over stdio
//	ragd -config ragd.yaml -mcp-stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/mcp"
	"github.com/fyrsmithlabs/ragd/internal/mcp/stdio"
	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/registry"
	"github.com/fyrsmithlabs/ragd/internal/sanitize"
	"github.com/fyrsmithlabs/ragd/internal/storage"
	"github.com/fyrsmithlabs/ragd/internal/taskcache"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragd/internal/webfetch"
	"github.com/fyrsmithlabs/ragd/internal/worker"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	stdioMode := flag.Bool("mcp-stdio", false, "serve the MCP tool surface over stdin/stdout")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragd           Start the ragd daemon\n")
			fmt.Fprintf(os.Stderr, "  ragd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, *stdioMode); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("ragd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Connects to infrastructure (PostgreSQL, vector store, queue, Redis)
//  4. Opens the model registry and embedding service
//  5. Wires the tool gateway, orchestrator, and rag pipeline
//  6. Starts the ingestion worker and the ops HTTP listener
//  7. In stdio mode, serves MCP tools until the client disconnects
//  8. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string, stdioMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if stdioMode {
		cfg.MCP.Stdio = true
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zlog := logger.Underlying()

	zlog.Info("Starting ragd",
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Driver),
		zap.String("queue", cfg.Queue.Driver),
		zap.Bool("mcp_stdio", cfg.MCP.Stdio),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	deps, err := initDependencies(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	zlog.Info("Dependencies initialized",
		zap.String("registry", deps.registry.Path()),
		zap.Bool("registry_watch", deps.watcher != nil))

	svcs, err := initServices(ctx, cfg, deps, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	zlog.Info("Services initialized",
		zap.Bool("worker_enabled", cfg.Worker.Enabled),
		zap.Bool("sanitize_enabled", cfg.Sanitize.Enabled))

	ops, err := ragdhttp.NewServer(deps.tasks, healthChecks(deps), zlog, &ragdhttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create ops listener: %w", err)
	}

	opsErr := make(chan error, 1)
	go func() {
		opsErr <- ops.Start()
	}()

	// Receives on nil channels block forever, so disabled components
	// simply never fire their select case.
	var workerErr chan error
	if cfg.Worker.Enabled {
		workerErr = make(chan error, 1)
		go func() {
			workerErr <- svcs.worker.Run(ctx)
		}()
	}

	var stdioErr chan error
	if cfg.MCP.Stdio {
		stdioErr = make(chan error, 1)
		mcpServer, err := stdio.NewServer(stdio.Services{
			RAG:     svcs.rag,
			Ingest:  svcs.submitter,
			Tasks:   deps.tasks,
			Gateway: svcs.gateway,
		}, zlog)
		if err != nil {
			return fmt.Errorf("failed to create stdio server: %w", err)
		}

		// Startup note to stderr; stdout carries the MCP protocol.
		fmt.Fprintf(os.Stderr, "ragd stdio mode started (ops listener on %s:%d)\n", cfg.Server.Host, cfg.Server.Port)

		go func() {
			stdioErr <- mcpServer.Run(ctx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-opsErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("ops listener failed: %w", err)
		}
	case err := <-workerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("worker failed: %w", err)
		}
	case err := <-stdioErr:
		// The MCP client disconnecting ends the process in stdio mode.
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("stdio server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("Ops listener shutdown failed", zap.Error(err))
	}

	return runErr
}

// initLogger builds the structured logger. In stdio mode logs move to
// stderr because stdout carries the MCP protocol.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	if cfg.MCP.Stdio {
		logCfg.Output = "stderr"
	}
	return logging.New(logCfg)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	telemetry *telemetry.Telemetry
	store     *storage.Store
	vectors   vectorstore.Store
	queue     queue.Queue
	tasks     *taskcache.Cache
	registry  *registry.Registry
	watcher   *registry.Watcher
	embedder  *embeddings.Service
	logger    *zap.Logger
}

// Close releases all infrastructure resources. Safe on a partially
// initialized struct, so init failures can reuse it.
func (d *dependencies) Close() {
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			d.logger.Warn("Queue close failed", zap.Error(err))
		}
	}
	if d.tasks != nil {
		if err := d.tasks.Close(); err != nil {
			d.logger.Warn("Task cache close failed", zap.Error(err))
		}
	}
	if d.embedder != nil {
		if err := d.embedder.Close(); err != nil {
			d.logger.Warn("Embedding service close failed", zap.Error(err))
		}
	}
	if d.vectors != nil {
		if err := d.vectors.Close(); err != nil {
			d.logger.Warn("Vector store close failed", zap.Error(err))
		}
	}
	if d.store != nil {
		d.store.Close()
	}
	if d.telemetry != nil {
		if err := d.telemetry.Shutdown(context.Background()); err != nil {
			d.logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Starts OTLP telemetry (inert when disabled)
//  2. Connects the PostgreSQL pool and bootstraps the schema
//  3. Builds the configured vector store driver
//  4. Connects the ingestion queue and the Redis task cache
//  5. Opens the model registry, optionally watching the file
//  6. Creates the embedding provider cache
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:         cfg.Telemetry.Enabled,
		Endpoint:        cfg.Telemetry.Endpoint,
		Protocol:        cfg.Telemetry.Protocol,
		ServiceName:     cfg.Telemetry.ServiceName,
		ServiceVersion:  cfg.Telemetry.ServiceVersion,
		Insecure:        cfg.Telemetry.Insecure,
		SampleRate:      cfg.Telemetry.SampleRate,
		MetricInterval:  cfg.Telemetry.MetricInterval,
		ShutdownTimeout: cfg.Telemetry.ShutdownTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	deps.telemetry = tel

	store, err := storage.New(ctx, storage.Config{
		DSN:      cfg.Database.DSN.Value(),
		MinConns: int32(cfg.Database.MinConns),
		MaxConns: int32(cfg.Database.MaxConns),
	}, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	deps.store = store

	if cfg.Database.Bootstrap {
		if err := store.Bootstrap(ctx, cfg.VectorStore.Dimension); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}

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
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	deps.vectors = vectors

	logger.Info("Vector store initialized",
		zap.String("driver", cfg.VectorStore.Driver),
		zap.Int("dimension", cfg.VectorStore.Dimension))

	q, err := queue.New(ctx, queue.Config{
		Driver:   queue.Driver(cfg.Queue.Driver),
		URL:      cfg.Queue.URL.Value(),
		Name:     cfg.Queue.Name,
		Prefetch: cfg.Queue.Prefetch,
	}, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to connect to queue: %w", err)
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
		return nil, fmt.Errorf("failed to connect to task cache: %w", err)
	}
	deps.tasks = tasks

	reg, err := registry.Open(cfg.Registry.Path, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to open model registry: %w", err)
	}
	deps.registry = reg

	// A watch failure degrades to manual reloads, it does not block
	// startup.
	if cfg.Registry.Watch {
		watcher, err := registry.NewWatcher(reg, logger)
		if err != nil {
			logger.Warn("Failed to create registry watcher", zap.Error(err))
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("Failed to start registry watcher", zap.Error(err))
		} else {
			deps.watcher = watcher
		}
	}

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
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}
	deps.embedder = embedder

	return deps, nil
}

// services holds all business services.
type services struct {
	catalog   *storage.Catalog
	gateway   *mcp.Gateway
	rag       *rag.Service
	worker    *worker.Worker
	submitter *worker.Submitter
}

// initServices wires the tool gateway, the orchestrator, the rag
// pipeline, and the ingestion worker on top of the dependencies.
func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	catalog := storage.NewCatalog(deps.store.Pool(), logger)
	if err := catalog.EnsureBuiltinTools(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed builtin tools: %w", err)
	}

	scrubber, err := sanitize.NewScrubber(sanitize.Config{Enabled: cfg.Sanitize.Enabled}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scrubber: %w", err)
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

	// Chat completions default to the same OpenAI-compatible endpoint
	// as embeddings; a registry model carrying its own base URL and
	// API key routes there instead.
	generator := rag.NewHTTPGenerator(rag.GeneratorConfig{
		BaseURL:    cfg.Embeddings.BaseURL,
		APIKey:     cfg.Embeddings.APIKey.Value(),
		APIVersion: cfg.Embeddings.APIVersion,
	}, logger)

	ragSvc, err := rag.New(rag.Config{
		TopK:                cfg.RAG.TopK,
		MinScore:            cfg.RAG.MinScore,
		Rerank:              cfg.RAG.Rerank,
		CandidateMultiplier: cfg.RAG.CandidateMultiplier,
		ExpandWindow:        cfg.RAG.ExpandWindow,
		GenerationModel:     cfg.RAG.GenerationModel,
		EmbeddingModel:      cfg.Worker.EmbeddingModel,
	}, rag.Dependencies{
		Tools:     tools,
		Models:    deps.registry,
		Providers: deps.embedder,
		Vectors:   deps.vectors,
		Generator: generator,
		Traces:    deps.store,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rag service: %w", err)
	}

	wrk, err := worker.New(worker.Config{
		Enabled:        cfg.Worker.Enabled,
		ChunkSize:      cfg.Worker.ChunkSize,
		Overlap:        cfg.Worker.Overlap,
		Strategy:       cfg.Worker.Strategy,
		EmbeddingModel: cfg.Worker.EmbeddingModel,
		UploadsDir:     cfg.Worker.UploadsDir,
	}, worker.Dependencies{
		Queue:     deps.queue,
		Documents: deps.store,
		Vectors:   deps.vectors,
		Models:    deps.registry,
		Providers: deps.embedder,
		Tasks:     deps.tasks,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize worker: %w", err)
	}

	submitter := worker.NewSubmitter(deps.queue, deps.store, deps.tasks, cfg.Worker.UploadsDir, logger)

	return &services{
		catalog:   catalog,
		gateway:   gateway,
		rag:       ragSvc,
		worker:    wrk,
		submitter: submitter,
	}, nil
}

// healthChecks lists the dependency pings surfaced by GET /health.
func healthChecks(deps *dependencies) []ragdhttp.HealthCheck {
	return []ragdhttp.HealthCheck{
		{Name: "database", Check: deps.store.Ping},
		{Name: "queue", Check: deps.queue.Ping},
		{Name: "taskcache", Check: deps.tasks.Ping},
	}
}
