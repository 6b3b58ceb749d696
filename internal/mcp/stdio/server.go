// Package stdio serves the ragd tool surface over the MCP stdio
// transport so agent clients can retrieve, ask, and ingest without the
// ops HTTP listener.
//
// Architecture:
//
//	agent client → stdio (this server) → in-process ragd services
//
// The daemon owns the services already, so tool calls run in-process
// rather than being proxied over HTTP.
package stdio

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/mcp"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragd/internal/worker"
)

// RAGService answers questions and runs retrieval-only queries.
// Satisfied by *rag.Service.
type RAGService interface {
	Ask(ctx context.Context, req rag.Request) (*rag.Response, error)
	Search(ctx context.Context, req rag.SearchRequest) ([]vectorstore.Hit, error)
}

// Ingestor accepts documents into the ingestion pipeline. Satisfied by
// *worker.Submitter.
type Ingestor interface {
	Submit(ctx context.Context, req worker.SubmitRequest) (worker.SubmitResult, error)
}

// TaskReader looks up ingestion task snapshots. Satisfied by
// *taskcache.Cache.
type TaskReader interface {
	Get(ctx context.Context, taskID string) (map[string]any, error)
}

// Invoker executes catalog tools. Satisfied by *mcp.Gateway.
type Invoker interface {
	Invoke(ctx context.Context, toolName string, args map[string]any, traceID string) (mcp.Invocation, error)
}

// Services are the in-process collaborators behind the tool surface.
// Nil fields disable the corresponding tools.
type Services struct {
	RAG     RAGService
	Ingest  Ingestor
	Tasks   TaskReader
	Gateway Invoker
}

// Server exposes the ragd services as MCP tools over stdin/stdout.
type Server struct {
	mcpServer *mcpsdk.Server
	services  Services
	logger    *zap.Logger
}

// NewServer creates a stdio MCP server over the given services. At
// least one service must be present; a nil logger is replaced with a
// no-op logger.
func NewServer(services Services, logger *zap.Logger) (*Server, error) {
	if services.RAG == nil && services.Ingest == nil && services.Tasks == nil && services.Gateway == nil {
		return nil, fmt.Errorf("stdio: at least one service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "ragd",
		Version: "0.1.0",
	}, nil)

	s := &Server{
		mcpServer: mcpServer,
		services:  services,
		logger:    logger,
	}
	s.registerTools()

	return s, nil
}

// Run serves the MCP protocol on stdin/stdout until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("stdio: server error: %w", err)
	}
	return nil
}

// registerTools wires each available service into the tool catalog.
// Tools whose backing service is missing are not advertised at all, so
// clients never see a tool that cannot run.
func (s *Server) registerTools() {
	if s.services.RAG != nil {
		mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
			Name:        "rag_ask",
			Description: "Answer a question over the indexed documents. Retrieves relevant chunks, optionally gathers web evidence for URLs in the question, and generates an answer with numbered references.",
		}, s.handleAsk)

		mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
			Name:        "rag_search",
			Description: "Retrieve the most similar indexed chunks for a query without generating an answer. Supports scoping to specific document ids.",
		}, s.handleSearch)
	}

	if s.services.Ingest != nil {
		mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
			Name:        "document_ingest",
			Description: "Queue a text document for chunking, embedding, and indexing. Returns the task id to poll for completion.",
		}, s.handleIngest)
	}

	if s.services.Tasks != nil {
		mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
			Name:        "task_status",
			Description: "Read the status snapshot of an ingestion task: queued, processing, completed, or failed.",
		}, s.handleTaskStatus)
	}

	if s.services.Gateway != nil {
		mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
			Name:        "web_fetch",
			Description: "Fetch a public http/https page and return its title and text excerpt. Private and internal addresses are rejected.",
		}, s.handleWebFetch)
	}

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "deep_think",
		Description: "Run the plan/execute/reflect/verify reasoning pipeline over a question and optional evidence. Deterministic, no model calls.",
	}, s.handleDeepThink)
}
