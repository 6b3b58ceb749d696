package stdio

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/deepthink"
	"github.com/fyrsmithlabs/ragd/internal/mcp"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/worker"
)

// AskParams defines parameters for the rag_ask tool.
type AskParams struct {
	Question        string   `json:"question" jsonschema:"The question to answer"`
	SessionID       string   `json:"session_id,omitempty" jsonschema:"Conversation session id (optional)"`
	DocumentIDs     []string `json:"document_ids,omitempty" jsonschema:"Restrict retrieval to these document ids (optional)"`
	EnableTools     bool     `json:"enable_tools,omitempty" jsonschema:"Fetch web evidence for URLs in the question"`
	EnableDeepThink bool     `json:"enable_deep_think,omitempty" jsonschema:"Run the deep-think reasoning pipeline"`
	MaxToolSteps    int      `json:"max_tool_steps,omitempty" jsonschema:"Tool invocation budget, 1-12 (optional)"`
	Model           string   `json:"model,omitempty" jsonschema:"Generation model id override (optional)"`
}

// SearchParams defines parameters for the rag_search tool.
type SearchParams struct {
	Query       string   `json:"query" jsonschema:"The retrieval query"`
	TopK        int      `json:"top_k,omitempty" jsonschema:"Maximum hits to return, 1-50 (default 5)"`
	MinScore    float64  `json:"min_score,omitempty" jsonschema:"Minimum cosine similarity score (default 0.5)"`
	DocumentIDs []string `json:"document_ids,omitempty" jsonschema:"Restrict retrieval to these document ids (optional)"`
}

// IngestParams defines parameters for the document_ingest tool.
type IngestParams struct {
	FileName string `json:"file_name" jsonschema:"Document file name including its extension"`
	Content  string `json:"content" jsonschema:"The document text"`
	Strategy string `json:"strategy,omitempty" jsonschema:"Chunking strategy: fixed, sentence, paragraph, parent_child, or pageindex (default fixed)"`
}

// TaskStatusParams defines parameters for the task_status tool.
type TaskStatusParams struct {
	TaskID string `json:"task_id" jsonschema:"The ingestion task id"`
}

// WebFetchParams defines parameters for the web_fetch tool.
type WebFetchParams struct {
	URL      string `json:"url" jsonschema:"The http/https URL to fetch"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"Maximum excerpt characters (optional)"`
}

// DeepThinkParams defines parameters for the deep_think tool.
type DeepThinkParams struct {
	Question   string   `json:"question" jsonschema:"The question to reason about"`
	Evidence   []string `json:"evidence,omitempty" jsonschema:"Evidence snippets to ground the reasoning (optional)"`
	Iterations int      `json:"iterations,omitempty" jsonschema:"Refinement iterations, 1-5 (optional)"`
}

// handleAsk answers a question through the full ask pipeline.
func (s *Server) handleAsk(ctx context.Context, req *mcpsdk.CallToolRequest, params *AskParams) (*mcpsdk.CallToolResult, any, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return nil, nil, fmt.Errorf("question cannot be empty")
	}

	resp, err := s.services.RAG.Ask(ctx, rag.Request{
		Question:        question,
		ModelID:         params.Model,
		SessionID:       params.SessionID,
		DocumentIDs:     params.DocumentIDs,
		EnableTools:     params.EnableTools,
		EnableDeepThink: params.EnableDeepThink,
		MaxToolSteps:    params.MaxToolSteps,
	})
	if err != nil {
		s.logger.Warn("rag_ask failed", zap.Error(err))
		return nil, nil, fmt.Errorf("ask failed: %w", err)
	}

	var b strings.Builder
	b.WriteString(resp.Answer)
	if len(resp.References) > 0 {
		b.WriteString("\n\nReferences:\n")
		for i, ref := range resp.References {
			fmt.Fprintf(&b, "[%d] %s (score %.4f", i+1, ref.DocumentName, ref.Score)
			if ref.IsExpanded {
				b.WriteString(", expanded")
			}
			b.WriteString(")\n")
		}
	}

	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: b.String()},
		},
	}
	return result, resp, nil
}

// handleSearch runs a retrieval-only query.
func (s *Server) handleSearch(ctx context.Context, req *mcpsdk.CallToolRequest, params *SearchParams) (*mcpsdk.CallToolResult, any, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, nil, fmt.Errorf("query cannot be empty")
	}

	hits, err := s.services.RAG.Search(ctx, rag.SearchRequest{
		Query:       query,
		TopK:        params.TopK,
		MinScore:    params.MinScore,
		DocumentIDs: params.DocumentIDs,
	})
	if err != nil {
		s.logger.Warn("rag_search failed", zap.Error(err))
		return nil, nil, fmt.Errorf("search failed: %w", err)
	}

	var text string
	if len(hits) == 0 {
		text = fmt.Sprintf("No chunks found for query: %s", query)
	} else {
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d chunk(s) for query: %s\n\n", len(hits), query)
		for i, hit := range hits {
			fmt.Fprintf(&b, "%d. [%s #%d] score %.4f", i+1, hit.DocumentID, hit.ChunkIndex, hit.Score)
			if hit.Expanded {
				b.WriteString(" (expanded)")
			}
			b.WriteString("\n")
			b.WriteString(excerpt(hit.Content, 300))
			b.WriteString("\n\n")
		}
		text = b.String()
	}

	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: text},
		},
	}
	return result, hits, nil
}

// handleIngest queues inline document content for ingestion.
func (s *Server) handleIngest(ctx context.Context, req *mcpsdk.CallToolRequest, params *IngestParams) (*mcpsdk.CallToolResult, any, error) {
	if strings.TrimSpace(params.FileName) == "" {
		return nil, nil, fmt.Errorf("file_name cannot be empty")
	}
	if strings.TrimSpace(params.Content) == "" {
		return nil, nil, fmt.Errorf("content cannot be empty")
	}

	res, err := s.services.Ingest.Submit(ctx, worker.SubmitRequest{
		FileName: params.FileName,
		Content:  []byte(params.Content),
		Strategy: params.Strategy,
		Source:   "mcp",
	})
	if err != nil {
		s.logger.Warn("document_ingest failed",
			zap.String("file_name", params.FileName),
			zap.Error(err))
		return nil, nil, fmt.Errorf("ingest failed: %w", err)
	}

	text := fmt.Sprintf("Document queued for ingestion\n\nTask: %s\nDocument: %s\nStrategy: %s\nBytes: %d",
		res.TaskID, res.DocumentID, res.Strategy, res.FileSizeBytes)
	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: text},
		},
	}
	return result, res, nil
}

// handleTaskStatus reads one ingestion task snapshot.
func (s *Server) handleTaskStatus(ctx context.Context, req *mcpsdk.CallToolRequest, params *TaskStatusParams) (*mcpsdk.CallToolResult, any, error) {
	taskID := strings.TrimSpace(params.TaskID)
	if taskID == "" {
		return nil, nil, fmt.Errorf("task_id cannot be empty")
	}

	snapshot, err := s.services.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("task lookup failed: %w", err)
	}

	status, _ := snapshot["status"].(string)
	encoded, _ := json.MarshalIndent(snapshot, "", "  ")
	text := fmt.Sprintf("Task %s: %s\n\n%s", taskID, status, encoded)
	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: text},
		},
	}
	return result, snapshot, nil
}

// handleWebFetch fetches a page through the gateway so the SSRF guard
// and scrubbing apply exactly as they do in the ask pipeline.
func (s *Server) handleWebFetch(ctx context.Context, req *mcpsdk.CallToolRequest, params *WebFetchParams) (*mcpsdk.CallToolResult, any, error) {
	if strings.TrimSpace(params.URL) == "" {
		return nil, nil, fmt.Errorf("url cannot be empty")
	}

	args := map[string]any{"url": params.URL}
	if params.MaxChars > 0 {
		args["maxChars"] = params.MaxChars
	}
	inv, err := s.services.Gateway.Invoke(ctx, mcp.ToolWebFetch, args, "mcp-stdio")
	if err != nil {
		return nil, nil, fmt.Errorf("fetch failed: %w", err)
	}

	title, _ := inv.OutputPayload["title"].(string)
	body, _ := inv.OutputPayload["excerpt"].(string)
	text := fmt.Sprintf("%s\n%s\n\n%s", title, params.URL, body)
	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: text},
		},
	}
	return result, inv.OutputPayload, nil
}

// handleDeepThink runs the reasoning pipeline directly; it is pure and
// needs no backing service.
func (s *Server) handleDeepThink(ctx context.Context, req *mcpsdk.CallToolRequest, params *DeepThinkParams) (*mcpsdk.CallToolResult, any, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return nil, nil, fmt.Errorf("question cannot be empty")
	}

	run := deepthink.Run(question, params.Evidence, params.Iterations)
	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: run.Summary},
		},
	}
	return result, run, nil
}

// excerpt truncates content for display, marking the cut.
func excerpt(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
