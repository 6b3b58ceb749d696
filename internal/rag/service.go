// Package rag answers questions over the indexed corpus: the tool
// phase rewrites the question, the query is embedded and searched, and
// a chat model generates the answer from the retrieved context. Every
// step is recorded as a skill call and the whole run is persisted as a
// retrieval trace.
package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/deepthink"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/mcp"
	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/registry"
	"github.com/fyrsmithlabs/ragd/internal/storage"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// ErrEmptyQuestion is returned before any side effect when a request
// carries no question text.
var ErrEmptyQuestion = errors.New("rag: question is empty")

// Skill names used in retrieval traces.
const (
	skillEmbedding = "mcp.embedding.generate"
	skillSearch    = "mcp.vector.search"
	skillGenerate  = "mcp.llm.generate"
)

// Prompts are part of the product surface and stay in its language.
const (
	ragSystemPrompt = `你是一个智能助手，根据提供的上下文信息回答用户问题。
请遵循以下规则：
1. 仅使用提供的上下文信息回答问题
2. 如果上下文信息不足以回答问题，请诚实告知
3. 回答要准确、简洁、有帮助
4. 在回答中引用相关的来源编号 [1], [2] 等

上下文信息：
%s
`

	chatSystemPrompt = `你是一个专业、可靠的 AI 助手。
请直接回答用户问题，表达清晰，避免编造信息。
`

	emptyContextNotice = "暂无相关上下文信息。"
)

// Failure reasons surfaced to the caller. Detail stays in the logs and
// the persisted trace.
const (
	failEmbedding  = "Embedding 调用失败"
	failSearch     = "向量检索失败"
	failGeneration = "LLM 生成失败"
)

// ExecutionError is returned when the ask pipeline fails after work has
// started. It carries the partial telemetry of the run so callers can
// surface Message while the rest lands in the trace.
type ExecutionError struct {
	// Message is the step-level failure reason shown to the caller.
	Message string

	SessionID        string
	TraceID          string
	ModelID          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	SkillCalls       []orchestrator.SkillCall

	// Err is the underlying cause.
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rag: %s: %v", e.Message, e.Err)
	}
	return "rag: " + e.Message
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Reference is one retrieved chunk cited in the answer.
type Reference struct {
	DocumentID    string  `json:"documentId"`
	DocumentName  string  `json:"documentName"`
	ChunkID       string  `json:"chunkId"`
	Score         float64 `json:"score"`
	ParentChunkID string  `json:"parentChunkId"`
	IsExpanded    bool    `json:"isExpanded"`
}

func (r Reference) asMap() map[string]any {
	return map[string]any{
		"documentId":    r.DocumentID,
		"documentName":  r.DocumentName,
		"chunkId":       r.ChunkID,
		"score":         r.Score,
		"parentChunkId": r.ParentChunkID,
		"isExpanded":    r.IsExpanded,
	}
}

// Request is one question entering the pipeline.
type Request struct {
	Question string

	// ModelID overrides the configured generation model.
	ModelID string

	// EmbeddingModelID overrides the configured query embedding model.
	// Queries must embed with the ingestion model to share its vector
	// space, so overriding is for operators who reindexed.
	EmbeddingModelID string

	// SessionID groups runs of one conversation. Empty derives a stable
	// id from the question.
	SessionID string

	// TraceID correlates the run across logs and traces. Empty
	// generates one.
	TraceID string

	// DocumentIDs scopes retrieval to the given documents.
	DocumentIDs []string

	EnableTools     bool
	EnableDeepThink bool

	// MaxToolSteps overrides the tool-step budget when non-zero.
	MaxToolSteps int
}

// Response is one answered question.
type Response struct {
	Answer           string                   `json:"answer"`
	References       []Reference              `json:"references"`
	SessionID        string                   `json:"sessionId"`
	TraceID          string                   `json:"traceId"`
	ModelID          string                   `json:"modelId"`
	PromptTokens     int                      `json:"promptTokens"`
	CompletionTokens int                      `json:"completionTokens"`
	TotalTokens      int                      `json:"totalTokens"`
	SkillCalls       []orchestrator.SkillCall `json:"skillCalls"`
}

// SearchRequest is one retrieval-only query.
type SearchRequest struct {
	Query            string
	EmbeddingModelID string
	TopK             int
	MinScore         float64
	DocumentIDs      []string
}

// Config tunes the pipeline.
type Config struct {
	TopK                int
	MinScore            float64
	Rerank              bool
	CandidateMultiplier int
	ExpandWindow        int

	// GenerationModel is the preferred chat model. Empty falls back to
	// the first online chat-capable catalog entry.
	GenerationModel string

	// EmbeddingModel is the preferred query embedding model. It should
	// match the ingestion model.
	EmbeddingModel string
}

// Orchestrator runs the tool phase for a question.
type Orchestrator interface {
	Orchestrate(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// ModelResolver picks catalog models by capability.
type ModelResolver interface {
	ResolveGeneration(preferredID string) (registry.Model, error)
	ResolveEmbedding(preferredID string) (registry.Model, error)
}

// ProviderSource hands out embedding providers per catalog model.
type ProviderSource interface {
	ForModel(ctx context.Context, m registry.Model) (embeddings.Provider, error)
}

// TraceStore persists retrieval traces and their per-step records.
type TraceStore interface {
	InsertRetrievalLog(ctx context.Context, rec storage.RetrievalLog) (int64, error)
	InsertSkillLogs(ctx context.Context, retrievalLogID int64, traceID, sessionID string, logs []storage.SkillLog) error
	InsertToolRun(ctx context.Context, rec storage.ToolRun) (int64, error)
	InsertDeepThinkRun(ctx context.Context, rec storage.DeepThinkRun) (int64, error)
}

// Dependencies are the collaborators a Service needs. Tools and Traces
// are optional: a nil Tools skips the tool phase, a nil Traces skips
// trace persistence.
type Dependencies struct {
	Tools     Orchestrator
	Models    ModelResolver
	Providers ProviderSource
	Vectors   vectorstore.Store
	Generator Generator
	Traces    TraceStore
}

func (d Dependencies) validate() error {
	if d.Models == nil {
		return errors.New("rag: model resolver is required")
	}
	if d.Providers == nil {
		return errors.New("rag: provider source is required")
	}
	if d.Vectors == nil {
		return errors.New("rag: vector store is required")
	}
	if d.Generator == nil {
		return errors.New("rag: generator is required")
	}
	return nil
}

// Service runs the ask pipeline.
type Service struct {
	config    Config
	tools     Orchestrator
	models    ModelResolver
	providers ProviderSource
	vectors   vectorstore.Store
	generator Generator
	traces    TraceStore
	logger    *zap.Logger
}

// New builds a Service. A nil logger is replaced with a no-op logger.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK < 1 {
		cfg.TopK = vectorstore.DefaultSearchOptions().TopK
	}
	if cfg.CandidateMultiplier < 1 {
		cfg.CandidateMultiplier = vectorstore.DefaultSearchOptions().CandidateMultiplier
	}
	return &Service{
		config:    cfg,
		tools:     deps.Tools,
		models:    deps.Models,
		providers: deps.Providers,
		vectors:   deps.Vectors,
		generator: deps.Generator,
		traces:    deps.Traces,
		logger:    logger,
	}, nil
}

// askTrace accumulates the telemetry of one run.
type askTrace struct {
	start     time.Time
	traceID   string
	sessionID string
	question  string
	modelID   string
	topK      int
	threshold float64

	skillCalls []orchestrator.SkillCall
	toolRuns   []mcp.Invocation
	deepRuns   []deepthink.StageResult

	promptTokens     int
	completionTokens int
	totalTokens      int
}

// Ask answers a question with retrieved context: tool phase, query
// embedding, vector search, and generation, in that order. On failure
// it persists the partial trace and returns an *ExecutionError whose
// Message is safe to show the caller.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	model, err := s.models.ResolveGeneration(s.generationModelID(req.ModelID))
	if err != nil {
		return nil, fmt.Errorf("rag: resolving generation model: %w", err)
	}

	t := &askTrace{
		start:     time.Now(),
		traceID:   resolveTraceID(req.TraceID),
		sessionID: resolveSessionID(req.SessionID, question),
		question:  question,
		modelID:   model.ID,
		topK:      s.config.TopK,
		threshold: s.config.MinScore,
	}

	// Tool phase. Failures here degrade to answering without web
	// evidence instead of failing the run.
	generationPrompt := question
	if s.tools != nil && (req.EnableTools || req.EnableDeepThink) {
		toolRes, err := s.tools.Orchestrate(ctx, orchestrator.Request{
			Question:        question,
			TraceID:         t.traceID,
			EnableTools:     req.EnableTools,
			EnableDeepThink: req.EnableDeepThink,
			MaxToolSteps:    req.MaxToolSteps,
		})
		if err != nil {
			s.logger.Warn("tool phase unavailable, answering without tools",
				zap.String("traceId", t.traceID),
				zap.Error(err))
		} else {
			t.skillCalls = append(t.skillCalls, toolRes.SkillCalls...)
			t.toolRuns = toolRes.ToolRuns
			t.deepRuns = toolRes.DeepThinkRuns
			generationPrompt = toolRes.RewrittenQuestion
		}
	}

	// Query embedding. The original question is embedded, not the
	// rewritten one: tool evidence belongs in the generation prompt but
	// would drown the query vector.
	embModelID := s.embeddingModelID(req.EmbeddingModelID)
	embStart := time.Now()
	vector, usage, err := s.embedQuestion(ctx, question, embModelID)
	embInput := fmt.Sprintf("chars=%d,model=%s", utf8.RuneCountInString(question), embModelID)
	if err != nil {
		t.skillCalls = append(t.skillCalls, failedCall(skillEmbedding, embStart, embInput, err))
		return nil, s.failAsk(ctx, t, failEmbedding, err)
	}
	t.promptTokens += usage.PromptTokens
	t.totalTokens += usage.TotalTokens
	t.skillCalls = append(t.skillCalls, orchestrator.SkillCall{
		SkillName:     skillEmbedding,
		Status:        mcp.StatusSuccess,
		LatencyMS:     latencyMS(embStart),
		PromptTokens:  usage.PromptTokens,
		TotalTokens:   usage.TotalTokens,
		InputSummary:  embInput,
		OutputSummary: fmt.Sprintf("dimension=%d", len(vector)),
	})

	// Vector search.
	searchStart := time.Now()
	hits, err := s.vectors.Search(ctx, vector, vectorstore.SearchOptions{
		TopK:                s.config.TopK,
		MinScore:            s.config.MinScore,
		DocumentIDs:         req.DocumentIDs,
		CandidateMultiplier: s.config.CandidateMultiplier,
		ExpandWindow:        s.config.ExpandWindow,
		DisableRerank:       !s.config.Rerank,
	})
	searchInput := s.searchSummary(req.DocumentIDs)
	if err != nil {
		t.skillCalls = append(t.skillCalls, failedCall(skillSearch, searchStart, searchInput, err))
		return nil, s.failAsk(ctx, t, failSearch, err)
	}
	t.skillCalls = append(t.skillCalls, orchestrator.SkillCall{
		SkillName:     skillSearch,
		Status:        mcp.StatusSuccess,
		LatencyMS:     latencyMS(searchStart),
		InputSummary:  searchInput,
		OutputSummary: fmt.Sprintf("hits=%d", len(hits)),
	})

	// Generation over the retrieved context.
	contextText := buildContext(hits)
	genStart := time.Now()
	gen, err := s.generator.Generate(ctx, model, fmt.Sprintf(ragSystemPrompt, contextText), generationPrompt)
	genInput := fmt.Sprintf("model=%s,context_chars=%d", model.ID, utf8.RuneCountInString(contextText))
	if err != nil {
		t.skillCalls = append(t.skillCalls, failedCall(skillGenerate, genStart, genInput, err))
		return nil, s.failAsk(ctx, t, failGeneration, err)
	}
	t.promptTokens += gen.PromptTokens
	t.completionTokens += gen.CompletionTokens
	t.totalTokens += gen.TotalTokens
	t.skillCalls = append(t.skillCalls, orchestrator.SkillCall{
		SkillName:        skillGenerate,
		Status:           mcp.StatusSuccess,
		LatencyMS:        latencyMS(genStart),
		PromptTokens:     gen.PromptTokens,
		CompletionTokens: gen.CompletionTokens,
		TotalTokens:      gen.TotalTokens,
		InputSummary:     genInput,
		OutputSummary:    fmt.Sprintf("answer_chars=%d", utf8.RuneCountInString(gen.Answer)),
	})

	references := buildReferences(hits)
	results := make([]map[string]any, len(references))
	for i, ref := range references {
		results[i] = ref.asMap()
	}
	s.persistTrace(ctx, t, mcp.StatusSuccess, "", results)
	observeAsk(modeRAG, mcp.StatusSuccess, t.start, len(hits))

	return &Response{
		Answer:           gen.Answer,
		References:       references,
		SessionID:        t.sessionID,
		TraceID:          t.traceID,
		ModelID:          model.ID,
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		TotalTokens:      t.totalTokens,
		SkillCalls:       t.skillCalls,
	}, nil
}

// Chat answers without retrieval: no tool phase, no embedding, no
// search, just the chat model.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	model, err := s.models.ResolveGeneration(s.generationModelID(req.ModelID))
	if err != nil {
		return nil, fmt.Errorf("rag: resolving generation model: %w", err)
	}

	t := &askTrace{
		start:     time.Now(),
		traceID:   resolveTraceID(req.TraceID),
		sessionID: resolveSessionID(req.SessionID, question),
		question:  question,
		modelID:   model.ID,
	}

	genStart := time.Now()
	gen, err := s.generator.Generate(ctx, model, chatSystemPrompt, question)
	genInput := fmt.Sprintf("model=%s,mode=chat-only", model.ID)
	if err != nil {
		t.skillCalls = append(t.skillCalls, failedCall(skillGenerate, genStart, genInput, err))
		return nil, s.failChat(ctx, t, err)
	}
	t.promptTokens = gen.PromptTokens
	t.completionTokens = gen.CompletionTokens
	t.totalTokens = gen.TotalTokens
	t.skillCalls = append(t.skillCalls, orchestrator.SkillCall{
		SkillName:        skillGenerate,
		Status:           mcp.StatusSuccess,
		LatencyMS:        latencyMS(genStart),
		PromptTokens:     gen.PromptTokens,
		CompletionTokens: gen.CompletionTokens,
		TotalTokens:      gen.TotalTokens,
		InputSummary:     genInput,
		OutputSummary:    fmt.Sprintf("answer_chars=%d", utf8.RuneCountInString(gen.Answer)),
	})

	s.persistTrace(ctx, t, mcp.StatusSuccess, "", nil)
	observeAsk(modeChat, mcp.StatusSuccess, t.start, 0)

	return &Response{
		Answer:           gen.Answer,
		References:       []Reference{},
		SessionID:        t.sessionID,
		TraceID:          t.traceID,
		ModelID:          model.ID,
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		TotalTokens:      t.totalTokens,
		SkillCalls:       t.skillCalls,
	}, nil
}

// Search embeds a query and returns the matching chunks without
// generation or trace persistence.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]vectorstore.Hit, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuestion
	}

	vector, _, err := s.embedQuestion(ctx, query, s.embeddingModelID(req.EmbeddingModelID))
	if err != nil {
		observeSearch(mcp.StatusFailed)
		return nil, fmt.Errorf("rag: embedding query: %w", err)
	}

	topK := req.TopK
	if topK < 1 {
		topK = s.config.TopK
	}
	minScore := req.MinScore
	if minScore <= 0 {
		minScore = s.config.MinScore
	}
	hits, err := s.vectors.Search(ctx, vector, vectorstore.SearchOptions{
		TopK:                topK,
		MinScore:            minScore,
		DocumentIDs:         req.DocumentIDs,
		CandidateMultiplier: s.config.CandidateMultiplier,
		ExpandWindow:        s.config.ExpandWindow,
		DisableRerank:       !s.config.Rerank,
	})
	if err != nil {
		observeSearch(mcp.StatusFailed)
		return nil, fmt.Errorf("rag: searching chunks: %w", err)
	}
	observeSearch(mcp.StatusSuccess)
	return hits, nil
}

// embedQuestion resolves the embedding model, builds its provider, and
// embeds the text. All three steps count as the embedding skill.
func (s *Service) embedQuestion(ctx context.Context, text, modelID string) ([]float32, embeddings.Usage, error) {
	model, err := s.models.ResolveEmbedding(modelID)
	if err != nil {
		return nil, embeddings.Usage{}, err
	}
	provider, err := s.providers.ForModel(ctx, model)
	if err != nil {
		return nil, embeddings.Usage{}, err
	}
	return provider.EmbedQuery(ctx, text)
}

func (s *Service) generationModelID(override string) string {
	if override != "" {
		return override
	}
	return s.config.GenerationModel
}

func (s *Service) embeddingModelID(override string) string {
	if override != "" {
		return override
	}
	return s.config.EmbeddingModel
}

func (s *Service) searchSummary(documentIDs []string) string {
	summary := fmt.Sprintf("top_k=%d,min_score=%v", s.config.TopK, s.config.MinScore)
	if len(documentIDs) > 0 {
		summary += fmt.Sprintf(",docs=%d", len(documentIDs))
	}
	if s.config.Rerank {
		summary += ",mode=parent-child"
	} else {
		summary += ",mode=flat"
	}
	return summary
}

// failAsk persists the failed trace and wraps the cause in an
// *ExecutionError.
func (s *Service) failAsk(ctx context.Context, t *askTrace, message string, cause error) error {
	s.logger.Error("ask pipeline failed",
		zap.String("traceId", t.traceID),
		zap.String("sessionId", t.sessionID),
		zap.String("step", message),
		zap.Error(cause))
	s.persistTrace(ctx, t, mcp.StatusFailed, fmt.Sprintf("%s: %v", message, cause), nil)
	observeAsk(modeRAG, mcp.StatusFailed, t.start, 0)
	return &ExecutionError{
		Message:          message,
		SessionID:        t.sessionID,
		TraceID:          t.traceID,
		ModelID:          t.modelID,
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		TotalTokens:      t.totalTokens,
		SkillCalls:       t.skillCalls,
		Err:              cause,
	}
}

func (s *Service) failChat(ctx context.Context, t *askTrace, cause error) error {
	s.logger.Error("chat generation failed",
		zap.String("traceId", t.traceID),
		zap.String("sessionId", t.sessionID),
		zap.Error(cause))
	s.persistTrace(ctx, t, mcp.StatusFailed, fmt.Sprintf("%s: %v", failGeneration, cause), nil)
	observeAsk(modeChat, mcp.StatusFailed, t.start, 0)
	return &ExecutionError{
		Message:    failGeneration,
		SessionID:  t.sessionID,
		TraceID:    t.traceID,
		ModelID:    t.modelID,
		SkillCalls: t.skillCalls,
		Err:        cause,
	}
}

// persistTrace writes the retrieval log and its per-step records.
// Best-effort: a trace that cannot be written is logged and dropped,
// never failing the run. The write is detached from the request
// context so a timed-out ask still leaves a trace.
func (s *Service) persistTrace(ctx context.Context, t *askTrace, status, errMsg string, results []map[string]any) {
	if s.traces == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	id, err := s.traces.InsertRetrievalLog(ctx, storage.RetrievalLog{
		TraceID:          t.traceID,
		SessionID:        t.sessionID,
		Question:         t.question,
		ModelID:          t.modelID,
		TopK:             t.topK,
		Threshold:        t.threshold,
		LatencyMS:        latencyMS(t.start),
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		TotalTokens:      t.totalTokens,
		MCPCallCount:     len(t.skillCalls),
		Status:           status,
		ErrorMessage:     errMsg,
		Results:          results,
	})
	if err != nil {
		s.logger.Warn("retrieval log write failed",
			zap.String("traceId", t.traceID),
			zap.Error(err))
		return
	}

	if len(t.skillCalls) > 0 {
		logs := make([]storage.SkillLog, len(t.skillCalls))
		for i, call := range t.skillCalls {
			logs[i] = storage.SkillLog{
				SkillName:        call.SkillName,
				Status:           call.Status,
				LatencyMS:        call.LatencyMS,
				PromptTokens:     call.PromptTokens,
				CompletionTokens: call.CompletionTokens,
				TotalTokens:      call.TotalTokens,
				InputSummary:     call.InputSummary,
				OutputSummary:    call.OutputSummary,
				ErrorMessage:     call.ErrorMessage,
			}
		}
		if err := s.traces.InsertSkillLogs(ctx, id, t.traceID, t.sessionID, logs); err != nil {
			s.logger.Warn("skill log write failed",
				zap.String("traceId", t.traceID),
				zap.Error(err))
		}
	}

	for _, run := range t.toolRuns {
		_, err := s.traces.InsertToolRun(ctx, storage.ToolRun{
			RetrievalLogID: &id,
			TraceID:        t.traceID,
			SessionID:      t.sessionID,
			ToolName:       run.ToolName,
			Source:         run.Source,
			Status:         run.Status,
			LatencyMS:      run.LatencyMS,
			InputSummary:   run.InputSummary,
			OutputSummary:  run.OutputSummary,
			OutputPayload:  run.OutputPayload,
			ErrorMessage:   run.ErrorMessage,
		})
		if err != nil {
			s.logger.Warn("tool run write failed",
				zap.String("traceId", t.traceID),
				zap.String("tool", run.ToolName),
				zap.Error(err))
		}
	}

	for _, stage := range t.deepRuns {
		_, err := s.traces.InsertDeepThinkRun(ctx, storage.DeepThinkRun{
			RetrievalLogID: &id,
			TraceID:        t.traceID,
			SessionID:      t.sessionID,
			Stage:          stage.Stage,
			Status:         stage.Status,
			LatencyMS:      int(stage.LatencyMS),
			InputSummary:   stage.InputSummary,
			OutputSummary:  stage.OutputSummary,
			Payload:        stage.Payload,
			ErrorMessage:   stage.ErrorMessage,
		})
		if err != nil {
			s.logger.Warn("deep think run write failed",
				zap.String("traceId", t.traceID),
				zap.String("stage", stage.Stage),
				zap.Error(err))
		}
	}
}

// buildContext renders hits as numbered blocks for the system prompt.
func buildContext(hits []vectorstore.Hit) string {
	if len(hits) == 0 {
		return emptyContextNotice
	}
	parts := make([]string, len(hits))
	for i, hit := range hits {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, hit.Content)
	}
	return strings.Join(parts, "\n\n")
}

// buildReferences renders hits as citations, scores rounded to four
// decimals.
func buildReferences(hits []vectorstore.Hit) []Reference {
	references := make([]Reference, 0, len(hits))
	for _, hit := range hits {
		name := hit.DocumentID
		if v, ok := hit.Metadata["file_name"].(string); ok && v != "" {
			name = v
		}
		references = append(references, Reference{
			DocumentID:    hit.DocumentID,
			DocumentName:  name,
			ChunkID:       hit.ChunkID,
			Score:         math.Round(hit.Score*10000) / 10000,
			ParentChunkID: hit.ParentChunkID,
			IsExpanded:    hit.Expanded,
		})
	}
	return references
}

func failedCall(skill string, start time.Time, input string, err error) orchestrator.SkillCall {
	return orchestrator.SkillCall{
		SkillName:    skill,
		Status:       mcp.StatusFailed,
		LatencyMS:    latencyMS(start),
		InputSummary: input,
		ErrorMessage: err.Error(),
	}
}

func latencyMS(start time.Time) int {
	return int(time.Since(start).Milliseconds())
}

func resolveTraceID(traceID string) string {
	if traceID != "" {
		return traceID
	}
	return uuid.NewString()
}

// resolveSessionID keeps an explicit session id and otherwise derives a
// stable one from the question, so retries of the same question group
// together.
func resolveSessionID(sessionID, question string) string {
	if sessionID != "" {
		return sessionID
	}
	h := fnv.New32a()
	h.Write([]byte(question))
	return fmt.Sprintf("session-%06d", h.Sum32()%1000000)
}
