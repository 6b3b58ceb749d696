// Package orchestrator coordinates the tool phase of a question: URL
// extraction, web-fetch invocations through the MCP gateway, and the
// deep-think pipeline. Its result carries the rewritten question handed
// to generation plus the per-call records the ask pipeline persists.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/deepthink"
	"github.com/fyrsmithlabs/ragd/internal/mcp"
)

const (
	// maxToolSteps caps tool invocations per question regardless of the
	// requested budget.
	maxToolSteps = 12

	// evidenceExcerptRunes caps excerpt length in deep-think evidence
	// lines.
	evidenceExcerptRunes = 1200

	// promptExcerptRunes caps excerpt length quoted into the rewritten
	// question.
	promptExcerptRunes = 1800
)

var urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

// webIntentKeywords mark questions that ask for web content even when
// they carry no explicit URL.
var webIntentKeywords = []string{"网页", "网站", "链接", "url", "http://", "https://", "看看", "查看"}

// SkillCall is one orchestration step as recorded in the retrieval
// trace: a tool invocation, a missing-input miss, or the deep-think
// pipeline summary step.
type SkillCall struct {
	SkillName        string `json:"skillName"`
	Status           string `json:"status"`
	LatencyMS        int    `json:"latencyMs"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	TotalTokens      int    `json:"totalTokens"`
	InputSummary     string `json:"inputSummary"`
	OutputSummary    string `json:"outputSummary"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
}

// WebSource is one fetched page quoted as evidence.
type WebSource struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
}

// Result is the outcome of the tool phase for one question.
type Result struct {
	RewrittenQuestion string                  `json:"rewrittenQuestion"`
	SkillCalls        []SkillCall             `json:"skillCalls"`
	ToolRuns          []mcp.Invocation        `json:"toolRuns"`
	DeepThinkSummary  string                  `json:"deepThinkSummary,omitempty"`
	DeepThinkRuns     []deepthink.StageResult `json:"deepThinkRuns"`
	WebSources        []WebSource             `json:"webSources"`
}

// Request describes one question entering the tool phase.
type Request struct {
	Question        string
	TraceID         string
	EnableTools     bool
	EnableDeepThink bool

	// MaxToolSteps overrides the configured step budget when non-zero.
	MaxToolSteps int
}

// Config tunes an Orchestrator.
type Config struct {
	// MaxSteps is the tool-step budget applied when a request carries
	// none. Budgets are clamped to [1, 12].
	MaxSteps int

	// DeepThinkIterations bounds the deep-think refinement loop.
	DeepThinkIterations int

	// WebFetchMaxChars is the excerpt budget passed to the web-fetch
	// tool. Zero uses the gateway's default.
	WebFetchMaxChars int
}

// Orchestrator drives tool usage for a single question.
type Orchestrator struct {
	registry mcp.Registry
	gateway  *mcp.Gateway
	config   Config
	logger   *zap.Logger
}

// New builds an Orchestrator. A nil logger is replaced with a no-op
// logger.
func New(registry mcp.Registry, gateway *mcp.Gateway, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		gateway:  gateway,
		config:   cfg,
		logger:   logger,
	}
}

// Orchestrate runs the tool phase: it refreshes the builtin catalog,
// fetches web evidence for URLs found in the question, optionally runs
// the deep-think pipeline over that evidence, and rewrites the question
// with whatever was gathered. Tool failures are recorded in the result
// rather than returned; the only error is a catalog refresh failure.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (*Result, error) {
	if err := o.registry.EnsureBuiltinTools(ctx); err != nil {
		return nil, fmt.Errorf("orchestrator: ensure builtin tools: %w", err)
	}

	res := &Result{RewrittenQuestion: req.Question}

	var evidence []string
	urls := extractURLs(req.Question)
	if req.EnableTools && (len(urls) > 0 || wantsWebContext(req.Question)) {
		evidence = o.collectWebEvidence(ctx, req.TraceID, urls, o.stepBudget(req.MaxToolSteps), res)
	}

	if req.EnableDeepThink {
		deep := deepthink.Run(req.Question, evidence, o.config.DeepThinkIterations)
		res.DeepThinkSummary = deep.Summary
		res.DeepThinkRuns = deep.Stages

		var latency int64
		for _, stage := range deep.Stages {
			latency += stage.LatencyMS
		}
		res.SkillCalls = append(res.SkillCalls, SkillCall{
			SkillName:     mcp.ToolDeepThink,
			Status:        mcp.StatusSuccess,
			LatencyMS:     int(latency),
			InputSummary:  fmt.Sprintf("evidence=%d", len(evidence)),
			OutputSummary: fmt.Sprintf("stages=%d", len(deep.Stages)),
		})
	}

	res.RewrittenQuestion = rewriteQuestion(req.Question, res.WebSources, res.DeepThinkSummary)
	observeRun(res)
	return res, nil
}

// collectWebEvidence fetches up to budget question URLs through the
// gateway, appending call records and sources to res. It returns the
// evidence lines for the deep-think pipeline.
func (o *Orchestrator) collectWebEvidence(ctx context.Context, traceID string, urls []string, budget int, res *Result) []string {
	tool, err := o.registry.GetTool(ctx, mcp.ToolWebFetch)
	if err != nil || !tool.Enabled {
		o.logger.Debug("web fetch tool unavailable, answering without web evidence",
			zap.Bool("enabled", tool.Enabled),
			zap.Error(err))
		return nil
	}

	if len(urls) == 0 {
		// The question asks for web content but carries no URL. Record
		// the miss instead of fetching blindly.
		res.SkillCalls = append(res.SkillCalls, SkillCall{
			SkillName:    mcp.ToolWebFetch,
			Status:       mcp.StatusFailed,
			InputSummary: "url=missing",
			ErrorMessage: "未检测到可抓取的 URL，请在问题中提供 http/https 链接",
		})
		return nil
	}
	if len(urls) > budget {
		urls = urls[:budget]
	}

	var evidence []string
	for _, pageURL := range urls {
		args := map[string]any{"url": pageURL, "maxChars": o.config.WebFetchMaxChars}
		inv, err := o.gateway.Invoke(ctx, mcp.ToolWebFetch, args, traceID)
		if err != nil {
			o.logger.Warn("web fetch failed",
				zap.String("url", pageURL),
				zap.String("traceId", traceID),
				zap.Error(err))
			res.SkillCalls = append(res.SkillCalls, SkillCall{
				SkillName:    mcp.ToolWebFetch,
				Status:       mcp.StatusFailed,
				InputSummary: "url=" + pageURL,
				ErrorMessage: err.Error(),
			})
			res.ToolRuns = append(res.ToolRuns, mcp.Invocation{
				ToolName:      mcp.ToolWebFetch,
				Source:        mcp.SourceBuiltin,
				Status:        mcp.StatusFailed,
				InputSummary:  "url=" + pageURL,
				OutputPayload: map[string]any{},
				ErrorMessage:  err.Error(),
			})
			continue
		}

		res.SkillCalls = append(res.SkillCalls, toSkillCall(inv))
		res.ToolRuns = append(res.ToolRuns, inv)
		if inv.Status != mcp.StatusSuccess {
			continue
		}

		source := WebSource{
			URL:     payloadString(inv.OutputPayload, "url", pageURL),
			Title:   payloadString(inv.OutputPayload, "title", ""),
			Excerpt: payloadString(inv.OutputPayload, "excerpt", ""),
		}
		res.WebSources = append(res.WebSources, source)
		evidence = append(evidence, fmt.Sprintf("URL: %s\n标题: %s\n摘要: %s",
			source.URL, source.Title, truncateRunes(source.Excerpt, evidenceExcerptRunes)))
	}
	return evidence
}

// stepBudget resolves the tool-step budget: the request override when
// set, else the configured default, clamped to [1, maxToolSteps].
func (o *Orchestrator) stepBudget(requested int) int {
	steps := requested
	if steps == 0 {
		steps = o.config.MaxSteps
	}
	if steps > maxToolSteps {
		steps = maxToolSteps
	}
	if steps < 1 {
		steps = 1
	}
	return steps
}

// rewriteQuestion appends the gathered evidence blocks to the original
// question so the generation model sees them inline.
func rewriteQuestion(question string, sources []WebSource, deepThinkSummary string) string {
	rewritten := question
	if len(sources) > 0 {
		lines := make([]string, 0, len(sources)+1)
		lines = append(lines, "\n[网页插件证据]")
		for i, source := range sources {
			lines = append(lines, fmt.Sprintf("[web-%d] %s\n%s\n%s",
				i+1, source.Title, source.URL, truncateRunes(source.Excerpt, promptExcerptRunes)))
		}
		rewritten += "\n\n" + strings.Join(lines, "\n\n")
	}
	if deepThinkSummary != "" {
		rewritten += "\n\n[深度思考框架]\n" + deepThinkSummary + "\n请按“结论 -> 证据 -> 风险 -> 下一步”结构回答。"
	}
	return rewritten
}

// extractURLs pulls http/https URLs out of the question, trimming the
// trailing punctuation that URLs embedded in prose tend to pick up, and
// deduplicates while preserving order.
func extractURLs(question string) []string {
	matches := urlPattern.FindAllString(question, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	urls := make([]string, 0, len(matches))
	for _, raw := range matches {
		u := strings.TrimRight(strings.TrimSpace(raw), ".,;)")
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

func wantsWebContext(question string) bool {
	lowered := strings.ToLower(question)
	for _, keyword := range webIntentKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func toSkillCall(inv mcp.Invocation) SkillCall {
	return SkillCall{
		SkillName:     inv.ToolName,
		Status:        inv.Status,
		LatencyMS:     inv.LatencyMS,
		InputSummary:  inv.InputSummary,
		OutputSummary: inv.OutputSummary,
		ErrorMessage:  inv.ErrorMessage,
	}
}

// payloadString reads a string field from a tool output payload,
// falling back when the field is absent or not a string.
func payloadString(payload map[string]any, key, fallback string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return fallback
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
