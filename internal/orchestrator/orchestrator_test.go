package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/mcp"
	"github.com/fyrsmithlabs/ragd/internal/webfetch"
)

func newTestOrchestrator(cfg Config) (*Orchestrator, *mcp.MemoryRegistry) {
	registry := mcp.NewMemoryRegistry()
	fetcher := webfetch.New(webfetch.Config{AllowPrivate: true}, zap.NewNop())
	gateway := mcp.NewGateway(registry, fetcher, nil, mcp.GatewayConfig{}, zap.NewNop())
	return New(registry, gateway, cfg, zap.NewNop()), registry
}

func newPageServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Release Notes</title></head><body><p>Fixed the cache bug.</p></body></html>`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOrchestrateFetchesWebEvidence(t *testing.T) {
	server := newPageServer(t, nil)
	orch, _ := newTestOrchestrator(Config{MaxSteps: 3})

	question := "请总结 " + server.URL + " 的内容"
	res, err := orch.Orchestrate(context.Background(), Request{
		Question:    question,
		TraceID:     "trace-web",
		EnableTools: true,
	})
	require.NoError(t, err)

	require.Len(t, res.SkillCalls, 1)
	call := res.SkillCalls[0]
	assert.Equal(t, mcp.ToolWebFetch, call.SkillName)
	assert.Equal(t, mcp.StatusSuccess, call.Status)
	assert.Equal(t, "url="+server.URL, call.InputSummary)
	assert.Contains(t, call.OutputSummary, "title=Release Notes")

	require.Len(t, res.ToolRuns, 1)
	assert.Equal(t, mcp.SourceBuiltin, res.ToolRuns[0].Source)
	assert.Equal(t, mcp.StatusSuccess, res.ToolRuns[0].Status)

	require.Len(t, res.WebSources, 1)
	assert.Equal(t, server.URL, res.WebSources[0].URL)
	assert.Equal(t, "Release Notes", res.WebSources[0].Title)
	assert.Contains(t, res.WebSources[0].Excerpt, "Fixed the cache bug")

	assert.True(t, strings.HasPrefix(res.RewrittenQuestion, question))
	assert.Contains(t, res.RewrittenQuestion, "[网页插件证据]")
	assert.Contains(t, res.RewrittenQuestion, "[web-1] Release Notes\n"+server.URL)
	assert.Empty(t, res.DeepThinkSummary)
	assert.Empty(t, res.DeepThinkRuns)
}

func TestOrchestrateMissingURL(t *testing.T) {
	orch, _ := newTestOrchestrator(Config{MaxSteps: 3})

	question := "帮我查看一下这个网站的最新公告"
	res, err := orch.Orchestrate(context.Background(), Request{
		Question:    question,
		TraceID:     "trace-missing",
		EnableTools: true,
	})
	require.NoError(t, err)

	require.Len(t, res.SkillCalls, 1)
	call := res.SkillCalls[0]
	assert.Equal(t, mcp.ToolWebFetch, call.SkillName)
	assert.Equal(t, mcp.StatusFailed, call.Status)
	assert.Zero(t, call.LatencyMS)
	assert.Equal(t, "url=missing", call.InputSummary)
	assert.Equal(t, "未检测到可抓取的 URL，请在问题中提供 http/https 链接", call.ErrorMessage)

	assert.Empty(t, res.ToolRuns)
	assert.Empty(t, res.WebSources)
	assert.Equal(t, question, res.RewrittenQuestion)
}

func TestOrchestrateToolsDisabledByRequest(t *testing.T) {
	var hits atomic.Int32
	server := newPageServer(t, &hits)
	orch, _ := newTestOrchestrator(Config{MaxSteps: 3})

	question := "看看 " + server.URL
	res, err := orch.Orchestrate(context.Background(), Request{
		Question:    question,
		EnableTools: false,
	})
	require.NoError(t, err)

	assert.Empty(t, res.SkillCalls)
	assert.Empty(t, res.ToolRuns)
	assert.Equal(t, question, res.RewrittenQuestion)
	assert.Zero(t, hits.Load())
}

func TestOrchestrateWebToolDisabledInCatalog(t *testing.T) {
	var hits atomic.Int32
	server := newPageServer(t, &hits)
	orch, registry := newTestOrchestrator(Config{MaxSteps: 3})

	ctx := context.Background()
	require.NoError(t, registry.EnsureBuiltinTools(ctx))
	_, err := registry.SetToolEnabled(ctx, mcp.ToolWebFetch, false)
	require.NoError(t, err)

	question := "看看 " + server.URL
	res, err := orch.Orchestrate(ctx, Request{Question: question, EnableTools: true})
	require.NoError(t, err)

	assert.Empty(t, res.SkillCalls)
	assert.Empty(t, res.ToolRuns)
	assert.Equal(t, question, res.RewrittenQuestion)
	assert.Zero(t, hits.Load())
}

func TestOrchestrateFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := server.URL
	server.Close()

	orch, _ := newTestOrchestrator(Config{MaxSteps: 3})

	question := "请总结 " + deadURL + " 的内容"
	res, err := orch.Orchestrate(context.Background(), Request{
		Question:    question,
		TraceID:     "trace-失败",
		EnableTools: true,
	})
	require.NoError(t, err)

	require.Len(t, res.SkillCalls, 1)
	call := res.SkillCalls[0]
	assert.Equal(t, mcp.StatusFailed, call.Status)
	assert.Equal(t, "url="+deadURL, call.InputSummary)
	assert.NotEmpty(t, call.ErrorMessage)

	require.Len(t, res.ToolRuns, 1)
	run := res.ToolRuns[0]
	assert.Equal(t, mcp.ToolWebFetch, run.ToolName)
	assert.Equal(t, mcp.SourceBuiltin, run.Source)
	assert.Equal(t, mcp.StatusFailed, run.Status)
	assert.Equal(t, "url="+deadURL, run.InputSummary)
	assert.NotNil(t, run.OutputPayload)
	assert.Empty(t, run.OutputPayload)

	assert.Empty(t, res.WebSources)
	assert.Equal(t, question, res.RewrittenQuestion)
}

func TestOrchestrateStepBudgetCapsFetches(t *testing.T) {
	var hits atomic.Int32
	server := newPageServer(t, &hits)
	orch, _ := newTestOrchestrator(Config{MaxSteps: 3})

	question := "对比 " + server.URL + "/a 和 " + server.URL + "/b 的差异"
	res, err := orch.Orchestrate(context.Background(), Request{
		Question:     question,
		EnableTools:  true,
		MaxToolSteps: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
	require.Len(t, res.SkillCalls, 1)
	assert.Equal(t, "url="+server.URL+"/a", res.SkillCalls[0].InputSummary)
}

func TestOrchestrateDeepThink(t *testing.T) {
	orch, _ := newTestOrchestrator(Config{MaxSteps: 3, DeepThinkIterations: 3})

	question := "如何设计一个缓存层"
	res, err := orch.Orchestrate(context.Background(), Request{
		Question:        question,
		EnableDeepThink: true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.DeepThinkSummary)
	require.Len(t, res.DeepThinkRuns, 4)

	require.Len(t, res.SkillCalls, 1)
	call := res.SkillCalls[0]
	assert.Equal(t, mcp.ToolDeepThink, call.SkillName)
	assert.Equal(t, mcp.StatusSuccess, call.Status)
	assert.Equal(t, "evidence=0", call.InputSummary)
	assert.Equal(t, "stages=4", call.OutputSummary)

	assert.True(t, strings.HasPrefix(res.RewrittenQuestion, question))
	assert.Contains(t, res.RewrittenQuestion, "[深度思考框架]")
	assert.Contains(t, res.RewrittenQuestion, "请按“结论 -> 证据 -> 风险 -> 下一步”结构回答。")
}

func TestOrchestrateWebAndDeepThink(t *testing.T) {
	server := newPageServer(t, nil)
	orch, _ := newTestOrchestrator(Config{MaxSteps: 3, DeepThinkIterations: 2})

	question := "结合 " + server.URL + " 分析发布风险"
	res, err := orch.Orchestrate(context.Background(), Request{
		Question:        question,
		EnableTools:     true,
		EnableDeepThink: true,
	})
	require.NoError(t, err)

	require.Len(t, res.SkillCalls, 2)
	assert.Equal(t, mcp.ToolWebFetch, res.SkillCalls[0].SkillName)
	assert.Equal(t, mcp.ToolDeepThink, res.SkillCalls[1].SkillName)
	assert.Equal(t, "evidence=1", res.SkillCalls[1].InputSummary)

	webIdx := strings.Index(res.RewrittenQuestion, "[网页插件证据]")
	deepIdx := strings.Index(res.RewrittenQuestion, "[深度思考框架]")
	require.GreaterOrEqual(t, webIdx, 0)
	require.GreaterOrEqual(t, deepIdx, 0)
	assert.Less(t, webIdx, deepIdx)
}

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     []string
	}{
		{
			name:     "trailing punctuation stripped",
			question: "参考 https://example.com/docs.",
			want:     []string{"https://example.com/docs"},
		},
		{
			name:     "multiple urls keep order",
			question: "对比 (https://a.io), 以及 http://b.io;",
			want:     []string{"https://a.io", "http://b.io"},
		},
		{
			name:     "duplicates collapse",
			question: "https://a.io 和 https://a.io 是同一个",
			want:     []string{"https://a.io"},
		},
		{
			name:     "scheme matches case-insensitively",
			question: "打开 HTTPS://Example.COM/x",
			want:     []string{"HTTPS://Example.COM/x"},
		},
		{
			name:     "no urls",
			question: "什么是向量检索",
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractURLs(tt.question))
		})
	}
}

func TestWantsWebContext(t *testing.T) {
	tests := []struct {
		question string
		want     bool
	}{
		{"帮我看看这个页面", true},
		{"请查看公告内容", true},
		{"open the URL please", true},
		{"这个网站讲了什么", true},
		{"什么是向量检索", false},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, wantsWebContext(tt.question))
		})
	}
}

func TestStepBudget(t *testing.T) {
	orch, _ := newTestOrchestrator(Config{MaxSteps: 3})

	assert.Equal(t, 3, orch.stepBudget(0), "zero falls back to the configured default")
	assert.Equal(t, 5, orch.stepBudget(5))
	assert.Equal(t, 12, orch.stepBudget(50), "budgets cap at twelve")
	assert.Equal(t, 1, orch.stepBudget(-2), "negative budgets clamp to one")

	unconfigured, _ := newTestOrchestrator(Config{})
	assert.Equal(t, 1, unconfigured.stepBudget(0))
}

func TestRewriteQuestion(t *testing.T) {
	t.Run("web sources", func(t *testing.T) {
		sources := []WebSource{{URL: "https://a.io", Title: "A", Excerpt: "alpha"}}
		got := rewriteQuestion("q", sources, "")
		assert.Equal(t, "q\n\n\n[网页插件证据]\n\n[web-1] A\nhttps://a.io\nalpha", got)
	})

	t.Run("deep think summary", func(t *testing.T) {
		got := rewriteQuestion("q", nil, "框架内容")
		assert.Equal(t, "q\n\n[深度思考框架]\n框架内容\n请按“结论 -> 证据 -> 风险 -> 下一步”结构回答。", got)
	})

	t.Run("long excerpts truncate", func(t *testing.T) {
		excerpt := strings.Repeat("证", promptExcerptRunes+10)
		sources := []WebSource{{URL: "https://a.io", Title: "A", Excerpt: excerpt}}
		got := rewriteQuestion("q", sources, "")
		assert.NotContains(t, got, excerpt)
		assert.Contains(t, got, strings.Repeat("证", promptExcerptRunes))
	})

	t.Run("nothing gathered", func(t *testing.T) {
		assert.Equal(t, "q", rewriteQuestion("q", nil, ""))
	})
}
