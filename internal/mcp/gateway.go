package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/webfetch"
)

// Gateway errors.
var (
	ErrToolDisabled       = errors.New("mcp: tool disabled")
	ErrServerDisabled     = errors.New("mcp: server disabled")
	ErrUnsupportedBuiltin = errors.New("mcp: unsupported builtin tool")
	ErrMissingServerKey   = errors.New("mcp: external tool has no server key")
	ErrBadServerResponse  = errors.New("mcp: server response is not a JSON object")
)

// Invocation statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Server call timeout bounds.
const (
	minServerTimeout = 1 * time.Second
	maxServerTimeout = 120 * time.Second

	// maxServerResponseBytes caps how much of an external server's
	// response is read.
	maxServerResponseBytes = 4 << 20
)

// Invocation is the uniform record of one tool execution.
type Invocation struct {
	ToolName      string         `json:"toolName"`
	Source        string         `json:"source"`
	Status        string         `json:"status"`
	LatencyMS     int            `json:"latencyMs"`
	InputSummary  string         `json:"inputSummary"`
	OutputSummary string         `json:"outputSummary"`
	OutputPayload map[string]any `json:"outputPayload"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
}

// Scrubber redacts sensitive values from fetched content before it
// reaches logs, storage, or prompts.
type Scrubber interface {
	Scrub(text string) string
}

// noopScrubber passes text through unchanged.
type noopScrubber struct{}

func (noopScrubber) Scrub(text string) string { return text }

// GatewayConfig tunes builtin tool execution.
type GatewayConfig struct {
	// WebFetchTimeout is the per-request timeout handed to the web
	// fetcher. Zero uses the fetcher's default.
	WebFetchTimeout time.Duration

	// WebFetchMaxChars is the excerpt cap used when the caller does not
	// pass maxChars. Zero uses the fetcher's default.
	WebFetchMaxChars int
}

// Gateway resolves tools from the registry and executes them.
type Gateway struct {
	registry Registry
	fetcher  *webfetch.Fetcher
	scrubber Scrubber
	client   *http.Client
	config   GatewayConfig
	logger   *zap.Logger
}

// NewGateway builds a gateway. fetcher backs the builtin web-fetch tool;
// scrubber may be nil to disable redaction.
func NewGateway(registry Registry, fetcher *webfetch.Fetcher, scrubber Scrubber, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if scrubber == nil {
		scrubber = noopScrubber{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		registry: registry,
		fetcher:  fetcher,
		scrubber: scrubber,
		// Per-call timeouts come from each server's configuration, so the
		// shared client carries none.
		client: &http.Client{},
		config: cfg,
		logger: logger,
	}
}

// Invoke executes a tool by name. Catalog problems (unknown tool,
// disabled tool or server) and transport failures return an error; a
// reachable external tool reporting failure returns an Invocation with
// StatusFailed and no error.
func (g *Gateway) Invoke(ctx context.Context, toolName string, args map[string]any, traceID string) (Invocation, error) {
	tool, err := g.registry.GetTool(ctx, toolName)
	if err != nil {
		return Invocation{}, err
	}
	if !tool.Enabled {
		return Invocation{}, fmt.Errorf("%w: %s", ErrToolDisabled, toolName)
	}

	var inv Invocation
	if tool.Source == SourceBuiltin {
		inv, err = g.invokeBuiltin(ctx, tool, args)
	} else {
		inv, err = g.invokeExternal(ctx, tool, args, traceID)
	}
	if err != nil {
		observeInvocation(tool.Source, StatusFailed)
		return Invocation{}, err
	}
	observeInvocation(inv.Source, inv.Status)
	return inv, nil
}

// invokeBuiltin executes a builtin tool in-process. Only web fetch runs
// through the gateway; the deep-think pipeline is driven directly by the
// orchestrator.
func (g *Gateway) invokeBuiltin(ctx context.Context, tool Tool, args map[string]any) (Invocation, error) {
	start := time.Now()
	if tool.Name != ToolWebFetch {
		return Invocation{}, fmt.Errorf("%w: %s", ErrUnsupportedBuiltin, tool.Name)
	}

	url := strings.TrimSpace(stringArg(args, "url"))
	if url == "" {
		return Invocation{}, errors.New("mcp: url must not be empty")
	}
	maxChars := intArg(args, "maxChars", g.config.WebFetchMaxChars)

	page, err := g.fetcher.Fetch(ctx, url, webfetch.Options{
		Timeout:  g.config.WebFetchTimeout,
		MaxChars: maxChars,
	})
	if err != nil {
		return Invocation{}, fmt.Errorf("mcp: web fetch: %w", err)
	}
	page.Excerpt = g.scrubber.Scrub(page.Excerpt)

	return Invocation{
		ToolName:      tool.Name,
		Source:        SourceBuiltin,
		Status:        StatusSuccess,
		LatencyMS:     int(time.Since(start).Milliseconds()),
		InputSummary:  "url=" + url,
		OutputSummary: fmt.Sprintf("title=%s,chars=%d", truncateRunes(page.Title, 80), page.CapturedChars),
		OutputPayload: page.Payload(),
	}, nil
}

// invokeExternal POSTs the invocation to the tool's server.
func (g *Gateway) invokeExternal(ctx context.Context, tool Tool, args map[string]any, traceID string) (Invocation, error) {
	start := time.Now()
	if tool.ServerKey == "" {
		return Invocation{}, fmt.Errorf("%w: %s", ErrMissingServerKey, tool.Name)
	}
	server, err := g.registry.GetServer(ctx, tool.ServerKey)
	if err != nil {
		return Invocation{}, err
	}
	if !server.Enabled {
		return Invocation{}, fmt.Errorf("%w: %s", ErrServerDisabled, server.Key)
	}
	if args == nil {
		args = map[string]any{}
	}

	body, err := g.postJSON(ctx, server, map[string]any{
		"toolName": tool.Name,
		"args":     args,
		"traceId":  traceID,
	})
	if err != nil {
		return Invocation{}, err
	}

	status := StatusSuccess
	if s, _ := body["status"].(string); s == StatusFailed {
		status = StatusFailed
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		data = map[string]any{"raw": body["data"]}
	}
	errorMessage := ""
	if raw, ok := body["errorMessage"]; ok && raw != nil {
		errorMessage = fmt.Sprintf("%v", raw)
	}

	return Invocation{
		ToolName:      tool.Name,
		Source:        SourceExternal,
		Status:        status,
		LatencyMS:     int(time.Since(start).Milliseconds()),
		InputSummary:  fmt.Sprintf("server=%s,args=%d", tool.ServerKey, len(args)),
		OutputSummary: fmt.Sprintf("fields=%d", len(data)),
		OutputPayload: data,
		ErrorMessage:  errorMessage,
	}, nil
}

// postJSON sends one request to an external server and decodes the JSON
// object it must answer with.
func (g *Gateway) postJSON(ctx context.Context, server Server, payload map[string]any) (map[string]any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mcp: encoding server request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, serverTimeout(server))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("mcp: building server request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if server.AuthType == "bearer" {
		if token, _ := server.AuthConfig["token"].(string); strings.TrimSpace(token) != "" {
			req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: calling server %s: %w", server.Key, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxServerResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("mcp: reading server response: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return nil, fmt.Errorf("%w: server=%s", ErrBadServerResponse, server.Key)
	}
	return body, nil
}

func serverTimeout(server Server) time.Duration {
	timeout := time.Duration(server.TimeoutMS) * time.Millisecond
	if timeout < minServerTimeout {
		return minServerTimeout
	}
	if timeout > maxServerTimeout {
		return maxServerTimeout
	}
	return timeout
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// intArg reads a numeric argument, tolerating the float64 values JSON
// decoding produces.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return int(n)
		}
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
