package mcp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Registry errors.
var (
	ErrToolNotFound     = errors.New("mcp: tool not found")
	ErrServerNotFound   = errors.New("mcp: server not found")
	ErrInvalidToolName  = errors.New("mcp: invalid tool name")
	ErrInvalidServerKey = errors.New("mcp: invalid server key")
	ErrNoUpdatableField = errors.New("mcp: no updatable fields")
)

// Tool sources.
const (
	SourceBuiltin  = "builtin"
	SourceExternal = "external"
)

// Builtin tool names.
const (
	ToolWebFetch  = "mcp.web.fetch"
	ToolDeepThink = "mcp.deep_think.pipeline"
)

var (
	toolNamePattern  = regexp.MustCompile(`^[a-zA-Z0-9._:-]{2,128}$`)
	serverKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]{2,64}$`)
)

// Server timeout bounds in milliseconds.
const (
	minServerTimeoutMS     = 1000
	maxServerTimeoutMS     = 120000
	defaultServerTimeoutMS = 12000
)

// Tool is one entry in the tool catalog.
type Tool struct {
	Name        string         `json:"toolName"`
	DisplayName string         `json:"displayName"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	ServerKey   string         `json:"serverKey,omitempty"`
	Schema      map[string]any `json:"toolSchema"`
	Enabled     bool           `json:"enabled"`
}

// Server is one registered external MCP server.
type Server struct {
	Key        string         `json:"serverKey"`
	Name       string         `json:"name"`
	SourceType string         `json:"sourceType"`
	Endpoint   string         `json:"endpoint"`
	AuthType   string         `json:"authType"`
	AuthConfig map[string]any `json:"authConfig"`
	Enabled    bool           `json:"enabled"`
	TimeoutMS  int            `json:"timeoutMs"`
}

// BuiltinTools are seeded into every registry. The upsert refreshes
// display metadata and schema but leaves the enabled flag alone, so an
// operator's disable decision survives restarts.
var BuiltinTools = []Tool{
	{
		Name:        ToolWebFetch,
		DisplayName: "网页抓取",
		Description: "抓取网页正文并返回摘要片段",
		Source:      SourceBuiltin,
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"url"},
			"properties": map[string]any{
				"url":      map[string]any{"type": "string", "description": "http/https 链接"},
				"maxChars": map[string]any{"type": "integer", "description": "最大保留字符数"},
			},
		},
		Enabled: true,
	},
	{
		Name:        ToolDeepThink,
		DisplayName: "深度思考",
		Description: "plan/execute/reflect/verify 四阶段编排",
		Source:      SourceBuiltin,
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"question"},
			"properties": map[string]any{
				"question": map[string]any{"type": "string"},
				"evidence": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
		Enabled: true,
	},
}

// ExternalTool is the discovery-sync input for one external tool.
type ExternalTool struct {
	Name        string
	DisplayName string
	Description string
	ServerKey   string
	Schema      map[string]any
}

// ServerInput creates a new server registration.
type ServerInput struct {
	Key        string
	Name       string
	Endpoint   string
	SourceType string
	AuthType   string
	AuthConfig map[string]any
	TimeoutMS  int
}

// NormalizeServerInput validates and canonicalizes a registration. It is
// shared by every Registry implementation so validation cannot drift.
func NormalizeServerInput(in ServerInput) (Server, error) {
	key := strings.TrimSpace(in.Key)
	if !serverKeyPattern.MatchString(key) {
		return Server{}, fmt.Errorf("%w: key must be 2-64 characters of [a-zA-Z0-9._:-]", ErrInvalidServerKey)
	}
	name := strings.TrimSpace(in.Name)
	if len(name) < 2 || len(name) > 80 {
		return Server{}, errors.New("mcp: server name must be 2-80 characters")
	}
	endpoint, err := normalizeEndpoint(in.Endpoint)
	if err != nil {
		return Server{}, err
	}

	sourceType := strings.ToLower(strings.TrimSpace(in.SourceType))
	if sourceType == "" {
		sourceType = "http"
	}
	authType := strings.ToLower(strings.TrimSpace(in.AuthType))
	if authType == "" {
		authType = "none"
	}
	authConfig := in.AuthConfig
	if authConfig == nil {
		authConfig = map[string]any{}
	}

	return Server{
		Key:        key,
		Name:       name,
		SourceType: sourceType,
		Endpoint:   endpoint,
		AuthType:   authType,
		AuthConfig: authConfig,
		Enabled:    true,
		TimeoutMS:  clampTimeoutMS(in.TimeoutMS),
	}, nil
}

func normalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return "", errors.New("mcp: endpoint must start with http:// or https://")
	}
	return endpoint, nil
}

func clampTimeoutMS(ms int) int {
	if ms == 0 {
		ms = defaultServerTimeoutMS
	}
	if ms < minServerTimeoutMS {
		return minServerTimeoutMS
	}
	if ms > maxServerTimeoutMS {
		return maxServerTimeoutMS
	}
	return ms
}

// ServerPatch is a partial server update. Nil fields keep their current
// value; AuthConfig is replaced wholesale when non-nil.
type ServerPatch struct {
	Name       *string
	Endpoint   *string
	Enabled    *bool
	TimeoutMS  *int
	AuthType   *string
	AuthConfig map[string]any
}

func (p ServerPatch) empty() bool {
	return p.Name == nil && p.Endpoint == nil && p.Enabled == nil &&
		p.TimeoutMS == nil && p.AuthType == nil && p.AuthConfig == nil
}

// Normalize validates the provided fields and canonicalizes them, or
// returns ErrNoUpdatableField for an all-nil patch. Implementations call
// it before touching state so an invalid patch never reaches storage.
func (p ServerPatch) Normalize() (ServerPatch, error) {
	if p.empty() {
		return ServerPatch{}, ErrNoUpdatableField
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if len(name) < 2 || len(name) > 80 {
			return ServerPatch{}, errors.New("mcp: server name must be 2-80 characters")
		}
		p.Name = &name
	}
	if p.Endpoint != nil {
		endpoint, err := normalizeEndpoint(*p.Endpoint)
		if err != nil {
			return ServerPatch{}, err
		}
		p.Endpoint = &endpoint
	}
	if p.TimeoutMS != nil {
		clamped := clampTimeoutMS(*p.TimeoutMS)
		p.TimeoutMS = &clamped
	}
	if p.AuthType != nil {
		authType := strings.ToLower(strings.TrimSpace(*p.AuthType))
		if authType == "" {
			authType = "none"
		}
		p.AuthType = &authType
	}
	return p, nil
}

// apply merges an already-normalized patch onto s.
func (p ServerPatch) apply(s Server) Server {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Endpoint != nil {
		s.Endpoint = *p.Endpoint
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.TimeoutMS != nil {
		s.TimeoutMS = *p.TimeoutMS
	}
	if p.AuthType != nil {
		s.AuthType = *p.AuthType
	}
	if p.AuthConfig != nil {
		s.AuthConfig = p.AuthConfig
	}
	return s
}

// ValidateToolName checks a tool name against the catalog's pattern.
func ValidateToolName(name string) error {
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidToolName, name)
	}
	return nil
}

// ValidateServerKey checks a server key against the catalog's pattern.
func ValidateServerKey(key string) error {
	if !serverKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidServerKey, key)
	}
	return nil
}

// Registry is the tool/server catalog contract. The memory implementation
// backs tests and local mode; the PostgreSQL implementation lives in the
// storage package.
type Registry interface {
	// EnsureBuiltinTools upserts the builtin tool set, preserving each
	// tool's current enabled flag.
	EnsureBuiltinTools(ctx context.Context) error

	// GetTool returns a tool by name or ErrToolNotFound.
	GetTool(ctx context.Context, toolName string) (Tool, error)

	// ListTools returns the catalog ordered by source then name.
	ListTools(ctx context.Context, enabledOnly bool) ([]Tool, error)

	// SetToolEnabled flips a tool's enabled flag.
	SetToolEnabled(ctx context.Context, toolName string, enabled bool) (Tool, error)

	// UpsertExternalTool inserts or refreshes an external tool. New tools
	// start enabled; existing tools keep their enabled flag.
	UpsertExternalTool(ctx context.Context, in ExternalTool) (Tool, error)

	// ListServerTools returns the external tools recorded for a server,
	// ordered by name.
	ListServerTools(ctx context.Context, serverKey string) ([]Tool, error)

	// DisableServerToolsExcept disables the server's external tools whose
	// names are not in keep, and reports how many were disabled.
	DisableServerToolsExcept(ctx context.Context, serverKey string, keep []string) (int, error)

	// GetServer returns a server by key or ErrServerNotFound.
	GetServer(ctx context.Context, serverKey string) (Server, error)

	// ListServers returns registered servers, newest first.
	ListServers(ctx context.Context) ([]Server, error)

	// CreateServer validates and registers a new server.
	CreateServer(ctx context.Context, in ServerInput) (Server, error)

	// UpdateServer applies a partial update to a server.
	UpdateServer(ctx context.Context, serverKey string, patch ServerPatch) (Server, error)
}
