package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRegistry is an in-process Registry for tests and local mode.
type MemoryRegistry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	servers   map[string]Server
	serverSeq map[string]int
	seq       int
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tools:     make(map[string]Tool),
		servers:   make(map[string]Server),
		serverSeq: make(map[string]int),
	}
}

func (r *MemoryRegistry) EnsureBuiltinTools(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, builtin := range BuiltinTools {
		tool := builtin
		if existing, ok := r.tools[tool.Name]; ok {
			tool.Enabled = existing.Enabled
		}
		r.tools[tool.Name] = tool
	}
	return nil
}

func (r *MemoryRegistry) GetTool(_ context.Context, toolName string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[toolName]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}
	return tool, nil
}

func (r *MemoryRegistry) ListTools(_ context.Context, enabledOnly bool) ([]Tool, error) {
	r.mu.RLock()
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		if enabledOnly && !tool.Enabled {
			continue
		}
		tools = append(tools, tool)
	}
	r.mu.RUnlock()

	sortTools(tools)
	return tools, nil
}

func sortTools(tools []Tool) {
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Source != tools[j].Source {
			return tools[i].Source < tools[j].Source
		}
		return tools[i].Name < tools[j].Name
	})
}

func (r *MemoryRegistry) SetToolEnabled(_ context.Context, toolName string, enabled bool) (Tool, error) {
	if err := ValidateToolName(toolName); err != nil {
		return Tool{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tool, ok := r.tools[toolName]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}
	tool.Enabled = enabled
	r.tools[toolName] = tool
	return tool, nil
}

func (r *MemoryRegistry) UpsertExternalTool(_ context.Context, in ExternalTool) (Tool, error) {
	if err := ValidateToolName(in.Name); err != nil {
		return Tool{}, err
	}
	schema := in.Schema
	if schema == nil {
		schema = map[string]any{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	enabled := true
	if existing, ok := r.tools[in.Name]; ok {
		enabled = existing.Enabled
	}
	tool := Tool{
		Name:        in.Name,
		DisplayName: in.DisplayName,
		Description: in.Description,
		Source:      SourceExternal,
		ServerKey:   in.ServerKey,
		Schema:      schema,
		Enabled:     enabled,
	}
	r.tools[in.Name] = tool
	return tool, nil
}

func (r *MemoryRegistry) ListServerTools(_ context.Context, serverKey string) ([]Tool, error) {
	r.mu.RLock()
	var tools []Tool
	for _, tool := range r.tools {
		if tool.Source == SourceExternal && tool.ServerKey == serverKey {
			tools = append(tools, tool)
		}
	}
	r.mu.RUnlock()

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

func (r *MemoryRegistry) DisableServerToolsExcept(_ context.Context, serverKey string, keep []string) (int, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, name := range keep {
		keepSet[name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	disabled := 0
	for name, tool := range r.tools {
		if tool.Source != SourceExternal || tool.ServerKey != serverKey || keepSet[name] {
			continue
		}
		if tool.Enabled {
			tool.Enabled = false
			r.tools[name] = tool
			disabled++
		}
	}
	return disabled, nil
}

func (r *MemoryRegistry) GetServer(_ context.Context, serverKey string) (Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, ok := r.servers[serverKey]
	if !ok {
		return Server{}, fmt.Errorf("%w: %s", ErrServerNotFound, serverKey)
	}
	return server, nil
}

func (r *MemoryRegistry) ListServers(_ context.Context) ([]Server, error) {
	r.mu.RLock()
	servers := make([]Server, 0, len(r.servers))
	for _, server := range r.servers {
		servers = append(servers, server)
	}
	seq := make(map[string]int, len(r.serverSeq))
	for key, n := range r.serverSeq {
		seq[key] = n
	}
	r.mu.RUnlock()

	sort.Slice(servers, func(i, j int) bool {
		return seq[servers[i].Key] > seq[servers[j].Key]
	})
	return servers, nil
}

func (r *MemoryRegistry) CreateServer(_ context.Context, in ServerInput) (Server, error) {
	server, err := NormalizeServerInput(in)
	if err != nil {
		return Server{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[server.Key]; exists {
		return Server{}, fmt.Errorf("mcp: server %s already exists", server.Key)
	}
	r.seq++
	r.servers[server.Key] = server
	r.serverSeq[server.Key] = r.seq
	return server, nil
}

func (r *MemoryRegistry) UpdateServer(_ context.Context, serverKey string, patch ServerPatch) (Server, error) {
	if err := ValidateServerKey(serverKey); err != nil {
		return Server{}, err
	}
	normalized, err := patch.Normalize()
	if err != nil {
		return Server{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.servers[serverKey]
	if !ok {
		return Server{}, fmt.Errorf("%w: %s", ErrServerNotFound, serverKey)
	}
	updated := normalized.apply(current)
	r.servers[serverKey] = updated
	return updated, nil
}
