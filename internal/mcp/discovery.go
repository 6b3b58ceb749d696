package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrNoDiscoveredTools is returned when a server answers a list_tools
// request without any usable tool entries.
var ErrNoDiscoveredTools = errors.New("mcp: server returned no tools")

// DiscoverServerTools asks an external server for its tool list and
// reconciles the catalog: advertised tools are upserted, previously
// synced tools the server no longer advertises are disabled. Tool rows
// are never deleted, so re-advertised tools come back with their old
// enabled flag.
func (g *Gateway) DiscoverServerTools(ctx context.Context, serverKey string) ([]Tool, error) {
	server, err := g.registry.GetServer(ctx, serverKey)
	if err != nil {
		observeDiscovery("error")
		return nil, err
	}
	if !server.Enabled {
		observeDiscovery("error")
		return nil, fmt.Errorf("%w: %s", ErrServerDisabled, serverKey)
	}

	body, err := g.postJSON(ctx, server, map[string]any{"op": "list_tools"})
	if err != nil {
		observeDiscovery("error")
		return nil, err
	}

	discovered := parseDiscoveredTools(body)
	if len(discovered) == 0 {
		observeDiscovery("empty")
		return nil, fmt.Errorf("%w: %s", ErrNoDiscoveredTools, serverKey)
	}

	keep := make([]string, 0, len(discovered))
	synced := make([]Tool, 0, len(discovered))
	for _, item := range discovered {
		item.ServerKey = serverKey
		tool, err := g.registry.UpsertExternalTool(ctx, item)
		if err != nil {
			observeDiscovery("error")
			return nil, fmt.Errorf("syncing tool %s: %w", item.Name, err)
		}
		keep = append(keep, tool.Name)
		synced = append(synced, tool)
	}

	disabled, err := g.registry.DisableServerToolsExcept(ctx, serverKey, keep)
	if err != nil {
		observeDiscovery("error")
		return nil, fmt.Errorf("disabling absent tools: %w", err)
	}

	// Report the enabled flags as they stand after reconciliation.
	current, err := g.registry.ListServerTools(ctx, serverKey)
	if err != nil {
		observeDiscovery("error")
		return nil, err
	}
	enabledByName := make(map[string]bool, len(current))
	for _, tool := range current {
		enabledByName[tool.Name] = tool.Enabled
	}
	for i := range synced {
		if enabled, ok := enabledByName[synced[i].Name]; ok {
			synced[i].Enabled = enabled
		}
	}

	g.logger.Info("discovery sync completed",
		zap.String("server_key", serverKey),
		zap.Int("synced", len(synced)),
		zap.Int("disabled", disabled),
	)
	observeDiscovery("success")
	return synced, nil
}

// parseDiscoveredTools extracts tool entries from a list_tools response.
// Both {"tools": [...]} and {"data": {"tools": [...]}} shapes are
// accepted, and each entry tolerates the name/title/schema key aliases
// seen in the wild.
func parseDiscoveredTools(body map[string]any) []ExternalTool {
	candidates, ok := body["tools"].([]any)
	if !ok {
		if data, isMap := body["data"].(map[string]any); isMap {
			candidates, _ = data["tools"].([]any)
		}
	}

	var parsed []ExternalTool
	for _, raw := range candidates {
		item, isMap := raw.(map[string]any)
		if !isMap {
			continue
		}
		name := strings.TrimSpace(firstString(item, "toolName", "name"))
		if name == "" {
			continue
		}
		displayName := strings.TrimSpace(firstString(item, "displayName", "title"))
		if displayName == "" {
			displayName = name
		}
		schema, isMap := firstValue(item, "toolSchema", "schema").(map[string]any)
		if !isMap {
			schema = map[string]any{}
		}
		parsed = append(parsed, ExternalTool{
			Name:        name,
			DisplayName: displayName,
			Description: strings.TrimSpace(firstString(item, "description")),
			Schema:      schema,
		})
	}
	return parsed
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstValue(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}
