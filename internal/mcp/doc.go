// Package mcp manages the tool catalog and dispatches tool invocations.
//
// The registry tracks builtin tools (executed in-process) and external
// tools synced from remote MCP servers over HTTP. The gateway resolves a
// tool by name, checks that it and its server are enabled, and executes
// it, returning a uniform invocation record regardless of source.
// Discovery keeps the external catalog in sync: tools a server stops
// advertising are disabled, never deleted.
package mcp
