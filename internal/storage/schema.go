package storage

import "fmt"

// schemaStatements returns the full DDL, ordered so that every foreign
// key target exists before its referrers. dimension fixes the pgvector
// column width.
func schemaStatements(dimension int) []string {
	if dimension < 1 {
		dimension = 1
	}
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		// Document lifecycle.
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			file_name TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'upload',
			status TEXT NOT NULL DEFAULT 'queued',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id UUID PRIMARY KEY REFERENCES document_chunks(id) ON DELETE CASCADE,
			embedding vector(%d) NOT NULL,
			model_id TEXT NOT NULL DEFAULT 'unknown',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, dimension),

		// Retrieval observability.
		`CREATE TABLE IF NOT EXISTS retrieval_logs (
			id BIGSERIAL PRIMARY KEY,
			trace_id TEXT NOT NULL,
			session_id TEXT,
			question TEXT NOT NULL,
			model_id TEXT,
			top_k INTEGER NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			latency_ms INTEGER,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			mcp_call_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'success',
			error_message TEXT,
			results JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_skill_logs (
			id BIGSERIAL PRIMARY KEY,
			retrieval_log_id BIGINT NOT NULL REFERENCES retrieval_logs(id) ON DELETE CASCADE,
			trace_id TEXT NOT NULL,
			session_id TEXT,
			skill_name TEXT NOT NULL,
			status TEXT NOT NULL,
			latency_ms INTEGER,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			input_summary TEXT,
			output_summary TEXT,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// MCP catalog.
		`CREATE TABLE IF NOT EXISTS mcp_servers (
			id BIGSERIAL PRIMARY KEY,
			server_key TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			source_type TEXT NOT NULL DEFAULT 'http',
			endpoint TEXT NOT NULL,
			auth_type TEXT NOT NULL DEFAULT 'none',
			auth_config JSONB NOT NULL DEFAULT '{}'::jsonb,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			timeout_ms INTEGER NOT NULL DEFAULT 12000,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_tools (
			id BIGSERIAL PRIMARY KEY,
			tool_name TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			server_key TEXT,
			tool_schema JSONB NOT NULL DEFAULT '{}'::jsonb,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Tool execution logs.
		`CREATE TABLE IF NOT EXISTS tool_runs (
			id BIGSERIAL PRIMARY KEY,
			retrieval_log_id BIGINT REFERENCES retrieval_logs(id) ON DELETE SET NULL,
			trace_id TEXT NOT NULL,
			session_id TEXT,
			tool_name TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			input_summary TEXT NOT NULL DEFAULT '',
			output_summary TEXT NOT NULL DEFAULT '',
			output_payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS deep_think_runs (
			id BIGSERIAL PRIMARY KEY,
			retrieval_log_id BIGINT REFERENCES retrieval_logs(id) ON DELETE SET NULL,
			trace_id TEXT NOT NULL,
			session_id TEXT,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			input_summary TEXT NOT NULL DEFAULT '',
			output_summary TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Indexes.
		`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_document_id ON document_chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_embedding ON chunk_embeddings USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_retrieval_logs_trace_id ON retrieval_logs(trace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_retrieval_logs_created_at ON retrieval_logs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_retrieval_logs_model_id ON retrieval_logs(model_id)`,
		`CREATE INDEX IF NOT EXISTS idx_retrieval_logs_status ON retrieval_logs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_mcp_skill_logs_retrieval_id ON mcp_skill_logs(retrieval_log_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mcp_skill_logs_trace_id ON mcp_skill_logs(trace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mcp_skill_logs_created_at ON mcp_skill_logs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_mcp_servers_server_key ON mcp_servers(server_key)`,
		`CREATE INDEX IF NOT EXISTS idx_mcp_servers_enabled ON mcp_servers(enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_mcp_tools_tool_name ON mcp_tools(tool_name)`,
		`CREATE INDEX IF NOT EXISTS idx_mcp_tools_source ON mcp_tools(source)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_runs_trace_id ON tool_runs(trace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_runs_created_at ON tool_runs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_runs_tool_name ON tool_runs(tool_name)`,
		`CREATE INDEX IF NOT EXISTS idx_deep_think_runs_trace_id ON deep_think_runs(trace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deep_think_runs_created_at ON deep_think_runs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_deep_think_runs_stage ON deep_think_runs(stage)`,
	}
}
