package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/mcp"
)

// Catalog is the PostgreSQL mcp.Registry. Tool rows live in mcp_tools,
// server rows in mcp_servers; validation is shared with the in-memory
// implementation through the mcp package.
type Catalog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ mcp.Registry = (*Catalog)(nil)

// NewCatalog returns a catalog on an existing pool. The pool stays
// owned by the caller.
func NewCatalog(pool *pgxpool.Pool, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{pool: pool, logger: logger}
}

const toolColumns = `
	tool_name,
	display_name,
	description,
	source,
	server_key,
	tool_schema,
	enabled`

const serverColumns = `
	server_key,
	name,
	source_type,
	endpoint,
	auth_type,
	auth_config,
	enabled,
	timeout_ms`

func (c *Catalog) EnsureBuiltinTools(ctx context.Context) error {
	for _, tool := range mcp.BuiltinTools {
		schemaJSON, err := json.Marshal(tool.Schema)
		if err != nil {
			return fmt.Errorf("storage: encoding builtin tool schema: %w", err)
		}
		_, err = c.pool.Exec(ctx, `
			INSERT INTO mcp_tools (tool_name, display_name, description, source, server_key, tool_schema, enabled)
			VALUES ($1, $2, $3, $4, NULL, $5::jsonb, TRUE)
			ON CONFLICT (tool_name) DO UPDATE
			SET
				display_name = EXCLUDED.display_name,
				description = EXCLUDED.description,
				source = EXCLUDED.source,
				tool_schema = EXCLUDED.tool_schema,
				updated_at = NOW()
		`, tool.Name, tool.DisplayName, tool.Description, tool.Source, string(schemaJSON))
		if err != nil {
			return fmt.Errorf("storage: seeding builtin tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func (c *Catalog) GetTool(ctx context.Context, toolName string) (mcp.Tool, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT`+toolColumns+`
		FROM mcp_tools
		WHERE tool_name = $1
	`, toolName)
	tool, err := scanTool(row.Scan)
	if err != nil {
		if isNoRows(err) {
			return mcp.Tool{}, fmt.Errorf("%w: %s", mcp.ErrToolNotFound, toolName)
		}
		return mcp.Tool{}, err
	}
	return tool, nil
}

func (c *Catalog) ListTools(ctx context.Context, enabledOnly bool) ([]mcp.Tool, error) {
	query := `
		SELECT` + toolColumns + `
		FROM mcp_tools
		ORDER BY source ASC, tool_name ASC`
	if enabledOnly {
		query = `
		SELECT` + toolColumns + `
		FROM mcp_tools
		WHERE enabled = TRUE
		ORDER BY source ASC, tool_name ASC`
	}
	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storage: listing tools: %w", err)
	}
	defer rows.Close()

	var tools []mcp.Tool
	for rows.Next() {
		tool, err := scanTool(rows.Scan)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: reading tools: %w", err)
	}
	return tools, nil
}

func (c *Catalog) SetToolEnabled(ctx context.Context, toolName string, enabled bool) (mcp.Tool, error) {
	if err := mcp.ValidateToolName(toolName); err != nil {
		return mcp.Tool{}, err
	}
	row := c.pool.QueryRow(ctx, `
		UPDATE mcp_tools
		SET enabled = $2, updated_at = NOW()
		WHERE tool_name = $1
		RETURNING`+toolColumns+`
	`, toolName, enabled)
	tool, err := scanTool(row.Scan)
	if err != nil {
		if isNoRows(err) {
			return mcp.Tool{}, fmt.Errorf("%w: %s", mcp.ErrToolNotFound, toolName)
		}
		return mcp.Tool{}, err
	}
	return tool, nil
}

func (c *Catalog) UpsertExternalTool(ctx context.Context, in mcp.ExternalTool) (mcp.Tool, error) {
	if err := mcp.ValidateToolName(in.Name); err != nil {
		return mcp.Tool{}, err
	}
	schema := in.Schema
	if schema == nil {
		schema = map[string]any{}
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("storage: encoding tool schema: %w", err)
	}

	// New tools start enabled; the conflict branch deliberately leaves
	// enabled untouched so a disabled tool stays disabled across syncs.
	row := c.pool.QueryRow(ctx, `
		INSERT INTO mcp_tools (tool_name, display_name, description, source, server_key, tool_schema, enabled)
		VALUES ($1, $2, $3, 'external', $4, $5::jsonb, TRUE)
		ON CONFLICT (tool_name) DO UPDATE
		SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			source = EXCLUDED.source,
			server_key = EXCLUDED.server_key,
			tool_schema = EXCLUDED.tool_schema,
			updated_at = NOW()
		RETURNING`+toolColumns+`
	`, in.Name, in.DisplayName, in.Description, in.ServerKey, string(schemaJSON))
	tool, err := scanTool(row.Scan)
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("storage: upserting external tool: %w", err)
	}
	return tool, nil
}

func (c *Catalog) ListServerTools(ctx context.Context, serverKey string) ([]mcp.Tool, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT`+toolColumns+`
		FROM mcp_tools
		WHERE source = 'external'
		  AND server_key = $1
		ORDER BY tool_name ASC
	`, serverKey)
	if err != nil {
		return nil, fmt.Errorf("storage: listing server tools: %w", err)
	}
	defer rows.Close()

	var tools []mcp.Tool
	for rows.Next() {
		tool, err := scanTool(rows.Scan)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: reading server tools: %w", err)
	}
	return tools, nil
}

func (c *Catalog) DisableServerToolsExcept(ctx context.Context, serverKey string, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := c.pool.Exec(ctx, `
		UPDATE mcp_tools
		SET enabled = FALSE, updated_at = NOW()
		WHERE source = 'external'
		  AND server_key = $1
		  AND enabled
		  AND NOT (tool_name = ANY($2::text[]))
	`, serverKey, keep)
	if err != nil {
		return 0, fmt.Errorf("storage: disabling absent tools: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (c *Catalog) GetServer(ctx context.Context, serverKey string) (mcp.Server, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT`+serverColumns+`
		FROM mcp_servers
		WHERE server_key = $1
	`, serverKey)
	server, err := scanServer(row.Scan)
	if err != nil {
		if isNoRows(err) {
			return mcp.Server{}, fmt.Errorf("%w: %s", mcp.ErrServerNotFound, serverKey)
		}
		return mcp.Server{}, err
	}
	return server, nil
}

func (c *Catalog) ListServers(ctx context.Context) ([]mcp.Server, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT` + serverColumns + `
		FROM mcp_servers
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: listing servers: %w", err)
	}
	defer rows.Close()

	var servers []mcp.Server
	for rows.Next() {
		server, err := scanServer(rows.Scan)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: reading servers: %w", err)
	}
	return servers, nil
}

func (c *Catalog) CreateServer(ctx context.Context, in mcp.ServerInput) (mcp.Server, error) {
	server, err := mcp.NormalizeServerInput(in)
	if err != nil {
		return mcp.Server{}, err
	}
	authJSON, err := json.Marshal(server.AuthConfig)
	if err != nil {
		return mcp.Server{}, fmt.Errorf("storage: encoding auth config: %w", err)
	}

	row := c.pool.QueryRow(ctx, `
		INSERT INTO mcp_servers (
			server_key, name, source_type, endpoint, auth_type, auth_config, enabled, timeout_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, TRUE, $7)
		RETURNING`+serverColumns+`
	`, server.Key, server.Name, server.SourceType, server.Endpoint, server.AuthType, string(authJSON), server.TimeoutMS)
	created, err := scanServer(row.Scan)
	if err != nil {
		if isUniqueViolation(err) {
			return mcp.Server{}, fmt.Errorf("storage: server %s already exists", server.Key)
		}
		return mcp.Server{}, fmt.Errorf("storage: creating server: %w", err)
	}
	c.logger.Info("mcp server registered",
		zap.String("server_key", created.Key),
		zap.String("endpoint", created.Endpoint),
	)
	return created, nil
}

func (c *Catalog) UpdateServer(ctx context.Context, serverKey string, patch mcp.ServerPatch) (mcp.Server, error) {
	if err := mcp.ValidateServerKey(serverKey); err != nil {
		return mcp.Server{}, err
	}
	normalized, err := patch.Normalize()
	if err != nil {
		return mcp.Server{}, err
	}

	var (
		updates []string
		args    []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		updates = append(updates, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if normalized.Name != nil {
		add("name", *normalized.Name)
	}
	if normalized.Endpoint != nil {
		add("endpoint", *normalized.Endpoint)
	}
	if normalized.Enabled != nil {
		add("enabled", *normalized.Enabled)
	}
	if normalized.TimeoutMS != nil {
		add("timeout_ms", *normalized.TimeoutMS)
	}
	if normalized.AuthType != nil {
		add("auth_type", *normalized.AuthType)
	}
	if normalized.AuthConfig != nil {
		authJSON, err := json.Marshal(normalized.AuthConfig)
		if err != nil {
			return mcp.Server{}, fmt.Errorf("storage: encoding auth config: %w", err)
		}
		args = append(args, string(authJSON))
		updates = append(updates, fmt.Sprintf("auth_config = $%d::jsonb", len(args)))
	}

	args = append(args, serverKey)
	row := c.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE mcp_servers
		SET %s, updated_at = NOW()
		WHERE server_key = $%d
		RETURNING%s
	`, strings.Join(updates, ", "), len(args), serverColumns), args...)
	server, err := scanServer(row.Scan)
	if err != nil {
		if isNoRows(err) {
			return mcp.Server{}, fmt.Errorf("%w: %s", mcp.ErrServerNotFound, serverKey)
		}
		return mcp.Server{}, fmt.Errorf("storage: updating server: %w", err)
	}
	return server, nil
}

func scanTool(scan scanFunc) (mcp.Tool, error) {
	var (
		tool      mcp.Tool
		serverKey *string
		schema    []byte
	)
	if err := scan(&tool.Name, &tool.DisplayName, &tool.Description, &tool.Source, &serverKey, &schema, &tool.Enabled); err != nil {
		if isNoRows(err) {
			return mcp.Tool{}, err
		}
		return mcp.Tool{}, fmt.Errorf("storage: scanning tool: %w", err)
	}
	if serverKey != nil {
		tool.ServerKey = *serverKey
	}
	tool.Schema = decodeJSONMap(schema)
	return tool, nil
}

func scanServer(scan scanFunc) (mcp.Server, error) {
	var (
		server mcp.Server
		auth   []byte
	)
	err := scan(&server.Key, &server.Name, &server.SourceType, &server.Endpoint,
		&server.AuthType, &auth, &server.Enabled, &server.TimeoutMS)
	if err != nil {
		if isNoRows(err) {
			return mcp.Server{}, err
		}
		return mcp.Server{}, fmt.Errorf("storage: scanning server: %w", err)
	}
	server.AuthConfig = decodeJSONMap(auth)
	return server, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
