// Package storage owns the PostgreSQL layer: the connection pool, schema
// bootstrap, document lifecycle rows, the persistent MCP tool/server
// catalog, and append-only observability logs.
//
// Chunk content and vectors are written through the vectorstore package;
// this package manages everything around them.
package storage
