// Package vectorstore persists chunk embeddings and serves similarity
// search over them.
//
// Three drivers implement the same Store contract: pgvector (PostgreSQL,
// the production default), chromem (embedded, local-first), and qdrant
// (external service via gRPC). Scores are cosine similarities.
//
// Search retrieves an oversized candidate set and, unless disabled, reranks
// it parent-first: candidates are grouped by the parent block they belong
// to, groups are ranked by their best child score, and sibling chunks
// adjacent to each hit are pulled back in to rebuild context around it.
// Expanded siblings inherit the hit's score minus a small penalty per step
// of distance. When fewer than two candidates share ranked parents, the
// rerank stands down and the plain score ordering is returned.
//
// # Provider Selection
//
// Provider selection via config:
//
//	vectorstore:
//	  driver: pgvector  # "pgvector" (default), "chromem", or "qdrant"
package vectorstore
