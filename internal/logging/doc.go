// Package logging wraps Zap with context-aware correlation fields.
//
// Every log call takes a context.Context; trace, task, and document ids
// stored in the context are appended to the entry automatically:
//
//	ctx = logging.WithTraceID(ctx, traceID)
//	ctx = logging.WithDocumentID(ctx, doc.ID)
//	logger.Info(ctx, "chunks stored", zap.Int("count", n))
//
// Components that only need plain structured logging keep receiving a
// *zap.Logger via their constructors; this wrapper is for the request
// and job paths where correlation matters.
package logging
