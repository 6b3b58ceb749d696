package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// RetrievalLog is one answered question's summary row. Skill logs hang
// off it via InsertSkillLogs.
type RetrievalLog struct {
	TraceID          string
	SessionID        string
	Question         string
	ModelID          string
	TopK             int
	Threshold        float64
	LatencyMS        int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	MCPCallCount     int
	Status           string
	ErrorMessage     string
	Results          []map[string]any
}

// SkillLog is one model or retrieval step inside a retrieval run.
type SkillLog struct {
	SkillName        string
	Status           string
	LatencyMS        int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	InputSummary     string
	OutputSummary    string
	ErrorMessage     string
}

// ToolRun is one gateway tool invocation record.
type ToolRun struct {
	RetrievalLogID   *int64
	TraceID          string
	SessionID        string
	ToolName         string
	Source           string
	Status           string
	LatencyMS        int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	InputSummary     string
	OutputSummary    string
	OutputPayload    map[string]any
	ErrorMessage     string
}

// DeepThinkRun is one pipeline stage record.
type DeepThinkRun struct {
	RetrievalLogID *int64
	TraceID        string
	SessionID      string
	Stage          string
	Status         string
	LatencyMS      int
	InputSummary   string
	OutputSummary  string
	Payload        map[string]any
	ErrorMessage   string
}

// InsertRetrievalLog appends a retrieval record and returns its id for
// linking skill logs and tool runs.
func (s *Store) InsertRetrievalLog(ctx context.Context, rec RetrievalLog) (int64, error) {
	if rec.Status == "" {
		rec.Status = "success"
	}
	results := rec.Results
	if results == nil {
		results = []map[string]any{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return 0, fmt.Errorf("storage: encoding retrieval results: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO retrieval_logs (
			trace_id, session_id, question, model_id, top_k, threshold, latency_ms,
			prompt_tokens, completion_tokens, total_tokens, mcp_call_count,
			status, error_message, results
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb)
		RETURNING id
	`,
		rec.TraceID, textOrNil(rec.SessionID), rec.Question, textOrNil(rec.ModelID),
		rec.TopK, rec.Threshold, rec.LatencyMS,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.MCPCallCount,
		rec.Status, textOrNil(rec.ErrorMessage), string(resultsJSON),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: inserting retrieval log: %w", err)
	}
	return id, nil
}

// InsertSkillLogs appends the skill steps of one retrieval run.
func (s *Store) InsertSkillLogs(ctx context.Context, retrievalLogID int64, traceID, sessionID string, logs []SkillLog) error {
	for _, rec := range logs {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO mcp_skill_logs (
				retrieval_log_id, trace_id, session_id, skill_name, status, latency_ms,
				prompt_tokens, completion_tokens, total_tokens,
				input_summary, output_summary, error_message
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			retrievalLogID, traceID, textOrNil(sessionID), rec.SkillName, rec.Status, rec.LatencyMS,
			rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
			textOrNil(rec.InputSummary), textOrNil(rec.OutputSummary), textOrNil(rec.ErrorMessage),
		)
		if err != nil {
			return fmt.Errorf("storage: inserting skill log %s: %w", rec.SkillName, err)
		}
	}
	return nil
}

// InsertToolRun appends one tool invocation record.
func (s *Store) InsertToolRun(ctx context.Context, rec ToolRun) (int64, error) {
	payload := rec.OutputPayload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("storage: encoding tool run payload: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO tool_runs (
			retrieval_log_id, trace_id, session_id, tool_name, source, status, latency_ms,
			prompt_tokens, completion_tokens, total_tokens,
			input_summary, output_summary, output_payload, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14)
		RETURNING id
	`,
		rec.RetrievalLogID, rec.TraceID, textOrNil(rec.SessionID), rec.ToolName, rec.Source, rec.Status, rec.LatencyMS,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.InputSummary, rec.OutputSummary, string(payloadJSON), textOrNil(rec.ErrorMessage),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: inserting tool run: %w", err)
	}
	return id, nil
}

// InsertDeepThinkRun appends one pipeline stage record.
func (s *Store) InsertDeepThinkRun(ctx context.Context, rec DeepThinkRun) (int64, error) {
	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("storage: encoding deep think payload: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO deep_think_runs (
			retrieval_log_id, trace_id, session_id, stage, status, latency_ms,
			input_summary, output_summary, payload, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
		RETURNING id
	`,
		rec.RetrievalLogID, rec.TraceID, textOrNil(rec.SessionID), rec.Stage, rec.Status, rec.LatencyMS,
		rec.InputSummary, rec.OutputSummary, string(payloadJSON), textOrNil(rec.ErrorMessage),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: inserting deep think run: %w", err)
	}
	return id, nil
}

// textOrNil maps empty strings to NULL for nullable text columns.
func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
