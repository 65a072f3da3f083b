package server

import (
	"encoding/json"
	"time"

	"github.com/tagweave/tagweave/internal/agent"
	"github.com/tagweave/tagweave/internal/codec"
	"github.com/tagweave/tagweave/internal/store"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// TokenRequest exchanges a configured API key for a bearer token.
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// TokenResponse carries a bearer token and its lifetime in seconds.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// GenerateRequest is the body of a generation call. Stream switches the
// response to server-sent events.
type GenerateRequest struct {
	Input  map[string]interface{} `json:"input"`
	Stream bool                   `json:"stream,omitempty"`
}

// GenerateResponse is the terminal payload of a run, returned as the JSON
// body or as the final "result" event of a stream.
type GenerateResponse struct {
	RunID      string           `json:"run_id"`
	Output     *codec.Map       `json:"output"`
	Raw        string           `json:"raw,omitempty"`
	ToolCalls  []agent.ToolCall `json:"tool_calls,omitempty"`
	Usage      agent.Usage      `json:"usage"`
	DurationMS int64            `json:"duration_ms"`
}

// RunResponse is a persisted run record view.
type RunResponse struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Raw        string          `json:"raw,omitempty"`
	Error      *string         `json:"error,omitempty"`
	Cost       float64         `json:"cost"`
	TokensUsed int64           `json:"tokens_used"`
	DurationMS int64           `json:"duration_ms"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// ToolCallResponse is a persisted capability invocation view.
type ToolCallResponse struct {
	Seq        int             `json:"seq"`
	Provider   string          `json:"provider"`
	Capability string          `json:"capability"`
	Params     json.RawMessage `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// StatsResponse aggregates run outcomes.
type StatsResponse struct {
	TotalRuns   int64   `json:"total_runs"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	TotalCost   float64 `json:"total_cost"`
	TotalTokens int64   `json:"total_tokens"`
}

// ScheduleRequest creates or updates a recurring generation.
type ScheduleRequest struct {
	Name    string          `json:"name"`
	Cron    string          `json:"cron"`
	Input   json.RawMessage `json:"input"`
	Enabled *bool           `json:"enabled,omitempty"`
}

// ScheduleResponse is a persisted schedule view.
type ScheduleResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Cron      string          `json:"cron"`
	Input     json.RawMessage `json:"input,omitempty"`
	Enabled   bool            `json:"enabled"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ShapeResponse describes the configured output shape.
type ShapeResponse struct {
	Declaration json.RawMessage  `json:"declaration"`
	Skeleton    string           `json:"skeleton"`
	Constraints []ConstraintView `json:"constraints,omitempty"`
	Fields      []FieldView      `json:"fields"`
}

// ConstraintView is one free-text rule attached to a shape path.
type ConstraintView struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// FieldView mirrors one declared field, nested records included.
type FieldView struct {
	Name        string      `json:"name"`
	Kind        string      `json:"kind"`
	Description string      `json:"description,omitempty"`
	Values      []string    `json:"values,omitempty"`
	Optional    bool        `json:"optional,omitempty"`
	Children    []FieldView `json:"children,omitempty"`
}

func newRunResponse(rec store.RunRecord) RunResponse {
	return RunResponse{
		ID:         rec.ID,
		Status:     rec.Status,
		Input:      rec.Input,
		Output:     rec.Output,
		Raw:        rec.Raw,
		Error:      rec.Error,
		Cost:       rec.Cost,
		TokensUsed: rec.TokensUsed,
		DurationMS: rec.DurationMS,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
}

func newToolCallResponse(rec store.ToolCallRecord) ToolCallResponse {
	return ToolCallResponse{
		Seq:        rec.Seq,
		Provider:   rec.Provider,
		Capability: rec.Capability,
		Params:     rec.Params,
		Result:     rec.Result,
		CreatedAt:  rec.CreatedAt,
	}
}

func newScheduleResponse(rec store.ScheduleRecord) ScheduleResponse {
	return ScheduleResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		Cron:      rec.Cron,
		Input:     rec.Input,
		Enabled:   rec.Enabled,
		LastRunAt: rec.LastRunAt,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}
