package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tagweave/tagweave/internal/agent"
	"github.com/tagweave/tagweave/internal/codec"
	"github.com/tagweave/tagweave/internal/store"
	"github.com/tagweave/tagweave/internal/stream"
)

// Generate
//
//	@Summary		Run structured generation
//	@Description	Resolves input fields, consults capability providers and returns the shaped record. With stream=true the response is SSE.
//	@Tags			generate
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		GenerateRequest	true	"Generation input"
//	@Success		200		{object}	GenerateResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/generate [post]
func (s *Server) generate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Stream && !s.cfg.StreamEnabled {
		return echo.NewHTTPError(http.StatusNotImplemented, "streaming disabled")
	}
	input, ok := codec.FromPlain(req.Input).(*codec.Map)
	if !ok {
		input = codec.NewMap()
	}

	rawInput, err := json.Marshal(req.Input)
	if err != nil || req.Input == nil {
		rawInput = []byte("{}")
	}
	runID := uuid.New().String()
	if err := s.store.CreateRun(c.Request().Context(), runID, rawInput); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if req.Stream {
		return s.generateStream(c, runID, input)
	}

	started := time.Now()
	res, err := s.runner.Run(c.Request().Context(), input, agent.WithRunID(runID))
	recordOutcome(s.store, s.logger, runID, res, err, time.Since(started))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, newGenerateResponse(runID, res, time.Since(started)))
}

func (s *Server) generateStream(c echo.Context, runID string, input *codec.Map) error {
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	sink := &sseSink{resp: resp, flusher: flusher}
	started := time.Now()
	res, err := s.runner.Run(c.Request().Context(), input,
		agent.WithRunID(runID), agent.WithStream(), agent.WithProgress(sink))
	recordOutcome(s.store, s.logger, runID, res, err, time.Since(started))
	if err != nil {
		sink.event("error", HTTPError{Error: err.Error()})
		return nil
	}
	sink.event("result", newGenerateResponse(runID, res, time.Since(started)))
	return nil
}

// sseSink writes progress callbacks as server-sent events. The runner calls
// it from the handler goroutine, so writes need no locking.
type sseSink struct {
	resp    *echo.Response
	flusher http.Flusher
}

func (s *sseSink) event(name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(s.resp, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return
	}
	s.flusher.Flush()
}

func (s *sseSink) Phase(name, detail string) {
	s.event("phase", map[string]string{"name": name, "detail": detail})
}

func (s *sseSink) Field(update stream.Update) {
	s.event("field", map[string]string{"path": update.Path, "text": update.Text})
}

func newGenerateResponse(runID string, res agent.Result, took time.Duration) GenerateResponse {
	return GenerateResponse{
		RunID:      runID,
		Output:     res.Output,
		Raw:        res.Raw,
		ToolCalls:  res.ToolCalls,
		Usage:      res.Usage,
		DurationMS: took.Milliseconds(),
	}
}

// recordOutcome persists the terminal state of a run. It runs on a fresh
// context: a client that disconnected mid-stream must not void the record.
func recordOutcome(st *store.Store, logger *log.Logger, runID string, res agent.Result, runErr error, took time.Duration) {
	ctx := context.Background()
	rec := store.RunRecord{
		ID:         runID,
		Status:     store.RunStatusSucceeded,
		DurationMS: took.Milliseconds(),
	}
	if runErr != nil {
		rec.Status = store.RunStatusFailed
		msg := runErr.Error()
		rec.Error = &msg
	} else {
		if out, err := json.Marshal(res.Output); err == nil {
			rec.Output = out
		}
		rec.Raw = res.Raw
		rec.Cost = res.Usage.Cost
		rec.TokensUsed = res.Usage.PromptTokens + res.Usage.CompletionTokens
	}
	if err := st.FinishRun(ctx, rec); err != nil {
		logger.Printf("recording run %s: %v", runID, err)
		return
	}
	if runErr != nil || len(res.ToolCalls) == 0 {
		return
	}
	calls := make([]store.ToolCallRecord, 0, len(res.ToolCalls))
	for _, call := range res.ToolCalls {
		params, _ := json.Marshal(call.Params)
		result, _ := json.Marshal(call.Result)
		calls = append(calls, store.ToolCallRecord{
			Provider:   call.Provider,
			Capability: call.Capability,
			Params:     params,
			Result:     result,
		})
	}
	if err := st.InsertToolCalls(ctx, runID, calls); err != nil {
		logger.Printf("recording tool calls for run %s: %v", runID, err)
	}
}

// decodeRunInput turns a stored JSON input document back into pipeline form.
func decodeRunInput(raw json.RawMessage) (*codec.Map, error) {
	if len(raw) == 0 {
		return codec.NewMap(), nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding input: %w", err)
	}
	input, ok := codec.FromPlain(m).(*codec.Map)
	if !ok {
		return codec.NewMap(), nil
	}
	return input, nil
}
