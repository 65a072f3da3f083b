package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tagweave/tagweave/internal/codec"
	"github.com/tagweave/tagweave/internal/shape"
)

// Shape description
//
//	@Summary	Describe the configured output shape
//	@Tags		ops
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	ShapeResponse
//	@Router		/api/shape [get]
func (s *Server) describeShape(c echo.Context) error {
	constraints := s.output.Constraints()
	views := make([]ConstraintView, 0, len(constraints))
	for _, con := range constraints {
		views = append(views, ConstraintView{Path: con.Path, Text: con.Text})
	}
	return c.JSON(http.StatusOK, ShapeResponse{
		Declaration: json.RawMessage(s.output.Declaration()),
		Skeleton:    codec.Encode(s.output.Skeleton(), "response_format"),
		Constraints: views,
		Fields:      fieldViews(s.output.Fields()),
	})
}

func fieldViews(fields []shape.Field) []FieldView {
	out := make([]FieldView, 0, len(fields))
	for _, f := range fields {
		out = append(out, FieldView{
			Name:        f.Name,
			Kind:        f.Kind.String(),
			Description: f.Description,
			Values:      f.Values,
			Optional:    f.Optional,
			Children:    fieldViews(f.Children),
		})
	}
	return out
}

// Telemetry snapshot
//
//	@Summary	Pipeline metrics and cost summary
//	@Tags		ops
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	map[string]interface{}
//	@Router		/api/telemetry [get]
func (s *Server) telemetrySnapshot(c echo.Context) error {
	metrics := s.tel.GetMetrics()
	costs := s.tel.GetCostSummary()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"metrics": map[string]interface{}{
			"total_runs":          metrics.TotalRuns,
			"successful_runs":     metrics.SuccessfulRuns,
			"failed_runs":         metrics.FailedRuns,
			"average_run_time_ms": metrics.AverageRunTime.Milliseconds(),
			"phase_executions":    metrics.PhaseExecutions,
			"phase_success_rates": metrics.PhaseSuccessRates,
			"model_requests":      metrics.ModelRequests,
			"model_tokens_used":   metrics.ModelTokensUsed,
			"capability_requests": metrics.CapabilityRequests,
		},
		"costs": map[string]interface{}{
			"total_cost":   costs.TotalCost,
			"total_tokens": costs.TotalTokens,
			"model_costs":  costs.ModelCosts,
			"phase_costs":  costs.PhaseCosts,
		},
	})
}

// dashboard renders key metrics as plain HTML without JS.
func (s *Server) dashboard(c echo.Context) error {
	metrics := s.tel.GetMetrics()
	costs := s.tel.GetCostSummary()
	var b strings.Builder
	b.WriteString("<!doctype html><html><head><meta charset=\"utf-8\"><meta name=\"viewport\" content=\"width=device-width, initial-scale=1\"><title>Ops Dashboard</title></head><body style=\"font-family:system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial,sans-serif; color:#e5e7eb; background:#0f172a;\">")
	b.WriteString("<div style=\"max-width:960px;margin:24px auto;padding:0 16px\">")
	b.WriteString("<h1 style=\"font-size:18px;font-weight:600;margin-bottom:8px\">Operations Dashboard</h1>")
	b.WriteString("<pre style=\"background:#0b1220;border:1px solid #1f2937;border-radius:8px;padding:12px;overflow:auto\"><code>")
	if enc, err := json.MarshalIndent(metrics, "", "  "); err == nil {
		b.Write(enc)
	}
	b.WriteString("</code></pre>")
	b.WriteString("<h2 style=\"font-size:14px;font-weight:600;margin:16px 0 8px\">Costs</h2>")
	b.WriteString("<pre style=\"background:#0b1220;border:1px solid #1f2937;border-radius:8px;padding:12px;overflow:auto\"><code>")
	if enc, err := json.MarshalIndent(costs, "", "  "); err == nil {
		b.Write(enc)
	}
	b.WriteString("</code></pre>")
	b.WriteString("</div></body></html>")
	return c.HTML(http.StatusOK, b.String())
}
