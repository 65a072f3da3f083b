package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// List runs
//
//	@Summary	List recent runs
//	@Tags		runs
//	@Security	BearerAuth
//	@Param		limit	query	int	false	"Maximum records to return"
//	@Produce	json
//	@Success	200	{array}		RunResponse
//	@Failure	500	{object}	HTTPError
//	@Router		/api/runs [get]
func (s *Server) listRuns(c echo.Context) error {
	limit := 0
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	records, err := s.store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RunResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, newRunResponse(rec))
	}
	return c.JSON(http.StatusOK, out)
}

// Get a run
//
//	@Summary	Run by ID
//	@Tags		runs
//	@Security	BearerAuth
//	@Param		id	path	string	true	"Run ID"
//	@Produce	json
//	@Success	200	{object}	RunResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/runs/{id} [get]
func (s *Server) getRun(c echo.Context) error {
	rec, ok, err := s.store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, newRunResponse(rec))
}

// List a run's capability invocations
//
//	@Summary	Capability invocations of a run
//	@Tags		runs
//	@Security	BearerAuth
//	@Param		id	path	string	true	"Run ID"
//	@Produce	json
//	@Success	200	{array}		ToolCallResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/runs/{id}/calls [get]
func (s *Server) listRunCalls(c echo.Context) error {
	id := c.Param("id")
	_, ok, err := s.store.GetRun(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	records, err := s.store.ListToolCalls(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ToolCallResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, newToolCallResponse(rec))
	}
	return c.JSON(http.StatusOK, out)
}

// Run statistics
//
//	@Summary	Aggregate run outcomes
//	@Tags		runs
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	StatsResponse
//	@Failure	500	{object}	HTTPError
//	@Router		/api/stats [get]
func (s *Server) runStats(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, StatsResponse{
		TotalRuns:   stats.TotalRuns,
		Succeeded:   stats.Succeeded,
		Failed:      stats.Failed,
		TotalCost:   stats.TotalCost,
		TotalTokens: stats.TotalTokens,
	})
}
