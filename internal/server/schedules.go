package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/tagweave/tagweave/internal/store"
)

// Create schedule
//
//	@Summary	Create a recurring generation
//	@Tags		schedules
//	@Security	BearerAuth
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		ScheduleRequest	true	"Schedule payload"
//	@Success	201		{object}	ScheduleResponse
//	@Failure	400		{object}	HTTPError
//	@Failure	500		{object}	HTTPError
//	@Router		/api/schedules [post]
func (s *Server) createSchedule(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if err := validateCron(req.Cron); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rec, err := s.store.CreateSchedule(c.Request().Context(), store.ScheduleRecord{
		Name:    strings.TrimSpace(req.Name),
		Cron:    strings.TrimSpace(req.Cron),
		Input:   req.Input,
		Enabled: enabled,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, newScheduleResponse(rec))
}

// List schedules
//
//	@Summary	List schedules
//	@Tags		schedules
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{array}		ScheduleResponse
//	@Failure	500	{object}	HTTPError
//	@Router		/api/schedules [get]
func (s *Server) listSchedules(c echo.Context) error {
	records, err := s.store.ListSchedules(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ScheduleResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, newScheduleResponse(rec))
	}
	return c.JSON(http.StatusOK, out)
}

// Get schedule
//
//	@Summary	Schedule by ID
//	@Tags		schedules
//	@Security	BearerAuth
//	@Param		id	path	string	true	"Schedule ID"
//	@Produce	json
//	@Success	200	{object}	ScheduleResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/schedules/{id} [get]
func (s *Server) getSchedule(c echo.Context) error {
	rec, ok, err := s.store.GetSchedule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
	}
	return c.JSON(http.StatusOK, newScheduleResponse(rec))
}

// Update schedule
//
//	@Summary	Update a schedule
//	@Tags		schedules
//	@Security	BearerAuth
//	@Accept		json
//	@Produce	json
//	@Param		id		path	string			true	"Schedule ID"
//	@Param		payload	body	ScheduleRequest	true	"Schedule payload"
//	@Success	200	{object}	ScheduleResponse
//	@Failure	400	{object}	HTTPError
//	@Failure	404	{object}	HTTPError
//	@Router		/api/schedules/{id} [put]
func (s *Server) updateSchedule(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if err := validateCron(req.Cron); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	id := c.Param("id")
	ok, err := s.store.UpdateSchedule(c.Request().Context(), store.ScheduleRecord{
		ID:      id,
		Name:    strings.TrimSpace(req.Name),
		Cron:    strings.TrimSpace(req.Cron),
		Input:   req.Input,
		Enabled: enabled,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
	}
	rec, ok, err := s.store.GetSchedule(c.Request().Context(), id)
	if err != nil || !ok {
		return c.NoContent(http.StatusOK)
	}
	return c.JSON(http.StatusOK, newScheduleResponse(rec))
}

// Delete schedule
//
//	@Summary	Delete a schedule
//	@Tags		schedules
//	@Security	BearerAuth
//	@Param		id	path	string	true	"Schedule ID"
//	@Success	204	{string}	string	"No Content"
//	@Failure	404	{object}	HTTPError
//	@Router		/api/schedules/{id} [delete]
func (s *Server) deleteSchedule(c echo.Context) error {
	ok, err := s.store.DeleteSchedule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// validateCron accepts the same forms the scheduler understands: the
// @daily and @hourly shortcuts, a cron expression, or empty (the store
// substitutes @daily).
func validateCron(spec string) error {
	spec = strings.TrimSpace(spec)
	switch spec {
	case "", "@daily", "@hourly":
		return nil
	}
	if _, err := cronexpr.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q", spec)
	}
	return nil
}
