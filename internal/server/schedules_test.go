package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/tagweave/tagweave/config"
)

func scheduleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "cron", "input", "enabled", "last_run_at", "created_at", "updated_at",
	})
}

func TestCreateScheduleAppliesDefaults(t *testing.T) {
	srv, mock := newTestServer(t, config.ServerConfig{}, &fakeRunner{})
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO schedules`).
		WithArgs("daily brief", "@daily", []byte(`{}`), true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("sched-1", now, now))

	req := jsonRequest(http.MethodPost, "/api/schedules", `{"name":"daily brief"}`)
	rec := httptest.NewRecorder()
	ctx := srv.echo.NewContext(req, rec)

	if err := srv.createSchedule(ctx); err != nil {
		t.Fatalf("createSchedule: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}
	var resp ScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "sched-1" || resp.Cron != "@daily" || !resp.Enabled {
		t.Fatalf("unexpected schedule: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateScheduleRequiresName(t *testing.T) {
	srv, _ := newTestServer(t, config.ServerConfig{}, &fakeRunner{})

	req := jsonRequest(http.MethodPost, "/api/schedules", `{"cron":"@hourly"}`)
	rec := httptest.NewRecorder()
	ctx := srv.echo.NewContext(req, rec)

	err := srv.createSchedule(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}

func TestCreateScheduleRejectsBadCron(t *testing.T) {
	srv, _ := newTestServer(t, config.ServerConfig{}, &fakeRunner{})

	req := jsonRequest(http.MethodPost, "/api/schedules", `{"name":"x","cron":"every tuesday maybe"}`)
	rec := httptest.NewRecorder()
	ctx := srv.echo.NewContext(req, rec)

	err := srv.createSchedule(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}

func TestUpdateScheduleRoundTrip(t *testing.T) {
	srv, mock := newTestServer(t, config.ServerConfig{}, &fakeRunner{})
	now := time.Now()

	mock.ExpectExec(`UPDATE schedules SET name=\$2`).
		WithArgs("sched-1", "weekly digest", "@hourly", []byte(`{"topic":"go"}`), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM schedules\s+WHERE id=\$1`).
		WithArgs("sched-1").
		WillReturnRows(scheduleRows().
			AddRow("sched-1", "weekly digest", "@hourly", []byte(`{"topic":"go"}`), false, nil, now, now))

	req := jsonRequest(http.MethodPut, "/api/schedules/sched-1",
		`{"name":"weekly digest","cron":"@hourly","input":{"topic":"go"},"enabled":false}`)
	rec := httptest.NewRecorder()
	ctx := srv.echo.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("sched-1")

	if err := srv.updateSchedule(ctx); err != nil {
		t.Fatalf("updateSchedule: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp ScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Name != "weekly digest" || resp.Enabled {
		t.Fatalf("unexpected schedule: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateScheduleNotFound(t *testing.T) {
	srv, mock := newTestServer(t, config.ServerConfig{}, &fakeRunner{})

	mock.ExpectExec(`UPDATE schedules SET name=\$2`).
		WithArgs("sched-9", "ghost", "@daily", []byte(`{}`), true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	req := jsonRequest(http.MethodPut, "/api/schedules/sched-9", `{"name":"ghost","cron":"@daily"}`)
	rec := httptest.NewRecorder()
	ctx := srv.echo.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("sched-9")

	err := srv.updateSchedule(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 error, got %#v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteSchedule(t *testing.T) {
	srv, mock := newTestServer(t, config.ServerConfig{}, &fakeRunner{})

	mock.ExpectExec(`DELETE FROM schedules`).
		WithArgs("sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodDelete, "/api/schedules/sched-1", nil)
	rec := httptest.NewRecorder()
	ctx := srv.echo.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("sched-1")

	if err := srv.deleteSchedule(ctx); err != nil {
		t.Fatalf("deleteSchedule: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListSchedules(t *testing.T) {
	srv, mock := newTestServer(t, config.ServerConfig{}, &fakeRunner{})
	now := time.Now()

	mock.ExpectQuery(`FROM schedules\s+ORDER BY created_at`).
		WillReturnRows(scheduleRows().
			AddRow("sched-1", "daily brief", "@daily", []byte(`{}`), true, now, now, now).
			AddRow("sched-2", "hourly pulse", "@hourly", []byte(`{}`), false, nil, now, now))

	req := httptest.NewRequest(http.MethodGet, "/api/schedules", nil)
	rec := httptest.NewRecorder()
	ctx := srv.echo.NewContext(req, rec)

	if err := srv.listSchedules(ctx); err != nil {
		t.Fatalf("listSchedules: %v", err)
	}
	var resp []ScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 || resp[0].LastRunAt == nil || resp[1].LastRunAt != nil {
		t.Fatalf("unexpected schedules: %#v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
