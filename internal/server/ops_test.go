package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tagweave/tagweave/config"
)

func TestDescribeShape(t *testing.T) {
	srv, _ := newTestServer(t, config.ServerConfig{}, &fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/api/shape", nil)
	rec := httptest.NewRecorder()
	ctx := srv.echo.NewContext(req, rec)

	if err := srv.describeShape(ctx); err != nil {
		t.Fatalf("describeShape: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp ShapeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %#v", resp.Fields)
	}
	if resp.Fields[0].Name != "summary" || resp.Fields[0].Kind != "text" {
		t.Fatalf("unexpected first field: %+v", resp.Fields[0])
	}
	if resp.Fields[1].Kind != "enum" || len(resp.Fields[1].Values) != 3 {
		t.Fatalf("unexpected enum field: %+v", resp.Fields[1])
	}
	if !strings.Contains(resp.Skeleton, "<response_format>") || !strings.Contains(resp.Skeleton, "<summary>") {
		t.Fatalf("skeleton missing tags:\n%s", resp.Skeleton)
	}
	if len(resp.Constraints) == 0 {
		t.Fatalf("expected constraints from descriptions and enum values")
	}
	var decl struct {
		Fields []json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(resp.Declaration, &decl); err != nil || len(decl.Fields) != 2 {
		t.Fatalf("declaration did not round-trip: %v", err)
	}
}

func TestTelemetrySnapshot(t *testing.T) {
	srv, _ := newTestServer(t, config.ServerConfig{}, &fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/api/telemetry", nil)
	rec := httptest.NewRecorder()
	ctx := srv.echo.NewContext(req, rec)

	if err := srv.telemetrySnapshot(ctx); err != nil {
		t.Fatalf("telemetrySnapshot: %v", err)
	}
	var resp map[string]map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["metrics"]; !ok {
		t.Fatalf("missing metrics section: %#v", resp)
	}
	if _, ok := resp["costs"]; !ok {
		t.Fatalf("missing costs section: %#v", resp)
	}
}

func TestDashboardRendersHTML(t *testing.T) {
	srv, _ := newTestServer(t, config.ServerConfig{}, &fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	rec := httptest.NewRecorder()
	ctx := srv.echo.NewContext(req, rec)

	if err := srv.dashboard(ctx); err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "Operations Dashboard") {
		t.Fatalf("dashboard body missing title")
	}
}
