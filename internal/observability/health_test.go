package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", status.Status)
	}
	if status.Service != ServiceName {
		t.Errorf("Expected service '%s', got '%s'", ServiceName, status.Service)
	}
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }

	rec := httptest.NewRecorder()
	ReadinessHandler(
		NamedCheck{Name: "spatialreal", Check: ok},
		NamedCheck{Name: "livekit", Check: ok},
	)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "ready" {
		t.Errorf("Expected status 'ready', got '%s'", status.Status)
	}
	if len(status.Dependencies) != 2 {
		t.Errorf("Expected 2 dependencies, got %d", len(status.Dependencies))
	}
}

func TestReadinessHandler_Unhealthy(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadinessHandler(
		NamedCheck{Name: "livekit", Check: func(ctx context.Context) (bool, error) {
			return false, errors.New("LIVEKIT_URL is not set")
		}},
	)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	dep := status.Dependencies["livekit"]
	if dep.Status != "unhealthy" {
		t.Errorf("Expected livekit 'unhealthy', got '%s'", dep.Status)
	}
	if dep.Message != "LIVEKIT_URL is not set" {
		t.Errorf("Unexpected message '%s'", dep.Message)
	}
}

func TestRunChecks_SkipsNil(t *testing.T) {
	deps, ok := RunChecks(context.Background(), NamedCheck{Name: "none"})
	if !ok {
		t.Error("Expected nil check to be skipped, not failed")
	}
	if len(deps) != 0 {
		t.Errorf("Expected no dependencies, got %d", len(deps))
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}
