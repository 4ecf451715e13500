package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRouterUnknownRoute(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != errorNotFoundCode {
		t.Fatalf("expected %s, got %v", errorNotFoundCode, body["error"])
	}
}

func TestRouterUnconfiguredGroupIsNotImplemented(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bucket", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	handlers := NewHealthHandlers(
		WithHealthBuild("1.2.3", "test"),
		WithHealthStartedAt(start),
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
	)
	router := NewRouter(WithHealthHandlers(handlers))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["version"] != "1.2.3" || body["uptime"] != "1m30s" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReadyzReportsFailingProbe(t *testing.T) {
	handlers := NewHealthHandlers(
		WithHealthProbe("backend", func(context.Context) error { return errors.New("connection refused") }),
		WithHealthProbe("catalog", func(context.Context) error { return nil }),
	)

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	var body struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != healthStatusDegraded {
		t.Fatalf("expected degraded, got %s", body.Status)
	}
	if body.Checks["catalog"].Status != healthStatusOK {
		t.Fatalf("expected catalog ok, got %s", body.Checks["catalog"].Status)
	}
	if len(body.Details) != 1 || body.Details[0] != "backend: connection refused" {
		t.Fatalf("unexpected details %v", body.Details)
	}
}

func TestReadyzFailingProbeDoesNotCancelOthers(t *testing.T) {
	handlers := NewHealthHandlers(
		WithHealthProbe("backend", func(context.Context) error { return errors.New("connection refused") }),
		WithHealthProbe("redis", func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return ctx.Err()
		}),
	)

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body struct {
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Checks["redis"].Status != healthStatusOK {
		t.Fatalf("expected redis ok after a sibling failed, got %q", body.Checks["redis"].Status)
	}
	if body.Checks["backend"].Status != healthStatusDegraded {
		t.Fatalf("expected backend degraded, got %q", body.Checks["backend"].Status)
	}
}

func TestReadyzWithoutProbes(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandlers().Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
