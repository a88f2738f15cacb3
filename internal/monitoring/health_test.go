package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth(t *testing.T) {
	hm := NewHealthMonitor()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hm.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected status healthy, got %q", body["status"])
	}
}

func TestHandleStatus(t *testing.T) {
	hm := NewHealthMonitor()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	hm.handleStatus(rec, req)

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if status.System.NumCPU <= 0 {
		t.Error("expected positive CPU count")
	}
	if status.ForwardPasses < 0 {
		t.Error("expected non-negative forward pass count")
	}
}

func TestStopWithoutStart(t *testing.T) {
	hm := NewHealthMonitor()
	if err := hm.Stop(t.Context()); err != nil {
		t.Errorf("Stop without Start should be nil, got %v", err)
	}
}
