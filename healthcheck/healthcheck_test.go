package healthcheck

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealthReady(t *testing.T) {
	s := New("127.0.0.1:0", func() bool { return true }, NewMetrics("test_ready"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Fatalf("expected body OK, got %q", rec.Body.String())
	}
}

func TestHandleHealthNotReady(t *testing.T) {
	s := New("127.0.0.1:0", func() bool { return false }, NewMetrics("test_notready"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	s.handleHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsIncrement(t *testing.T) {
	m := NewMetrics("test_counters")
	m.MessageReceived()
	m.MessageSent()
	m.DuplicateCaught()
	m.RingPassed()
	m.RingRetried()
	m.SetClientsActive(3)
	m.ObserveWALAppend(0.01)
}
