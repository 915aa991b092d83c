package observability

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/crawlkeep/crawlkeep/internal/driver"
	"github.com/crawlkeep/crawlkeep/internal/scrapeerr"
	"github.com/crawlkeep/crawlkeep/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func scrapeBody(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}

func TestNewMetricsStartsAtZero(t *testing.T) {
	m := New(testLogger)
	body := scrapeBody(t, m)
	if !strings.Contains(body, "crawlkeep_requests_completed_total 0") {
		t.Errorf("expected crawlkeep_requests_completed_total at 0, got:\n%s", body)
	}
}

func TestWrapIncrementsItemsStoredAndCallsUserHook(t *testing.T) {
	m := New(testLogger)
	var gotData any
	cb := driver.Callbacks{OnData: func(data any) { gotData = data }}
	wrapped := m.Wrap(cb)

	wrapped.OnData("payload")

	if gotData != "payload" {
		t.Fatalf("user OnData not called, got %v", gotData)
	}
	body := scrapeBody(t, m)
	if !strings.Contains(body, "crawlkeep_items_stored_total 1") {
		t.Errorf("expected crawlkeep_items_stored_total at 1, got:\n%s", body)
	}
}

func TestWrapStructuralErrorDefaultsToDeclineWhenNoUserHook(t *testing.T) {
	m := New(testLogger)
	wrapped := m.Wrap(driver.Callbacks{})

	genErr := scrapeerr.NewStructural("http://example.com", ".item", "css", "expected at least one item", 1, nil, 0)
	if wrapped.OnStructuralError(genErr) {
		t.Fatalf("expected false when no user OnStructuralError is set")
	}
	body := scrapeBody(t, m)
	if !strings.Contains(body, "crawlkeep_structural_errors_total 1") {
		t.Errorf("expected crawlkeep_structural_errors_total at 1, got:\n%s", body)
	}
}

func TestWrapTransientExceptionLabelsByKind(t *testing.T) {
	m := New(testLogger)
	wrapped := m.Wrap(driver.Callbacks{})

	genErr := scrapeerr.NewTransientStatus("http://example.com", 503)
	wrapped.OnTransientException(genErr, 1, false)

	body := scrapeBody(t, m)
	if !strings.Contains(body, `crawlkeep_requests_retried_total{kind="transient"} 1`) {
		t.Errorf("expected retried counter labeled transient, got:\n%s", body)
	}

	wrapped.OnTransientException(genErr, 5, true)
	body = scrapeBody(t, m)
	if !strings.Contains(body, "crawlkeep_requests_failed_total 1") {
		t.Errorf("expected crawlkeep_requests_failed_total at 1, got:\n%s", body)
	}
}

func TestWrapProgressUpdatesGauges(t *testing.T) {
	m := New(testLogger)
	wrapped := m.Wrap(driver.Callbacks{})

	wrapped.OnProgress(driver.ProgressEvent{Type: driver.EventWorkerScaled, Active: 3, Pending: 7, Rate: 2.5})

	body := scrapeBody(t, m)
	if !strings.Contains(body, "crawlkeep_active_workers 3") {
		t.Errorf("expected crawlkeep_active_workers at 3, got:\n%s", body)
	}
	if !strings.Contains(body, "crawlkeep_pending_queue_depth 7") {
		t.Errorf("expected crawlkeep_pending_queue_depth at 7, got:\n%s", body)
	}
	if !strings.Contains(body, "crawlkeep_rate_limiter_tokens_per_second 2.5") {
		t.Errorf("expected crawlkeep_rate_limiter_tokens_per_second at 2.5, got:\n%s", body)
	}
}

func TestWrapRunLifecycleCounters(t *testing.T) {
	m := New(testLogger)
	wrapped := m.Wrap(driver.Callbacks{})

	wrapped.OnRunStart("run-1")
	wrapped.OnRunComplete("run-1", store.RunCompleted)

	body := scrapeBody(t, m)
	if !strings.Contains(body, "crawlkeep_runs_started_total 1") {
		t.Errorf("expected crawlkeep_runs_started_total at 1, got:\n%s", body)
	}
	if !strings.Contains(body, `crawlkeep_runs_finished_total{status="completed"} 1`) {
		t.Errorf("expected runs_finished labeled completed, got:\n%s", body)
	}
}
