package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordExchange(t *testing.T) {
	exchangesTotal.Reset()

	RecordExchange(OutcomeSuccess, 300*time.Millisecond)
	RecordExchange(OutcomeSuccess, time.Second)
	RecordExchange(OutcomeInvalid, 0)

	if got := testutil.ToFloat64(exchangesTotal.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Errorf("Expected 2 successes, got %f", got)
	}
	if got := testutil.ToFloat64(exchangesTotal.WithLabelValues(OutcomeInvalid)); got != 1 {
		t.Errorf("Expected 1 invalid, got %f", got)
	}
}

func TestSessionStateAndRestarts(t *testing.T) {
	SetSessionState(2)
	if got := testutil.ToFloat64(sessionState); got != 2 {
		t.Errorf("Expected state 2, got %f", got)
	}

	before := testutil.ToFloat64(schedulerRestarts)
	RecordSchedulerRestart()
	if got := testutil.ToFloat64(schedulerRestarts); got != before+1 {
		t.Errorf("Expected restart count %f, got %f", before+1, got)
	}
}

func TestRecordServerRequest(t *testing.T) {
	serverRequestsTotal.Reset()
	RecordServerRequest(200)
	RecordServerRequest(504)
	RecordServerRequest(504)

	if got := testutil.ToFloat64(serverRequestsTotal.WithLabelValues("504")); got != 2 {
		t.Errorf("Expected 2 timeouts, got %f", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	ObserveBackend("gemma3:4b", 2*time.Second)

	app := fiber.New()
	app.Get("/metrics", Handler(reg))

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "caption_backend_duration_seconds") {
		t.Error("Expected backend histogram in output")
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("Expected Go runtime metrics in output")
	}
}
