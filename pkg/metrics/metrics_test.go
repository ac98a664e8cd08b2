package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.TurnProcessed("greeting")
	m.ForcedExit("refusal")
	m.CallFinished(time.Second)
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	m.ForcedExit("repeated_refusal")
	m.Step("negotiation", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `negotiator_forced_exits_total{reason="repeated_refusal"} 1`) {
		t.Fatalf("forced exit counter missing from output:\n%s", body)
	}
	if !strings.Contains(string(body), `negotiator_pipeline_steps_total{outcome="ok",step="negotiation"} 1`) {
		t.Fatalf("step counter missing from output")
	}
}
