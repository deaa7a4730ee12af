package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.JobStarted()
	m.JobFinished("done", "zoom")
	m.ObserveStage("joining", time.Second)
	m.StageFailed("joining")
	m.ObserveJoinStep("zoom", "join", "succeeded")
	m.ReportingFailed("crm")
	m.ObserveRecording(time.Minute)
	m.SetQueueDepth(3)
	if m.Handler() == nil {
		t.Fatal("expected fallback handler")
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestCounters(t *testing.T) {
	m := New()
	m.JobStarted()
	m.JobFinished("failed", "googleMeet")
	m.ObserveJoinStep("googleMeet", "join", "exhausted")
	m.ReportingFailed("notifier")
	m.ReportingFailed("notifier")

	out := scrape(t, m)
	for _, want := range []string{
		`meetbot_jobs_total{outcome="failed",platform="googleMeet"} 1`,
		`meetbot_jobs_in_flight 0`,
		`meetbot_join_steps_total{outcome="exhausted",platform="googleMeet",step="join"} 1`,
		`meetbot_reporting_failures_total{sink="notifier"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}

func TestRegistererIsolation(t *testing.T) {
	// two instances on separate registries must not collide
	NewWithRegisterer(prometheus.NewRegistry())
	NewWithRegisterer(prometheus.NewRegistry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.StageFailed("recording")

	body := scrape(t, m)
	if !strings.Contains(body, `meetbot_stage_failures_total{stage="recording"} 1`) {
		t.Errorf("expected stage failure metric in output")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Errorf("expected go runtime metrics in output")
	}
}
