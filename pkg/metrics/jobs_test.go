package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestJobMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)
	m.Observe("order.expire", "success", 40*time.Millisecond)
	m.Observe("order.expire", "retry", 10*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "delayed_job_outcomes_total", "outcome", "retry"); err != nil || got != 1 {
		t.Fatalf("expected retry=1, got %f (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "delayed_job_duration_seconds", "kind", "order.expire"); err != nil || got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f (%v)", got, err)
	}
}

func TestWebhookMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.IncOutcome("square", "duplicate")
	m.IncOutcome("square", "duplicate")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "payment_webhook_outcomes_total", "outcome", "duplicate"); err != nil || got != 2 {
		t.Fatalf("expected duplicate=2, got %f (%v)", got, err)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var jobs *JobMetrics
	jobs.Observe("x", "y", time.Second)
	NewWebhookMetrics(nil).IncOutcome("square", "applied")
}
