package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	OutboxOutcomePublished = "published"
	OutboxOutcomeRetry     = "retry"
	OutboxOutcomeParked    = "parked"
	OutboxOutcomeDeferred  = "deferred"
)

// OutboxMetrics counts relay attempts per event type.
type OutboxMetrics struct {
	outcomes *prometheus.CounterVec
	batches  prometheus.Counter
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_outcomes_total",
		Help: "Outbox rows handled by the relay, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_batches_total",
		Help: "Non-empty outbox batches claimed by the relay.",
	})
	reg.MustRegister(outcomes, batches)
	return &OutboxMetrics{outcomes: outcomes, batches: batches}
}

func (m *OutboxMetrics) IncOutcome(eventType, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *OutboxMetrics) IncBatch() {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Inc()
}
