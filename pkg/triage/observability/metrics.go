package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TriageMetrics holds all Prometheus metrics for the triage pipeline.
type TriageMetrics struct {
	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleSeconds  *prometheus.HistogramVec
	PendingItems  *prometheus.GaugeVec
	ItemsScored   *prometheus.CounterVec

	// Classification metrics
	ClassificationsTotal *prometheus.CounterVec
	ScoreConfidence      *prometheus.HistogramVec
	TransitionsTotal     *prometheus.CounterVec
	StaleSweepsTotal     *prometheus.CounterVec

	// LLM metrics
	LLMCallsTotal     *prometheus.CounterVec
	LLMLatencySeconds *prometheus.HistogramVec
	LLMTokensTotal    *prometheus.CounterVec
	RetriesTotal      *prometheus.CounterVec
	QuotaDeferrals    *prometheus.CounterVec
}

// DefaultTriageMetrics creates metrics on the default registerer.
func DefaultTriageMetrics() *TriageMetrics {
	return NewTriageMetrics(prometheus.DefaultRegisterer)
}

// NewTriageMetrics creates a new set of triage metrics.
func NewTriageMetrics(reg prometheus.Registerer) *TriageMetrics {
	factory := promauto.With(reg)

	return &TriageMetrics{
		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_cycles_total",
				Help: "Total classification cycles per domain",
			},
			[]string{"domain", "status"},
		),
		CycleSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_cycle_seconds",
				Help:    "End-to-end cycle latency",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"domain"},
		),
		PendingItems: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "triage_pending_items",
				Help: "Items waiting for classification at cycle start",
			},
			[]string{"domain"},
		),
		ItemsScored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_items_scored_total",
				Help: "Total items receiving a new score",
			},
			[]string{"domain", "path"},
		),
		ClassificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_classifications_total",
				Help: "Total classifications by resulting label",
			},
			[]string{"domain", "label"},
		),
		ScoreConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_score_confidence",
				Help:    "Adjusted confidence of accepted scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
			},
			[]string{"domain"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_transitions_total",
				Help: "Progress transition decisions",
			},
			[]string{"from", "to", "outcome"},
		),
		StaleSweepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_stale_sweeps_total",
				Help: "Items marked stale by the staleness sweep",
			},
			[]string{"domain"},
		),
		LLMCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_llm_calls_total",
				Help: "Total LLM inference calls",
			},
			[]string{"domain", "model", "status"},
		),
		LLMLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_llm_latency_seconds",
				Help:    "LLM call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
			},
			[]string{"domain", "model"},
		),
		LLMTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_llm_tokens_total",
				Help: "Total tokens charged against the daily budget",
			},
			[]string{"domain", "model"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_llm_retries_total",
				Help: "LLM call retry attempts",
			},
			[]string{"domain", "code"},
		),
		QuotaDeferrals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_quota_deferrals_total",
				Help: "Cycles skipped because the daily token quota was exhausted",
			},
			[]string{"domain"},
		),
	}
}

// RecordCycle records a completed cycle.
func (m *TriageMetrics) RecordCycle(domain, status string, seconds float64) {
	m.CyclesTotal.WithLabelValues(domain, status).Inc()
	m.CycleSeconds.WithLabelValues(domain).Observe(seconds)
}

// SetPendingItems sets the pending backlog gauge.
func (m *TriageMetrics) SetPendingItems(domain string, count float64) {
	m.PendingItems.WithLabelValues(domain).Set(count)
}

// RecordScored records an item scored via the given path (llm, heuristic, sweep).
func (m *TriageMetrics) RecordScored(domain, path string) {
	m.ItemsScored.WithLabelValues(domain, path).Inc()
}

// RecordClassification records an accepted classification.
func (m *TriageMetrics) RecordClassification(domain, label string, confidence float64) {
	m.ClassificationsTotal.WithLabelValues(domain, label).Inc()
	m.ScoreConfidence.WithLabelValues(domain).Observe(confidence)
}

// RecordTransition records a progress transition decision outcome.
func (m *TriageMetrics) RecordTransition(from, to, outcome string) {
	m.TransitionsTotal.WithLabelValues(from, to, outcome).Inc()
}

// RecordStaleSweep records items swept to stale.
func (m *TriageMetrics) RecordStaleSweep(domain string, count int) {
	m.StaleSweepsTotal.WithLabelValues(domain).Add(float64(count))
}

// RecordLLMCall records an inference call.
func (m *TriageMetrics) RecordLLMCall(domain, model, status string, seconds float64) {
	m.LLMCallsTotal.WithLabelValues(domain, model, status).Inc()
	m.LLMLatencySeconds.WithLabelValues(domain, model).Observe(seconds)
}

// RecordTokens records tokens charged to the daily ledger.
func (m *TriageMetrics) RecordTokens(domain, model string, tokens int) {
	m.LLMTokensTotal.WithLabelValues(domain, model).Add(float64(tokens))
}

// RecordRetry records a retry attempt for an error code.
func (m *TriageMetrics) RecordRetry(domain, code string) {
	m.RetriesTotal.WithLabelValues(domain, code).Inc()
}

// RecordQuotaDeferral records a cycle deferred by the quota gate.
func (m *TriageMetrics) RecordQuotaDeferral(domain string) {
	m.QuotaDeferrals.WithLabelValues(domain).Inc()
}
