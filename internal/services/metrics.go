package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the coordinator
type Metrics struct {
	Queries        *prometheus.CounterVec // by path: "fanout" or "direct"
	DispatchedWork *prometheus.CounterVec // by source and emission status
	AbsorbOutcomes *prometheus.CounterVec // by join outcome
	JoinCompletions prometheus.Counter
	HandoffLatency prometheus.Histogram
	LLMErrors      *prometheus.CounterVec // by call: "analyze" or "synthesize"
	StuckRequests  prometheus.Gauge
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		Queries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "studentquery_queries_total",
			Help: "Total number of student queries by answer path",
		}, []string{"path"}),

		DispatchedWork: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "studentquery_dispatched_work_total",
			Help: "Total number of work units emitted by source and status",
		}, []string{"source", "status"}),

		AbsorbOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "studentquery_absorb_outcomes_total",
			Help: "Total number of absorbed worker results by join outcome",
		}, []string{"outcome"}),

		JoinCompletions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "studentquery_join_completions_total",
			Help: "Total number of fan-out joins that reached completion",
		}),

		HandoffLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "studentquery_handoff_duration_seconds",
			Help:    "Completion handoff latency (synthesis included) in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, // synthesis can take a while
		}),

		LLMErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "studentquery_llm_errors_total",
			Help: "Total number of LLM call failures by call type",
		}, []string{"call"}),

		StuckRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "studentquery_stuck_requests",
			Help: "Requests still pending/processing past the stuck threshold",
		}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance (nil until InitMetrics)
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordQuery records an incoming query by answer path
func (m *Metrics) RecordQuery(path string) {
	m.Queries.WithLabelValues(path).Inc()
}

// RecordDispatch records one emitted work unit
func (m *Metrics) RecordDispatch(source, status string) {
	m.DispatchedWork.WithLabelValues(source, status).Inc()
}

// RecordAbsorb records one absorbed worker result
func (m *Metrics) RecordAbsorb(outcome string) {
	m.AbsorbOutcomes.WithLabelValues(outcome).Inc()
}

// RecordJoinCompletion records a join reaching completion
func (m *Metrics) RecordJoinCompletion() {
	m.JoinCompletions.Inc()
}

// RecordHandoffLatency records completion handoff latency
func (m *Metrics) RecordHandoffLatency(seconds float64) {
	m.HandoffLatency.Observe(seconds)
}

// RecordLLMError records an LLM call failure
func (m *Metrics) RecordLLMError(call string) {
	m.LLMErrors.WithLabelValues(call).Inc()
}

// SetStuckRequests updates the stuck request gauge
func (m *Metrics) SetStuckRequests(count int) {
	m.StuckRequests.Set(float64(count))
}
