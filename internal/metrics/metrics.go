// Package metrics exposes Prometheus collectors for the chat stream pipeline
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ragchat"

// StreamMetrics groups the collectors recorded per chat stream.
// A nil *StreamMetrics is valid and records nothing.
type StreamMetrics struct {
	requests        *prometheus.CounterVec
	errors          *prometheus.CounterVec
	retrievalTime   prometheus.Histogram
	firstTokenTime  prometheus.Histogram
	totalTime       *prometheus.HistogramVec
	tokens          prometheus.Counter
	tokensPerSecond prometheus.Histogram
	persistence     *prometheus.CounterVec
	activeStreams   prometheus.Gauge
}

// NewStreamMetrics registers the stream collectors with reg
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	factory := promauto.With(reg)

	return &StreamMetrics{
		// Labels: mode (single, comparison), outcome (done, error, disconnected)
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "requests_total",
			Help:      "Total chat streams by mode and outcome",
		}, []string{"mode", "outcome"}),

		// Labels: type (classified error type)
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Total classified stream errors",
		}, []string{"type"}),

		retrievalTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "retrieval_seconds",
			Help:      "Time from request start until documents are retrieved",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		firstTokenTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "first_token_seconds",
			Help:      "Time from request start until the first generated token",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		totalTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Total chat stream duration",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"mode"}),

		tokens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "tokens_total",
			Help:      "Total tokens streamed to clients",
		}),

		tokensPerSecond: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "tokens_per_second",
			Help:      "Generation throughput per stream",
			Buckets:   []float64{1, 5, 10, 20, 40, 80, 160},
		}),

		// Labels: op (create, title), status (ok, error)
		persistence: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "operations_total",
			Help:      "Conversation record store operations",
		}, []string{"op", "status"}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Chat streams currently open",
		}),
	}
}

// StreamStarted records an opened stream
func (m *StreamMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

// StreamFinished records a closed stream and its outcome
func (m *StreamMetrics) StreamFinished(mode, outcome string, total time.Duration) {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
	m.requests.WithLabelValues(mode, outcome).Inc()
	m.totalTime.WithLabelValues(mode).Observe(total.Seconds())
}

// RecordError counts a classified error
func (m *StreamMetrics) RecordError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}

// RecordRetrieval observes retrieval latency
func (m *StreamMetrics) RecordRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.retrievalTime.Observe(d.Seconds())
}

// RecordFirstToken observes time to first token
func (m *StreamMetrics) RecordFirstToken(d time.Duration) {
	if m == nil {
		return
	}
	m.firstTokenTime.Observe(d.Seconds())
}

// RecordTokens adds streamed tokens and observes throughput
func (m *StreamMetrics) RecordTokens(count int, perSecond float64) {
	if m == nil {
		return
	}
	m.tokens.Add(float64(count))
	if perSecond > 0 {
		m.tokensPerSecond.Observe(perSecond)
	}
}

// RecordPersistence counts a store operation
func (m *StreamMetrics) RecordPersistence(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.persistence.WithLabelValues(op, status).Inc()
}
