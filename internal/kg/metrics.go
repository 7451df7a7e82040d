package kg

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/gray-logic-kg/internal/device"
	"github.com/nerrad567/gray-logic-kg/internal/graph"
)

const metricsNamespace = "kgagent"

// Metrics holds the Prometheus collectors of the engine.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// MessagesTotal counts inbound messages.
	// Labels: category (data, connected, disconnected), result (ok, duplicate, timeout, error)
	MessagesTotal *prometheus.CounterVec

	// ProcessingSeconds measures Handle duration for DATA messages.
	ProcessingSeconds prometheus.Histogram

	// IntegrationsTotal counts integration outcomes.
	// Labels: outcome (matched, unmatched, deferred)
	IntegrationsTotal *prometheus.CounterVec

	// RetirementsTotal counts devices removed as replaced.
	RetirementsTotal prometheus.Counter

	// StoreSeconds measures graph store calls.
	// Labels: verb (define, insert, update, delete, match), result (ok, timeout, error)
	StoreSeconds *prometheus.HistogramVec

	// EvictedSamplesTotal counts samples dropped by time-based retention.
	EvictedSamplesTotal prometheus.Counter

	// QueueDepth is the number of messages waiting for the handler.
	QueueDepth prometheus.Gauge
}

// NewMetrics creates and registers the engine collectors on reg.
// Pass prometheus.NewRegistry() in tests to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_total",
				Help:      "Inbound messages by category and result",
			},
			[]string{"category", "result"},
		),
		ProcessingSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "message_processing_seconds",
				Help:      "Time spent handling one DATA message",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		IntegrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "integrations_total",
				Help:      "Integration decisions by outcome",
			},
			[]string{"outcome"},
		),
		RetirementsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retirements_total",
				Help:      "Stale devices removed after being replaced",
			},
		),
		StoreSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "store",
				Name:      "call_seconds",
				Help:      "Graph store call latency by verb and result",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"verb", "result"},
		),
		EvictedSamplesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "evicted_samples_total",
				Help:      "Buffered samples dropped by the retention horizon",
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "queue_depth",
				Help:      "Messages waiting for the consistency handler",
			},
		),
	}
}

func (m *Metrics) message(category string, err error) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(strings.ToLower(category), resultLabel(err)).Inc()
}

func (m *Metrics) processing(d time.Duration) {
	if m == nil {
		return
	}
	m.ProcessingSeconds.Observe(d.Seconds())
}

func (m *Metrics) integration(outcome string) {
	if m == nil {
		return
	}
	m.IntegrationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) retirement() {
	if m == nil {
		return
	}
	m.RetirementsTotal.Inc()
}

func (m *Metrics) storeCall(verb string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreSeconds.WithLabelValues(verb, resultLabel(err)).Observe(d.Seconds())
}

func (m *Metrics) evicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.EvictedSamplesTotal.Add(float64(n))
}

func (m *Metrics) queueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, graph.ErrTimeout):
		return "timeout"
	case errors.Is(err, device.ErrDuplicateSample):
		return "duplicate"
	default:
		return "error"
	}
}
