package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for the ledger service
type Metrics struct {
	registry *prometheus.Registry

	Submissions     *prometheus.CounterVec
	Questions       prometheus.Gauge
	VotesCast       prometheus.Counter
	JournalSeq      prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates metrics registered on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "voting",
				Subsystem: "ledger",
				Name:      "submissions_total",
				Help:      "Total number of submitted transactions by operation and outcome",
			},
			[]string{"operation", "outcome"}, // outcome is "ok" or a ledger error kind
		),
		Questions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "voting",
				Subsystem: "ledger",
				Name:      "questions",
				Help:      "Number of questions in the ledger",
			},
		),
		VotesCast: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "voting",
				Subsystem: "ledger",
				Name:      "votes_cast_total",
				Help:      "Total number of accepted votes",
			},
		),
		JournalSeq: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "voting",
				Subsystem: "ledger",
				Name:      "journal_seq",
				Help:      "Sequence number of the last applied journal event",
			},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "voting",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// ObserveSubmission records the outcome of one submitted operation
func (m *Metrics) ObserveSubmission(operation, outcome string) {
	if outcome == "" {
		outcome = "ok"
	}
	m.Submissions.WithLabelValues(operation, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
