package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the harvester.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	ThrottleWait    prometheus.Histogram
	ItemsTotal      *prometheus.CounterVec
	SessionsTotal   *prometheus.CounterVec
	ClassifierTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Total HTTP attempts issued, by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	throttleWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_throttle_wait_seconds",
			Help:    "Time spent blocked by the request-rate ceiling.",
			Buckets: []float64{0.5, 1, 5, 10, 20, 30, 45, 60},
		},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Candidate URLs processed, by outcome.",
		},
		[]string{"status"},
	)
	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_sessions_total",
			Help: "Crawl sessions sealed, by terminal status.",
		},
		[]string{"status"},
	)
	classifier := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_classifications_total",
			Help: "Categorisations, by the path that produced them.",
		},
		[]string{"source"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, throttleWait, items, sessions, classifier)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		ThrottleWait:    throttleWait,
		ItemsTotal:      items,
		SessionsTotal:   sessions,
		ClassifierTotal: classifier,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObserveThrottle records a blocking wait imposed by the rate ceiling.
func (m *Metrics) ObserveThrottle(d time.Duration) {
	if m == nil {
		return
	}
	m.ThrottleWait.Observe(d.Seconds())
}

// IncItem counts one processed candidate.
func (m *Metrics) IncItem(status string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(status).Inc()
}

// IncSession counts one sealed session.
func (m *Metrics) IncSession(status string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(status).Inc()
}

// IncClassification counts one categorisation by source.
func (m *Metrics) IncClassification(source string) {
	if m == nil {
		return
	}
	m.ClassifierTotal.WithLabelValues(source).Inc()
}
