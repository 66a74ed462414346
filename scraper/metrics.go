package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawl side of a job.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal prometheus.Counter
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	SoftSignalsTotal  *prometheus.CounterVec
	BreakerTripsTotal prometheus.Counter
}

// NewMetrics constructs and registers all crawl metrics on a dedicated
// registry. The pipeline registers its own collectors on the same registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "Total HTTP requests issued by the crawler.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_request_duration_seconds",
			Help:    "HTTP request latency for crawler requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_items_scraped_total",
			Help: "Total number of items sent to the pipeline.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total number of reissued requests.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Total number of crawl errors by type.",
		},
		[]string{"error_type"},
	)
	softSignals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_soft_signals_total",
			Help: "Responses flagged by content classification, by verdict.",
		},
		[]string{"verdict"},
	)
	breakerTrips := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_breaker_trips_total",
			Help: "Circuit breaker trips. At most one per job.",
		},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, retries,
		errorsTotal, softSignals, breakerTrips)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		SoftSignalsTotal:  softSignals,
		BreakerTripsTotal: breakerTrips,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncItems increments the items scraped counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
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

// IncSoftSignal counts a non-accept classification verdict.
func (m *Metrics) IncSoftSignal(verdict string) {
	if m == nil {
		return
	}
	m.SoftSignalsTotal.WithLabelValues(verdict).Inc()
}

// IncBreakerTrips counts a circuit breaker trip.
func (m *Metrics) IncBreakerTrips() {
	if m == nil {
		return
	}
	m.BreakerTripsTotal.Inc()
}
