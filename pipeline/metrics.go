package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles Prometheus collectors for the record pipeline.
type Metrics struct {
	PersistedTotal     prometheus.Counter
	RejectedTotal      *prometheus.CounterVec
	StorageErrorsTotal prometheus.Counter
}

// NewMetrics registers the pipeline collectors on the given registry,
// usually shared with the crawl metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	persisted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_records_persisted_total",
			Help: "Records written to history storage.",
		},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_records_rejected_total",
			Help: "Records dropped by data-quality validation, by kind.",
		},
		[]string{"kind"},
	)
	storageErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_storage_errors_total",
			Help: "Failed history inserts.",
		},
	)

	if reg != nil {
		reg.MustRegister(persisted, rejected, storageErrors)
	}
	return &Metrics{
		PersistedTotal:     persisted,
		RejectedTotal:      rejected,
		StorageErrorsTotal: storageErrors,
	}
}

// IncPersisted counts a successful insert.
func (m *Metrics) IncPersisted() {
	if m == nil {
		return
	}
	m.PersistedTotal.Inc()
}

// IncRejected counts a dropped record by rejection kind.
func (m *Metrics) IncRejected(kind string) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(kind).Inc()
}

// IncStorageError counts a failed insert.
func (m *Metrics) IncStorageError() {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.Inc()
}
