package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains all Prometheus metrics related to durable tier
// operations.
type DatastoreMetrics struct {
	Operations     *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	QueryDuration  *prometheus.HistogramVec
	RecordsDeleted prometheus.Counter
	registry       *prometheus.Registry
}

// NewDatastoreMetrics creates a new instance of DatastoreMetrics registered
// against the given registry.
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datastore_operations_total",
		Help: "Total number of durable tier operations, by operation",
	}, []string{"operation"})

	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datastore_errors_total",
		Help: "Total number of durable tier errors, by operation",
	}, []string{"operation"})

	m.QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datastore_query_duration_seconds",
		Help:    "Duration of durable tier queries in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation"})

	m.RecordsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datastore_records_deleted_total",
		Help: "Total number of event records deleted by retention sweeps",
	})
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Operations.Collect(ch)
	m.Errors.Collect(ch)
	m.QueryDuration.Collect(ch)
	ch <- m.RecordsDeleted
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Operations.Describe(ch)
	m.Errors.Describe(ch)
	m.QueryDuration.Describe(ch)
	ch <- m.RecordsDeleted.Desc()
}
