// Package observability provides Prometheus metrics for monitoring the
// notification admission engine.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tphakala/notigate/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Admission *metrics.AdmissionMetrics
	Datastore *metrics.DatastoreMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric
// collectors. It returns an error if any metric collector fails to register.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	admissionMetrics, err := metrics.NewAdmissionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create admission metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Admission: admissionMetrics,
		Datastore: datastoreMetrics,
	}, nil
}

// RegisterHandlers registers the Prometheus metrics handler on the given mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
