// Package metrics provides custom Prometheus metrics for the notification
// admission engine and its durable tier.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AdmissionMetrics contains all Prometheus metrics related to admission checks.
type AdmissionMetrics struct {
	ChecksProcessed prometheus.Counter
	ChecksAllowed   prometheus.Counter
	ChecksBlocked   *prometheus.CounterVec
	FailOpenEvents  prometheus.Counter
	Evictions       *prometheus.CounterVec
	MemoryTierSize  prometheus.Gauge
	CheckDuration   prometheus.Histogram
	registry        *prometheus.Registry
}

// NewAdmissionMetrics creates a new instance of AdmissionMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewAdmissionMetrics(registry *prometheus.Registry) (*AdmissionMetrics, error) {
	m := &AdmissionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register admission metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for AdmissionMetrics.
func (m *AdmissionMetrics) initMetrics() {
	m.ChecksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_checks_total",
		Help: "Total number of admission checks processed",
	})

	m.ChecksAllowed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_checks_allowed_total",
		Help: "Total number of admission checks that allowed delivery",
	})

	m.ChecksBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_checks_blocked_total",
		Help: "Total number of admission checks blocked as duplicates, by match kind",
	}, []string{"kind"})

	m.FailOpenEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_fail_open_total",
		Help: "Total number of checks that fell back to allow after an internal failure",
	})

	m.Evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_evictions_total",
		Help: "Total number of events evicted past the retention horizon, by tier",
	}, []string{"tier"})

	m.MemoryTierSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "admission_memory_tier_size",
		Help: "Current number of events held in the memory tier",
	})

	m.CheckDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "admission_check_duration_seconds",
		Help:    "Duration of admission checks in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
}

// Collect implements the prometheus.Collector interface.
func (m *AdmissionMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ChecksProcessed
	ch <- m.ChecksAllowed
	m.ChecksBlocked.Collect(ch)
	ch <- m.FailOpenEvents
	m.Evictions.Collect(ch)
	ch <- m.MemoryTierSize
	ch <- m.CheckDuration
}

// Describe implements the prometheus.Collector interface.
func (m *AdmissionMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ChecksProcessed.Desc()
	ch <- m.ChecksAllowed.Desc()
	m.ChecksBlocked.Describe(ch)
	ch <- m.FailOpenEvents.Desc()
	m.Evictions.Describe(ch)
	ch <- m.MemoryTierSize.Desc()
	ch <- m.CheckDuration.Desc()
}
