// Package metrics records engine activity as Prometheus collectors.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "susc_match"

// Recorder owns a private registry. A nil *Recorder records nothing, so
// callers never need to check whether metrics are enabled.
type Recorder struct {
	registry *prometheus.Registry

	operations     *prometheus.CounterVec
	durations      *prometheus.HistogramVec
	matches        *prometheus.CounterVec
	datasetLoads   *prometheus.CounterVec
	evictions      prometheus.Counter
	cachedVersions prometheus.Gauge
}

// NewRecorder creates a recorder with every collector registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by name and status.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
		}, []string{"operation"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Classified results returned, by family and match type.",
		}, []string{"family", "match_type"}),
		datasetLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_loads_total",
			Help:      "Snapshot versions loaded into memory.",
		}, []string{"status"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_evictions_total",
			Help:      "Versions evicted from the dataset cache.",
		}),
		cachedVersions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_versions",
			Help:      "Versions currently held in memory.",
		}),
	}
	r.registry.MustRegister(
		r.operations, r.durations, r.matches,
		r.datasetLoads, r.evictions, r.cachedVersions,
	)
	return r
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Observe records one operation outcome.
func (r *Recorder) Observe(operation string, err error, d time.Duration) {
	if r == nil || operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, status(err)).Inc()
	r.durations.WithLabelValues(operation).Observe(d.Seconds())
}

// AddMatches counts classified results of one family and match type.
func (r *Recorder) AddMatches(family, matchType string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.matches.WithLabelValues(family, matchType).Add(float64(n))
}

// DatasetLoaded records a snapshot load attempt.
func (r *Recorder) DatasetLoaded(err error) {
	if r == nil {
		return
	}
	r.datasetLoads.WithLabelValues(status(err)).Inc()
}

// DatasetEvicted records an eviction.
func (r *Recorder) DatasetEvicted() {
	if r == nil {
		return
	}
	r.evictions.Inc()
}

// SetCachedVersions sets the number of versions in memory.
func (r *Recorder) SetCachedVersions(n int) {
	if r == nil {
		return
	}
	r.cachedVersions.Set(float64(n))
}

// WriteTextfile writes every collector in the text exposition format, for the
// node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
