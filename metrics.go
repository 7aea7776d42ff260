package apq

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apqerror "github.com/always-cache/apq/pkg/apq-error"
	"github.com/always-cache/apq/pkg/fingerprint"
	"github.com/always-cache/apq/pkg/registry"
)

// Metrics collects Prometheus metrics of the middleware.
// A nil *Metrics records nothing.
//
// Example:
//
//	metrics := apq.NewMetrics("myapp", prometheus.DefaultRegisterer)
//	// Creates metrics like: myapp_apq_requests_total
type Metrics struct {
	requests        *prometheus.CounterVec
	responseCache   *prometheus.CounterVec
	registryLatency *prometheus.HistogramVec
	invalidated     prometheus.Counter
}

func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apq",
			Name:      "requests_total",
			Help:      "Total number of requests by resolution outcome",
		},
		[]string{"outcome"},
	)

	responseCache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apq",
			Name:      "response_cache_total",
			Help:      "Total number of response cache decisions by status",
		},
		[]string{"status"},
	)

	registryLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "apq",
			Name:      "registry_latency_seconds",
			Help:      "Latency of persisted query registry operations in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"op", "status"},
	)

	invalidated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apq",
			Name:      "invalidated_entries_total",
			Help:      "Total number of response cache entries removed by tag invalidation",
		},
	)

	registerer.MustRegister(
		requests,
		responseCache,
		registryLatency,
		invalidated,
	)

	return &Metrics{
		requests:        requests,
		responseCache:   responseCache,
		registryLatency: registryLatency,
		invalidated:     invalidated,
	}
}

func (m *Metrics) request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) cacheStatus(status string) {
	if m == nil {
		return
	}
	m.responseCache.WithLabelValues(status).Inc()
}

func (m *Metrics) registryOp(op string, err error, latency time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = outcomeOf(err)
	}
	m.registryLatency.WithLabelValues(op, status).Observe(latency.Seconds())
}

func (m *Metrics) invalidatedEntries(n int) {
	if m == nil {
		return
	}
	m.invalidated.Add(float64(n))
}

// outcomeOf returns the metric label of a resolution error.
func outcomeOf(err error) string {
	switch apqerror.KindOf(err) {
	case apqerror.PersistedQueryNotFound:
		return "not_found"
	case apqerror.HashMismatch:
		return "hash_mismatch"
	case apqerror.LimitExceeded:
		return "limit_exceeded"
	case apqerror.StoreUnavailable:
		return "unavailable"
	case apqerror.InvalidRequest:
		return "invalid"
	case apqerror.PersistedQueryNotSupported:
		return "not_supported"
	}
	return "error"
}

// instrumentedRegistry records the latency of registry operations.
type instrumentedRegistry struct {
	registry.Registry
	metrics *Metrics
}

func (r instrumentedRegistry) Register(ctx context.Context, hash fingerprint.Hash, document string) error {
	start := time.Now()
	err := r.Registry.Register(ctx, hash, document)
	r.metrics.registryOp("register", err, time.Since(start))
	return err
}

func (r instrumentedRegistry) Lookup(ctx context.Context, hash fingerprint.Hash) (string, error) {
	start := time.Now()
	doc, err := r.Registry.Lookup(ctx, hash)
	r.metrics.registryOp("lookup", err, time.Since(start))
	return doc, err
}
