// Package metrics exposes the control plane's Prometheus
// instrumentation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all control plane metrics.
type Registry struct {
	// Version lifecycle
	VersionsStaged   *prometheus.CounterVec
	VersionsApplied  prometheus.Counter
	VersionsRejected prometheus.Counter
	RollbackFailures prometheus.Counter

	// Generator / parser
	GenerateDuration prometheus.Histogram
	ParseWarnings    prometheus.Counter
	ParseErrors      prometheus.Counter

	// Agents
	AgentHeartbeats prometheus.Counter
	ClustersDown    prometheus.Gauge

	// API
	APIRequests *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.VersionsStaged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_versions_staged_total",
		Help: "Config versions staged, by entity type and action",
	}, []string{"entity_type", "action"})

	r.VersionsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_versions_applied_total",
		Help: "Config versions applied",
	})

	r.VersionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_versions_rejected_total",
		Help: "Config versions rejected",
	})

	r.RollbackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_rollback_failures_total",
		Help: "Rejected versions whose rollback failed",
	})

	r.GenerateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harrier_generate_duration_seconds",
		Help:    "Configuration generation latency",
		Buckets: prometheus.DefBuckets,
	})

	r.ParseWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_parse_warnings_total",
		Help: "Warnings emitted while importing configuration text",
	})

	r.ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_parse_errors_total",
		Help: "Structural errors hit while importing configuration text",
	})

	r.AgentHeartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_agent_heartbeats_total",
		Help: "Agent heartbeats received",
	})

	r.ClustersDown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harrier_clusters_down",
		Help: "Clusters currently marked DOWN by the heartbeat sweep",
	})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_api_requests_total",
		Help: "API requests by method, path and status",
	}, []string{"method", "path", "status"})

	return r
}
