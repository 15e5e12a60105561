package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Workspace lifecycle
	WorkspacesCreated prometheus.Counter
	WorkspacesDeleted prometheus.Counter
	WorkspacesReaped  prometheus.Counter

	// Entity operations, labeled by kind (characters/runs) and op
	EntityOps *prometheus.CounterVec

	// Sessions
	SessionsResolved *prometheus.CounterVec // labeled hit/created

	// Reap sweeps
	ReapSweeps   prometheus.Counter
	ReapFailures prometheus.Counter

	// Export/import
	Exports prometheus.Counter
	Imports *prometheus.CounterVec // labeled ok/rejected
}

// NewMetrics creates a metrics collector registered with reg. Passing a
// dedicated registry keeps tests from colliding on the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		WorkspacesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "store_workspaces_created_total",
			Help: "Workspaces provisioned",
		}),
		WorkspacesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "store_workspaces_deleted_total",
			Help: "Workspaces explicitly deleted",
		}),
		WorkspacesReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "store_workspaces_reaped_total",
			Help: "Workspaces removed by TTL sweeps",
		}),
		EntityOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_entity_operations_total",
				Help: "Entity store operations",
			},
			[]string{"kind", "op"},
		),
		SessionsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_sessions_resolved_total",
				Help: "Session resolutions",
			},
			[]string{"outcome"},
		),
		ReapSweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "store_reap_sweeps_total",
			Help: "Reap sweeps executed",
		}),
		ReapFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "store_reap_failures_total",
			Help: "Workspaces a sweep failed to remove",
		}),
		Exports: factory.NewCounter(prometheus.CounterOpts{
			Name: "store_exports_total",
			Help: "Workspace archives exported",
		}),
		Imports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_imports_total",
				Help: "Workspace archive imports",
			},
			[]string{"outcome"},
		),
	}
}
