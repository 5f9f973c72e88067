package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsLogged             *prometheus.CounterVec
	PolicyActionsMatched     prometheus.Counter
	PolicyApplicationFailure *prometheus.CounterVec
	ActionsDispatched        *prometheus.CounterVec
	SyncOperations           *prometheus.CounterVec
	IdempotentSkips          prometheus.Counter
	RetryAttempts            *prometheus.CounterVec
	OutboundCallDuration     *prometheus.HistogramVec
	StoreOperationDuration   *prometheus.HistogramVec
	PooledClients            prometheus.Gauge
}

// NewMetrics registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to expose them on /metrics, or a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsLogged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_events_logged_total",
			Help: "Total number of events recorded by the pipeline",
		}, []string{"status"}),
		PolicyActionsMatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "automation_policy_actions_matched_total",
			Help: "Total number of actions produced by policy matching",
		}),
		PolicyApplicationFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_policy_application_failures_total",
			Help: "Detached policy applications that failed and were dead-lettered",
		}, []string{"stage"}),
		ActionsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_actions_dispatched_total",
			Help: "Actions dispatched to the messaging platform",
		}, []string{"type", "status"}),
		SyncOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_sync_operations_total",
			Help: "Execution plan operations by category and outcome",
		}, []string{"category", "status"}),
		IdempotentSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "automation_idempotent_skips_total",
			Help: "Messages skipped because their idempotency key was already recorded",
		}),
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_retry_attempts_total",
			Help: "Attempts made by the retry executor",
		}, []string{"operation", "outcome"}),
		OutboundCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automation_outbound_call_duration_seconds",
			Help:    "Time taken by retried outbound calls including backoff",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		StoreOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automation_store_operation_duration_seconds",
			Help:    "Time taken for event store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		PooledClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "automation_pooled_clients",
			Help: "Messaging clients currently cached per tenant",
		}),
	}
}
