package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tenant Worker metrics
	TenantWorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenantsync_tenant_workers_total",
			Help: "Total number of Tenant Workers by state",
		},
		[]string{"state"},
	)

	RootsServed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantsync_roots_served",
			Help: "Number of tenant roots this agent currently serves",
		},
	)

	HashTreeNodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenantsync_hash_tree_nodes_total",
			Help: "Number of fingerprinted nodes per universe and root",
		},
		[]string{"universe", "root"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenantsync_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantsync_reconciliation_cycles_total",
			Help: "Total number of reconciliation ticks completed",
		},
	)

	ObjectsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantsync_objects_created_total",
			Help: "Total objects pushed as creates, by root",
		},
		[]string{"root"},
	)

	ObjectsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantsync_objects_deleted_total",
			Help: "Total objects pushed as deletes, by root",
		},
		[]string{"root"},
	)

	ObjectsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantsync_objects_failed_total",
			Help: "Total objects marked FAILED after exceeding purge_retry_limit, by root",
		},
		[]string{"root"},
	)

	RetryCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantsync_retry_cache_size",
			Help: "Number of entries currently tracked in the reconciler retry cache",
		},
	)

	// Raft / agent registry metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantsync_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenantsync_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AgentsEligibleTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantsync_agents_eligible_total",
			Help: "Number of peer agents currently eligible to serve roots",
		},
	)

	// Fabric client metrics
	FabricRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantsync_fabric_requests_total",
			Help: "Total Fabric requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	FabricRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantsync_fabric_request_duration_seconds",
			Help:    "Fabric request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(TenantWorkersTotal)
	prometheus.MustRegister(RootsServed)
	prometheus.MustRegister(HashTreeNodesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ObjectsCreated)
	prometheus.MustRegister(ObjectsDeleted)
	prometheus.MustRegister(ObjectsFailed)
	prometheus.MustRegister(RetryCacheSize)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(AgentsEligibleTotal)
	prometheus.MustRegister(FabricRequestsTotal)
	prometheus.MustRegister(FabricRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
