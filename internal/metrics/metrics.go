// Package metrics exposes the Prometheus gauges/counters/histograms for
// both the storage and tokenserver binaries, following the teacher's
// package-level New*Vec + promhttp.Handler convention.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage request metrics
	StorageRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstorage_requests_total",
			Help: "Total number of storage API requests by method and status",
		},
		[]string{"method", "status"},
	)

	StorageRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncstorage_request_duration_seconds",
			Help:    "Storage API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Batch engine metrics
	BatchCommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstorage_batch_commits_total",
			Help: "Total number of batches committed",
		},
	)

	BatchExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstorage_batch_expired_total",
			Help: "Total number of batch operations rejected because the batch had expired",
		},
	)

	// Quota metrics
	QuotaRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstorage_quota_rejections_total",
			Help: "Total number of writes rejected due to quota enforcement",
		},
	)

	QuotaUsageBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncstorage_quota_usage_bytes",
			Help:    "Observed per-user total_bytes at write time",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
		},
	)

	// Connection pool metrics
	PoolAcquireDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncstorage_pool_acquire_duration_seconds",
			Help:    "Time spent acquiring a session from the connection pool",
			Buckets: prometheus.DefBuckets,
		},
	)

	PoolTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstorage_pool_timeouts_total",
			Help: "Total number of pool acquire calls that timed out",
		},
	)

	PoolRecycledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstorage_pool_recycled_total",
			Help: "Total number of sessions recreated by the recycler, by reason",
		},
		[]string{"reason"},
	)

	PoolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncstorage_pool_size",
			Help: "Current pool session count by state",
		},
		[]string{"state"},
	)

	// Tokenserver metrics
	TokensIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenserver_tokens_issued_total",
			Help: "Total number of bearer tokens minted",
		},
	)

	TokenVerificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenserver_verification_failures_total",
			Help: "Total number of token verification failures by reason",
		},
		[]string{"reason"},
	)

	NodeAllocationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenserver_node_allocation_failures_total",
			Help: "Total number of requests that failed to find an available node",
		},
	)

	ClientStateRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenserver_client_state_rotations_total",
			Help: "Total number of client-state driven user reassignments",
		},
	)
)

func init() {
	prometheus.MustRegister(
		StorageRequestsTotal,
		StorageRequestDuration,
		BatchCommitsTotal,
		BatchExpiredTotal,
		QuotaRejectionsTotal,
		QuotaUsageBytes,
		PoolAcquireDuration,
		PoolTimeoutsTotal,
		PoolRecycledTotal,
		PoolSize,
		TokensIssuedTotal,
		TokenVerificationFailuresTotal,
		NodeAllocationFailuresTotal,
		ClientStateRotationsTotal,
	)
}

// Handler exposes the registered metrics over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}
