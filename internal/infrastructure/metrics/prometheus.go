// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "edgevid_proxy"

var (
	// CacheOperationsTotal tracks cache operations (get, set, delete).
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, success, error
	//   - cache_type: redis
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "status", "cache_type"},
	)

	// DBQueriesTotal tracks database queries.
	// Labels:
	//   - query_type: select, insert, update, delete
	//   - table: videos
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_queries_total",
			Help:      "Total number of database queries",
		},
		[]string{"query_type", "table"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)

	// CacheTierOperationsTotal tracks lookups against each cache tier in
	// the read path (edge cache, presign cache, variant store).
	// Labels:
	//   - tier: edge, presign, variant, version
	//   - status: hit, miss, corrupt, error
	CacheTierOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_tier_operations_total",
			Help:      "Total number of cache tier lookups by tier and outcome",
		},
		[]string{"tier", "status"},
	)

	// FallbackStepTotal tracks how far the fallback engine had to walk
	// before producing a response.
	// Labels:
	//   - step: duration_retry, pattern_origin, direct_origin, storage_service
	//   - outcome: success, failure
	FallbackStepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_step_total",
			Help:      "Total number of fallback engine steps taken, by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	// UpstreamTransformDuration measures the latency of upstream
	// transform fetches, from dispatch to response headers read.
	UpstreamTransformDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_transform_duration_seconds",
			Help:      "Duration of upstream transform fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode", "status_class"},
	)
)

// Cache tier constants.
const (
	TierEdge    = "edge"
	TierPresign = "presign"
	TierVariant = "variant"
	TierVersion = "version"
)

// Fallback step constants.
const (
	FallbackStepDurationRetry   = "duration_retry"
	FallbackStepPatternOrigin   = "pattern_origin"
	FallbackStepDirectOrigin    = "direct_origin"
	FallbackStepStorageService  = "storage_service"
)

// Fallback outcome constants.
const (
	FallbackOutcomeSuccess = "success"
	FallbackOutcomeFailure = "failure"
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Cache type constants.
const (
	CacheTypeRedis = "redis"
)

// DB query type constants.
const (
	DBQuerySelect = "select"
	DBQueryInsert = "insert"
	DBQueryUpdate = "update"
)

// Table name constants.
const (
	TableVideos = "videos"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)
