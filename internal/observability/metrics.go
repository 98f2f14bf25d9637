package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: every metric is registered globally at init, so each binary exposes the
// full set, with zero values for the components it does not run.

// namespace defines the global prefix for all metrics (e.g., factory_...).
const namespace = "factory"

// lowLatencyBuckets covers the hot assignment and event paths, 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

// Label values shared by the packages that record outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeExisting  = "existing"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"

	CacheExperiment = "experiment"
	CacheAssignment = "assignment"
)

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (HTTP)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures the latency of HTTP requests.
	// Metric: factory_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in Control Plane",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// ControlPlaneReqTotal counts the total number of HTTP requests.
	// Metric: factory_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in Control Plane",
	}, []string{"method", "route", "code"})

	// ControlPlaneNotifyTotal counts cache update notifications sent after experiment writes.
	ControlPlaneNotifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "cache_notifications_total",
		Help:      "Cache update notifications enqueued after experiment writes",
	}, []string{"status"}) // success, fail

	// -------------------------------------------------------------------------
	// DATA PLANE (gRPC)
	// -------------------------------------------------------------------------

	// DataPlaneGrpcDuration measures the latency of gRPC requests.
	// Metric: factory_data_plane_grpc_handling_seconds
	DataPlaneGrpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "grpc_handling_seconds",
		Help:      "Time taken to handle gRPC requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "code"})

	// DataPlaneGrpcTotal counts the total number of gRPC requests.
	// Metric: factory_data_plane_grpc_requests_total
	DataPlaneGrpcTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "grpc_requests_total",
		Help:      "Total gRPC requests",
	}, []string{"method", "code"})

	DataPlaneInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_invalidations_total",
		Help:      "Total cache invalidation events received via PubSub",
	})

	// -------------------------------------------------------------------------
	// ENGINE
	// -------------------------------------------------------------------------

	// AssignmentsTotal counts assignment lookups by outcome (created, existing, error).
	// Metric: factory_engine_assignments_total
	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "assignments_total",
		Help:      "Assignment requests by outcome",
	}, []string{"outcome"})

	// EventsTotal counts logged events by type and outcome (created, duplicate, error).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "events_total",
		Help:      "Logged events by type and outcome",
	}, []string{"type", "outcome"})

	// MetricsReportDuration measures full-scan metrics computations.
	MetricsReportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "metrics_report_seconds",
		Help:      "Time taken to compute an experiment metrics report",
		Buckets:   prometheus.DefBuckets,
	})

	// -------------------------------------------------------------------------
	// CACHE (L1 otter, L2 Redis)
	// -------------------------------------------------------------------------

	CacheL1Hits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "l1_hits_total",
		Help:      "Total L1 cache hits (in-memory)",
	}, []string{"cache"})

	CacheL1Misses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "l1_misses_total",
		Help:      "Total L1 cache misses",
	}, []string{"cache"})

	// CacheL1Evictions tracks items removed because the cache reached capacity.
	CacheL1Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "l1_evictions_total",
		Help:      "Total items evicted due to capacity",
	}, []string{"cache"})

	// CacheL1Items reports the item count (S3-FIFO tracks items, not bytes).
	CacheL1Items = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "l1_items_count",
		Help:      "Current number of items in the L1 cache",
	}, []string{"cache"})

	// CacheL1Dropped tracks writes rejected by the cache, e.g. under write contention.
	CacheL1Dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "l1_dropped_total",
		Help:      "Total sets rejected by the L1 cache",
	}, []string{"cache"})

	CacheL2Hits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "l2_hits_total",
		Help:      "Total L2 cache hits (Redis)",
	}, []string{"cache"})

	CacheL2Misses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "l2_misses_total",
		Help:      "Total L2 cache misses",
	}, []string{"cache"})

	// CacheL2Errors counts Redis failures that were absorbed by falling back to Postgres.
	CacheL2Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "l2_errors_total",
		Help:      "Total L2 cache errors bypassed by reading the database",
	}, []string{"cache"})

	// -------------------------------------------------------------------------
	// SYNCER (Workers)
	// -------------------------------------------------------------------------

	// SyncerJobDuration measures how long one queued update takes to propagate.
	// Metric: factory_syncer_job_processing_duration_seconds
	SyncerJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "job_processing_duration_seconds",
		Help:      "Time from dequeue to cache write and invalidation",
		Buckets:   prometheus.DefBuckets,
	})

	SyncerJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "jobs_total",
		Help:      "Total propagation jobs processed",
	}, []string{"status"}) // success, fail, skipped

	SyncerHydrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "hydrations_total",
		Help:      "Total full cache hydrations",
	}, []string{"status"}) // success, fail

	RedisQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_queue_depth",
		Help:      "Current number of items in the update queue",
	})

	// -------------------------------------------------------------------------
	// CONNECTION POOLS
	// -------------------------------------------------------------------------

	// DatabasePoolConnections reports pgxpool sizes by state (max, total, idle, in_use).
	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "connections",
		Help:      "PostgreSQL pool connections by state",
	}, []string{"state"})

	DatabasePoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "acquire_count_total",
		Help:      "Cumulative successful connection acquisitions",
	})

	DatabasePoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring connections",
	})

	DatabasePoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "wait_count_total",
		Help:      "Cumulative acquisitions that had to wait for a connection",
	})

	// RedisPoolConnections reports go-redis pool sizes by state (total, idle, stale).
	RedisPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "connections",
		Help:      "Redis pool connections by state",
	}, []string{"state"})

	RedisPoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "hits_total",
		Help:      "Times a free connection was found in the pool",
	})

	RedisPoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "misses_total",
		Help:      "Times a new connection had to be dialed",
	})

	RedisPoolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "timeouts_total",
		Help:      "Times waiting for a pool connection timed out",
	})
)
