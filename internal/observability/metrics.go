package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., freyr_...).
const namespace = "freyr"

// lowLatencyBuckets gives sub-5ms resolution for the evaluation path, which
// the default buckets are too coarse for. Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// AUTHORING PLANE (HTTP)
	// -------------------------------------------------------------------------

	// AuthoringReqDuration measures the latency of authoring HTTP requests.
	// Metric: freyr_authoring_http_handling_seconds
	AuthoringReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "authoring",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle authoring HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// AuthoringReqTotal counts authoring HTTP requests.
	// Metric: freyr_authoring_http_requests_total
	AuthoringReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "authoring",
		Name:      "http_requests_total",
		Help:      "Total authoring HTTP requests",
	}, []string{"method", "path", "code"})

	// CompileWarningsTotal counts non-fatal compile warnings returned from
	// draft upserts.
	// Metric: freyr_authoring_compile_warnings_total
	CompileWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "authoring",
		Name:      "compile_warnings_total",
		Help:      "Total compile warnings emitted by draft upserts",
	})

	// -------------------------------------------------------------------------
	// RUNTIME PLANE (HTTP + evaluation)
	// -------------------------------------------------------------------------

	// EvaluationDuration measures end-to-end evaluation latency.
	// Metric: freyr_runtime_evaluation_seconds
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "runtime",
		Name:      "evaluation_seconds",
		Help:      "Time taken to evaluate one event against all active promotions",
		Buckets:   lowLatencyBuckets,
	})

	// EvaluationsTotal counts evaluation requests by country.
	// Metric: freyr_runtime_evaluations_total
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runtime",
		Name:      "evaluations_total",
		Help:      "Total evaluation requests",
	}, []string{"country"})

	// GrantsTotal counts awarded (promotion, tier, group) results.
	// Metric: freyr_runtime_grants_total
	GrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runtime",
		Name:      "grants_total",
		Help:      "Total grants awarded by evaluations",
	}, []string{"country"})

	// -------------------------------------------------------------------------
	// PROMOTION CACHE
	// -------------------------------------------------------------------------

	// CacheFallbacksTotal counts provider reads that fell back to the store.
	// Metric: freyr_cache_fallbacks_total
	CacheFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "fallbacks_total",
		Help:      "Total active-promotion reads served by the store fallback",
	})

	// CacheWarmupsTotal counts warm-up operations by outcome.
	// Metric: freyr_cache_warmups_total
	CacheWarmupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "warmups_total",
		Help:      "Total cache warm-up operations",
	}, []string{"outcome"})

	// -------------------------------------------------------------------------
	// OUTBOX SWEEPER
	// -------------------------------------------------------------------------

	// OutboxDeliveredTotal counts messages handed to the bus.
	// Metric: freyr_outbox_delivered_total
	OutboxDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "delivered_total",
		Help:      "Total outbox messages delivered to the bus",
	})

	// OutboxSweepFailuresTotal counts failed sweep cycles.
	// Metric: freyr_outbox_sweep_failures_total
	OutboxSweepFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "sweep_failures_total",
		Help:      "Total failed outbox sweep cycles",
	})
)
