package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	SignalsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productradar_signals_ingested_total",
			Help: "Raw signals written to the signal store",
		},
		[]string{"source"},
	)

	ProducerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productradar_producer_failures_total",
			Help: "Producer runs that ended with an error",
		},
		[]string{"source"},
	)

	ProductsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "productradar_products_created_total",
			Help: "Products created by the identity resolver",
		},
	)

	AliasesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "productradar_aliases_created_total",
			Help: "Aliases registered by fuzzy matches",
		},
	)

	// Scoring
	ProductsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "productradar_products_scored_total",
			Help: "Trend score snapshots appended",
		},
	)

	ScoringFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "productradar_scoring_failures_total",
			Help: "Products whose scoring failed within a run",
		},
	)

	CompositeScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "productradar_composite_score",
			Help:    "Distribution of composite trend scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// Recommendations
	RecommendCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "productradar_recommend_cache_hits_total",
			Help: "Recommendation requests served from cache",
		},
	)

	RecommendCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "productradar_recommend_cache_misses_total",
			Help: "Recommendation requests that triggered a recompute",
		},
	)

	// External services
	ExternalFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productradar_external_fallbacks_total",
			Help: "External service calls replaced by their fallback",
		},
		[]string{"service"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productradar_circuit_breaker_requests_total",
			Help: "Requests through circuit breakers by result (success, failure, rejected)",
		},
		[]string{"name", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "productradar_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
