package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsProcessed tracks work items processed per phase and outcome
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_items_processed_total",
			Help: "Total number of work items processed",
		},
		[]string{"phase", "outcome"},
	)

	// RetryAttempts tracks retry attempts per operation
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"operation"},
	)

	// BreakerRejections tracks calls rejected by an open circuit breaker
	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_breaker_rejections_total",
			Help: "Total number of calls rejected by open circuit breakers",
		},
		[]string{"breaker"},
	)

	// OperationDuration tracks external operation latency per phase
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curator_operation_duration_seconds",
			Help:    "External operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// BreakerState tracks each breaker's state (0=closed, 1=half_open, 2=open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "curator_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"breaker"},
	)

	// DegradationLevel tracks the current degradation level (0=none .. 4=critical)
	DegradationLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "curator_degradation_level",
			Help: "Current system degradation level (0=none, 4=critical)",
		},
	)

	// CompletionPercentage tracks overall pipeline completion
	CompletionPercentage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "curator_completion_percentage",
			Help: "Pipeline completion percentage from the last save",
		},
	)
)
