package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Database metrics
	DatabaseOperations  *prometheus.CounterVec
	DatabaseLatency     *prometheus.HistogramVec
	DatabaseConnections prometheus.Gauge

	// Scheduling Engine metrics
	IntentsScheduled *prometheus.CounterVec
	IntentsSkipped   *prometheus.CounterVec
	SchedulingLatency prometheus.Histogram

	// Delivery Pipeline metrics
	ChunkLatency      prometheus.Histogram
	SendAttempts      *prometheus.CounterVec
	RetryAttempts     prometheus.Counter
	GatewayLatency    prometheus.Histogram
	CircuitBreakerOpen *prometheus.GaugeVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		// Database metrics
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		DatabaseConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_connections",
			Help:      "Current number of database connections",
		}),

		IntentsScheduled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "intents_scheduled_total",
			Help:      "Total scheduled intents by kind",
		}, []string{"kind"}),
		IntentsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "intents_skipped_total",
			Help:      "Total skipped intents by reason",
		}, []string{"reason"}),
		SchedulingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scheduling_batch_duration_seconds",
			Help:      "Time spent scheduling one contact batch",
			Buckets:   prometheus.DefBuckets,
		}),

		ChunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_chunk_duration_seconds",
			Help:      "Time spent processing one chunk",
			Buckets:   prometheus.DefBuckets,
		}),
		SendAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_send_attempts_total",
			Help:      "Total send attempts by outcome",
		}, []string{"outcome"}),
		RetryAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_retry_attempts_total",
			Help:      "Total rows moved back to pending by retryFailed",
		}),
		GatewayLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mailgateway_call_duration_seconds",
			Help:      "Mail gateway call latency",
			Buckets:   prometheus.DefBuckets,
		}),
		CircuitBreakerOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mailgateway_circuit_open",
			Help:      "1 if the organization's gateway circuit breaker is open",
		}, []string{"org_id"}),
	}
}

