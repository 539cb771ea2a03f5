package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency for the coordinator's
// client and executor surfaces.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "kubently",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// CommandsQueuedTotal counts commands pushed onto a cluster's queue.
var CommandsQueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kubently",
		Subsystem: "commands",
		Name:      "queued_total",
		Help:      "Total number of commands pushed to a cluster queue.",
	},
	[]string{"cluster_id"},
)

// CommandsDeliveredTotal counts commands popped by an executor (stream or long-poll).
var CommandsDeliveredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kubently",
		Subsystem: "commands",
		Name:      "delivered_total",
		Help:      "Total number of commands delivered to an executor.",
	},
	[]string{"cluster_id", "channel"},
)

// CommandsSucceededTotal counts commands whose result reported success.
var CommandsSucceededTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kubently",
		Subsystem: "commands",
		Name:      "succeeded_total",
		Help:      "Total number of commands that completed successfully.",
	},
	[]string{"cluster_id"},
)

// CommandsFailedTotal counts commands whose result reported failure.
var CommandsFailedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kubently",
		Subsystem: "commands",
		Name:      "failed_total",
		Help:      "Total number of commands that completed with a failure result.",
	},
	[]string{"cluster_id"},
)

// CommandsTimeoutTotal counts commands whose run on the executor timed out,
// as reported by the executor's worker pool.
var CommandsTimeoutTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kubently",
		Subsystem: "commands",
		Name:      "timeout_total",
		Help:      "Total number of commands whose execution on the executor timed out.",
	},
	[]string{"cluster_id"},
)

// CommandsRejectedTotal counts commands the executor refused after whitelist validation.
var CommandsRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kubently",
		Subsystem: "commands",
		Name:      "rejected_total",
		Help:      "Total number of commands rejected by whitelist validation.",
	},
	[]string{"cluster_id", "reason"},
)

// CommandDeliveryLatency tracks queue-push-to-delivery latency.
var CommandDeliveryLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "kubently",
		Subsystem: "commands",
		Name:      "delivery_latency_seconds",
		Help:      "Latency between a command being queued and delivered to an executor.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
)

// AuthDecisionsTotal counts authentication verdicts by method and outcome.
var AuthDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kubently",
		Subsystem: "auth",
		Name:      "decisions_total",
		Help:      "Total number of authentication decisions by method and verdict.",
	},
	[]string{"method", "verdict"},
)

// ExecutorStreamsActive tracks the number of currently open executor SSE streams.
var ExecutorStreamsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "kubently",
		Subsystem: "push",
		Name:      "streams_active",
		Help:      "Number of currently open executor event streams.",
	},
)

// All returns kubently-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CommandsQueuedTotal,
		CommandsDeliveredTotal,
		CommandsSucceededTotal,
		CommandsFailedTotal,
		CommandsTimeoutTotal,
		CommandsRejectedTotal,
		CommandDeliveryLatency,
		AuthDecisionsTotal,
		ExecutorStreamsActive,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors, the
// shared HTTP request duration metric, and any additional collectors.
func NewRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
