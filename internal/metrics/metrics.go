// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_gate",
		Name:      "access_requests_submitted_total",
		Help:      "Access request submissions by outcome.",
	}, []string{"outcome"})

	ReviewDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_gate",
		Name:      "review_decisions_total",
		Help:      "Reviewer decisions applied to access requests.",
	}, []string{"decision"})

	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_gate",
		Name:      "gateway_calls_total",
		Help:      "Distribution calls through the gateway by outcome.",
	}, []string{"outcome"})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_gate",
		Name:      "rate_limit_rejections_total",
		Help:      "Calls rejected by the rate limiter, per violated window.",
	}, []string{"window"})

	UsageRecordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "access_gate",
		Name:      "usage_record_failures_total",
		Help:      "Usage events that failed their first write and were queued for retry.",
	})

	UsageRecordDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "access_gate",
		Name:      "usage_record_drops_total",
		Help:      "Usage events dropped because the retry queue was full.",
	})

	UsageRetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "access_gate",
		Name:      "usage_retry_queue_depth",
		Help:      "Usage events currently waiting for retry.",
	})

	SweepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_gate",
		Name:      "sweep_transitions_total",
		Help:      "Requests expired by the sweep, per prior state class.",
	}, []string{"kind"})
)
