package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// callsTotal counts individual provider calls.
	// Labels: domain, op, provider, result (success, failure, timeout, halted)
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reasond",
			Subsystem: "bus",
			Name:      "calls_total",
			Help:      "Total provider calls made by the service buses",
		},
		[]string{"domain", "op", "provider", "result"},
	)

	// callDuration tracks provider call latency.
	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reasond",
			Subsystem: "bus",
			Name:      "call_duration_seconds",
			Help:      "Duration of provider calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"domain", "op"},
	)

	// failoversTotal counts moves to a lower-priority provider.
	failoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reasond",
			Subsystem: "bus",
			Name:      "failovers_total",
			Help:      "Total failovers to the next eligible provider",
		},
		[]string{"domain", "op"},
	)

	// exhaustedTotal counts calls that ran out of providers.
	exhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reasond",
			Subsystem: "bus",
			Name:      "exhausted_total",
			Help:      "Total calls that exhausted every eligible provider",
		},
		[]string{"domain", "op"},
	)

	// malformedTotal counts schema violations from reasoning providers.
	malformedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reasond",
			Subsystem: "bus",
			Name:      "malformed_outputs_total",
			Help:      "Total structured outputs rejected by schema validation",
		},
		[]string{"schema"},
	)
)
