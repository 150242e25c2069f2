package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stateGauge exposes the breaker state per provider (0 closed, 1 open, 2 half-open).
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "reasond",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open)",
		},
		[]string{"provider"},
	)

	// transitionsTotal counts state transitions.
	// Labels: provider, to
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reasond",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Total circuit breaker state transitions",
		},
		[]string{"provider", "to"},
	)
)
