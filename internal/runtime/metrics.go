package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reasond",
		Subsystem: "runtime",
		Name:      "queue_depth",
		Help:      "Round jobs waiting for a worker.",
	})

	activeTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reasond",
		Subsystem: "runtime",
		Name:      "active_tasks",
		Help:      "Tasks admitted and not yet closed.",
	})

	tasksClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reasond",
		Subsystem: "runtime",
		Name:      "tasks_closed_total",
		Help:      "Tasks that reached a terminal status.",
	}, []string{"status"})

	roundsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reasond",
		Subsystem: "runtime",
		Name:      "rounds_total",
		Help:      "Rounds processed by workers.",
	})

	closeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reasond",
		Subsystem: "runtime",
		Name:      "close_errors_total",
		Help:      "Store failures while closing a task as FAILED.",
	})
)
