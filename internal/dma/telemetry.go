package dma

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/reasond/internal/dma"

// Metrics records evaluator and selector activity. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	evaluations metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
	selections  metric.Int64Counter
}

// NewMetrics creates instruments on meter, or on the global meter provider
// when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	m := &Metrics{}
	var err error

	m.evaluations, err = meter.Int64Counter(
		"dma.evaluations.total",
		metric.WithDescription("Total evaluator runs"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, err
	}

	m.failures, err = meter.Int64Counter(
		"dma.failures.total",
		metric.WithDescription("Total evaluator runs that produced no verdict"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"dma.evaluation.duration",
		metric.WithDescription("Evaluator latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.selections, err = meter.Int64Counter(
		"dma.selections.total",
		metric.WithDescription("Total actions chosen by the selector"),
		metric.WithUnit("{selection}"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordEvaluation(ctx context.Context, kind Kind, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("dma", string(kind)))
	m.evaluations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
	if !ok {
		m.failures.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordSelection(ctx context.Context, action string, recursive bool) {
	if m == nil {
		return
	}
	m.selections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("recursive", recursive),
	))
}
