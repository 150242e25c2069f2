package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/reasond/internal/pipeline"

// Metrics records round activity. A nil *Metrics records nothing.
type Metrics struct {
	rounds    metric.Int64Counter
	stageTime metric.Float64Histogram
	vetoes    metric.Int64Counter
	deferrals metric.Int64Counter
}

// NewMetrics creates instruments on meter, or on the global meter provider
// when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	m := &Metrics{}
	var err error

	m.rounds, err = meter.Int64Counter(
		"pipeline.rounds.total",
		metric.WithDescription("Total rounds processed, by final action"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, err
	}

	m.stageTime, err = meter.Float64Histogram(
		"pipeline.stage.duration",
		metric.WithDescription("Time spent in each pipeline stage"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.vetoes, err = meter.Int64Counter(
		"pipeline.vetoes.total",
		metric.WithDescription("Total conscience vetoes, by validator"),
		metric.WithUnit("{veto}"),
	)
	if err != nil {
		return nil, err
	}

	m.deferrals, err = meter.Int64Counter(
		"pipeline.deferrals.total",
		metric.WithDescription("Total rounds degraded to DEFER, by cause"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordStage(ctx context.Context, stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stageTime.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", string(stage))))
}

func (m *Metrics) recordRound(ctx context.Context, final string, degraded bool) {
	if m == nil {
		return
	}
	m.rounds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", final),
		attribute.Bool("degraded", degraded),
	))
}

func (m *Metrics) recordVeto(ctx context.Context, validator string, recursive bool) {
	if m == nil {
		return
	}
	m.vetoes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("validator", validator),
		attribute.Bool("recursive", recursive),
	))
}

func (m *Metrics) recordDeferral(ctx context.Context, cause string) {
	if m == nil {
		return
	}
	m.deferrals.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}
