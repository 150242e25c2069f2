package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/audit"
	"github.com/fyrsmithlabs/reasond/internal/conscience"
	"github.com/fyrsmithlabs/reasond/internal/dispatch"
	"github.com/fyrsmithlabs/reasond/internal/dma"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Evaluators runs the DMA fan-out.
type Evaluators interface {
	Run(ctx context.Context, snap dma.Snapshot) (*dma.Results, error)
}

// Selector picks one candidate action.
type Selector interface {
	Select(ctx context.Context, in dma.SelectionInput) (action.Selection, error)
}

// Conscience validates a candidate.
type Conscience interface {
	Evaluate(ctx context.Context, in conscience.Input) conscience.Result
}

// Dispatcher performs the finalized action.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (action.Outcome, error)
}

// ToolLister reports the tools the selector may choose from.
type ToolLister interface {
	Tools() []provider.ToolInfo
}

// Deps are the collaborators a controller drives.
type Deps struct {
	Store      task.Store
	Evaluators Evaluators
	Selector   Selector
	Conscience Conscience
	Dispatcher Dispatcher
	// Tools is optional.
	Tools ToolLister
}

// Config holds per-round limits.
type Config struct {
	MaxRounds int
	// Domain is passed to evaluators and the selector as context.
	Domain string
}

// Option configures a Controller.
type Option func(*Controller)

// WithAudit sets the audit sink. The default discards events.
func WithAudit(s audit.Sink) Option {
	return func(c *Controller) { c.audit = s }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithMetrics sets the round instruments.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller runs rounds. It is safe for concurrent use by many workers;
// all per-round state lives on the stack of Process.
type Controller struct {
	deps    Deps
	cfg     Config
	logger  *logging.Logger
	audit   audit.Sink
	tracer  trace.Tracer
	metrics *Metrics
}

// New creates a controller.
func New(deps Deps, cfg Config, logger *logging.Logger, opts ...Option) (*Controller, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Evaluators == nil:
		return nil, errors.New("pipeline: evaluators are required")
	case deps.Selector == nil:
		return nil, errors.New("pipeline: selector is required")
	case deps.Conscience == nil:
		return nil, errors.New("pipeline: conscience is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("pipeline: dispatcher is required")
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = task.DefaultMaxRounds
	}
	c := &Controller{
		deps:   deps,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("pipeline"),
		audit:  audit.Discard{},
		tracer: otel.Tracer(InstrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RoundResult describes one completed round.
type RoundResult struct {
	TaskID    string
	ThoughtID string
	Round     int
	// Stages lists every stage entered, in order.
	Stages []Stage

	Candidate *action.Selection
	// Veto is the first conscience veto, if any.
	Veto *conscience.Verdict
	// RecursiveVeto is set when the re-selected candidate was vetoed too.
	RecursiveVeto *conscience.Verdict
	// ConscienceRuns counts chain evaluations: 0, 1 or 2.
	ConscienceRuns int

	Final   action.Selection
	Outcome action.Outcome

	// Degraded is set when the round fell back to DEFER because a stage
	// could not produce a trustworthy result.
	Degraded      bool
	DegradeReason string
	// Discarded is set when the task was terminated while the round ran;
	// nothing was dispatched.
	Discarded bool
}

// Entered reports whether stage was part of the round.
func (r *RoundResult) Entered(stage Stage) bool {
	for _, s := range r.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Process runs one round for th. The caller owns round accounting; round
// is the 1-based number returned by task.RoundTracker.Begin.
//
// Stage failures degrade the round to DEFER instead of returning an
// error. An error means the round could not finish at all: the dispatcher
// refused it or the context ended.
func (c *Controller) Process(ctx context.Context, t *task.Task, th *task.Thought, round int) (*RoundResult, error) {
	ctx = logging.WithTask(ctx, t.ID)
	ctx = logging.WithThought(ctx, th.ID, round)

	r := &run{c: c, res: &RoundResult{TaskID: t.ID, ThoughtID: th.ID, Round: round}, task: t, thought: th}
	defer r.end()

	if err := r.enter(ctx, StageStartRound); err != nil {
		return r.res, err
	}
	th.Round = round
	th.Status = task.ThoughtProcessing
	if err := c.deps.Store.UpdateThought(ctx, th); err != nil {
		c.logger.Warn(ctx, "failed to mark thought processing", zap.Error(err))
	}

	final, err := r.decide(ctx)
	if err != nil {
		return r.res, err
	}
	return r.act(ctx, final)
}

// decide runs GATHER_CONTEXT through the conscience stages and returns the
// action to finalize.
func (r *run) decide(ctx context.Context) (action.Selection, error) {
	c := r.c
	if err := r.enter(ctx, StageGatherContext); err != nil {
		return action.Selection{}, err
	}
	snap, err := c.gather(ctx, r.task, r.thought, r.res.Round)
	if err != nil {
		return r.degrade(ctx, "gather", fmt.Sprintf("could not gather context: %v", err)), nil
	}

	if err := r.enter(ctx, StagePerformDMAs); err != nil {
		return action.Selection{}, err
	}
	results, err := c.deps.Evaluators.Run(ctx, snap)
	if err != nil {
		return r.degrade(ctx, "ethical", fmt.Sprintf("ethical evaluation unavailable: %v", err)), nil
	}

	if err := r.enter(ctx, StagePerformSelection); err != nil {
		return action.Selection{}, err
	}
	cand, err := c.deps.Selector.Select(ctx, dma.SelectionInput{Snapshot: snap, Results: results})
	if err != nil {
		return r.degrade(ctx, "selection", fmt.Sprintf("action selection failed: %v", err)), nil
	}
	r.res.Candidate = &cand
	r.thought.Candidate = &cand
	if cand.Action.Exempt() {
		return cand, nil
	}

	if err := r.enter(ctx, StageConscience); err != nil {
		return action.Selection{}, err
	}
	first := c.deps.Conscience.Evaluate(ctx, conscience.Input{Snapshot: snap, Results: results, Selection: cand})
	r.res.ConscienceRuns++
	if first.Passed() {
		return cand, nil
	}
	veto := first.Verdict
	r.res.Veto = &veto
	c.metrics.recordVeto(ctx, veto.Validator, false)

	if err := r.enter(ctx, StageRecursiveSelection); err != nil {
		return action.Selection{}, err
	}
	feedback := &dma.VetoFeedback{
		Validator:   veto.Validator,
		Reason:      veto.Reason,
		Rejected:    cand.Action,
		Replacement: veto.Replacement,
	}
	second, err := c.deps.Selector.Select(ctx, dma.SelectionInput{Snapshot: snap, Results: results, Veto: feedback})
	if err != nil {
		return r.degrade(ctx, "selection", fmt.Sprintf("re-selection after %s veto failed: %v", veto.Validator, err)), nil
	}
	r.thought.Candidate = &second
	if second.Action.Exempt() {
		return second, nil
	}

	if err := r.enter(ctx, StageRecursiveConscience); err != nil {
		return action.Selection{}, err
	}
	again := c.deps.Conscience.Evaluate(ctx, conscience.Input{Snapshot: snap, Results: results, Selection: second})
	r.res.ConscienceRuns++
	if again.Passed() {
		return second, nil
	}
	rv := again.Verdict
	r.res.RecursiveVeto = &rv
	c.metrics.recordVeto(ctx, rv.Validator, true)
	c.metrics.recordDeferral(ctx, "second_veto")
	return action.DeferTo(fmt.Sprintf("%s vetoed after refinement: %s", second.Action, rv.Reason)), nil
}

// act runs FINALIZE_ACTION through ROUND_COMPLETE.
func (r *run) act(ctx context.Context, final action.Selection) (*RoundResult, error) {
	c := r.c
	if err := r.enter(ctx, StageFinalizeAction); err != nil {
		return r.res, err
	}
	r.res.Final = final

	if err := r.enter(ctx, StagePerformAction); err != nil {
		return r.res, err
	}
	outcome, err := c.deps.Dispatcher.Dispatch(ctx, dispatch.Request{Task: r.task, Thought: r.thought, Selection: final})
	switch {
	case errors.Is(err, dispatch.ErrTaskTerminated):
		r.res.Discarded = true
		c.logger.Info(ctx, "task terminated during round, result discarded",
			zap.String("action", string(final.Action)))
	case err != nil:
		r.fail(err)
		return r.res, fmt.Errorf("dispatch %s: %w", final.Action, err)
	default:
		r.res.Outcome = outcome
		c.record(ctx, audit.Event{
			Kind:      audit.KindDispatch,
			TaskID:    r.task.ID,
			ThoughtID: r.thought.ID,
			Round:     r.res.Round,
			Stage:     string(StagePerformAction),
			Action:    string(final.Action),
			Outcome:   outcomeLabel(outcome),
			Detail:    dispatchDetail(final, outcome),
		})
	}

	if err := r.enter(ctx, StageActionComplete); err != nil {
		return r.res, err
	}
	if err := r.enter(ctx, StageRoundComplete); err != nil {
		return r.res, err
	}
	c.metrics.recordRound(ctx, string(final.Action), r.res.Degraded)
	c.logger.Info(ctx, "round complete",
		zap.String("action", string(final.Action)),
		zap.Bool("degraded", r.res.Degraded),
		zap.Bool("discarded", r.res.Discarded),
		zap.Int("conscience_runs", r.res.ConscienceRuns),
	)
	return r.res, nil
}

// gather builds the read-only snapshot every evaluator sees. The task is
// reloaded so the round observes concurrent status changes.
func (c *Controller) gather(ctx context.Context, t *task.Task, th *task.Thought, round int) (dma.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return dma.Snapshot{}, err
	}
	current, err := c.deps.Store.GetTask(ctx, t.ID)
	if err != nil {
		return dma.Snapshot{}, fmt.Errorf("load task: %w", err)
	}
	snap := dma.Snapshot{
		TaskID:      current.ID,
		Task:        current.Description,
		Channel:     current.Channel,
		ThoughtID:   th.ID,
		Thought:     th.Content,
		Round:       round,
		MaxRounds:   c.cfg.MaxRounds,
		Domain:      c.cfg.Domain,
		PonderCount: th.PonderCount,
		Notes:       th.Notes,
		LastAction:  th.LastAction,
		Recalled:    th.Recalled,
		Observed:    th.Observed,
		ToolResult:  th.ToolResult,
		Guidance:    th.Guidance,
	}
	if c.deps.Tools != nil {
		snap.Tools = c.deps.Tools.Tools()
	}
	return snap, nil
}

func (c *Controller) record(ctx context.Context, e audit.Event) {
	if err := c.audit.Record(ctx, audit.Stamp(e)); err != nil {
		c.logger.Warn(ctx, "audit sink failed", zap.Error(err))
	}
}

func outcomeLabel(o action.Outcome) string {
	if o.Success {
		return "success"
	}
	return "failure"
}

func dispatchDetail(sel action.Selection, o action.Outcome) map[string]string {
	d := map[string]string{}
	if sel.Rationale != "" {
		d["rationale"] = sel.Rationale
	}
	if o.Detail != "" {
		d["detail"] = o.Detail
	}
	if o.Error != "" {
		d["error"] = o.Error
	}
	return d
}

// run is the state of one Process call.
type run struct {
	c       *Controller
	res     *RoundResult
	task    *task.Task
	thought *task.Thought

	stage   Stage
	span    trace.Span
	entered time.Time
}

// enter moves the round to next, closing the previous stage's span and
// emitting one audit event.
func (r *run) enter(ctx context.Context, next Stage) error {
	if err := checkTransition(r.stage, next); err != nil {
		return err
	}
	r.closeStage(ctx)

	r.stage = next
	r.entered = time.Now()
	r.res.Stages = append(r.res.Stages, next)
	_, r.span = r.c.tracer.Start(logging.WithStage(ctx, string(next)), "pipeline."+string(next),
		trace.WithAttributes(
			attribute.String("task.id", r.task.ID),
			attribute.String("thought.id", r.thought.ID),
			attribute.Int("round", r.res.Round),
		))
	r.c.record(ctx, audit.Event{
		Kind:      audit.KindStage,
		TaskID:    r.task.ID,
		ThoughtID: r.thought.ID,
		Round:     r.res.Round,
		Stage:     string(next),
	})
	if next.Terminal() {
		r.closeStage(ctx)
	}
	return nil
}

func (r *run) closeStage(ctx context.Context) {
	if r.span == nil {
		return
	}
	r.c.metrics.recordStage(ctx, r.stage, time.Since(r.entered))
	r.span.End()
	r.span = nil
}

func (r *run) fail(err error) {
	if r.span != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
}

func (r *run) end() {
	r.closeStage(context.Background())
}

// degrade records why the round falls back to DEFER and returns the DEFER
// selection.
func (r *run) degrade(ctx context.Context, cause, reason string) action.Selection {
	r.res.Degraded = true
	r.res.DegradeReason = reason
	if r.span != nil {
		r.span.SetAttributes(attribute.String("degrade.cause", cause))
	}
	r.c.metrics.recordDeferral(ctx, cause)
	r.c.logger.Warn(ctx, "round degraded to DEFER", zap.String("cause", cause), zap.String("reason", reason))
	return action.DeferTo(reason)
}
