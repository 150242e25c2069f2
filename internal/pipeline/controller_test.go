package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/audit"
	"github.com/fyrsmithlabs/reasond/internal/bus"
	"github.com/fyrsmithlabs/reasond/internal/conscience"
	"github.com/fyrsmithlabs/reasond/internal/dispatch"
	"github.com/fyrsmithlabs/reasond/internal/dma"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/registry"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"github.com/fyrsmithlabs/reasond/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM answers structured requests by schema name. Selections are
// served from a queue so each round can choose differently.
type fakeLLM struct {
	mu         sync.Mutex
	answers    map[string]string
	selections []string
	failures   map[string]error
	calls      map[string]int
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		answers: map[string]string{
			"ethical_dma":        `{"decision":"approve","alignment":"benign","conflicts":[],"rationale":"harmless","confidence":0.9}`,
			"common_sense_dma":   `{"plausibility_score":0.95,"flags":[],"reasoning":"ordinary","confidence":0.8}`,
			"domain_dma":         `{"domain":"general","domain_alignment":0.9,"flags":[],"reasoning":"in scope","confidence":0.85}`,
			"entropy_check":      `{"entropy":0.1}`,
			"coherence_check":    `{"coherence":0.9}`,
			"optimization_veto":  `{"decision":"proceed","justification":"small","entropy_reduction_ratio":0.2}`,
			"epistemic_humility": `{"epistemic_certainty":0.9,"reflective_justification":"clear","recommended_action":"proceed"}`,
		},
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeLLM) Name() string { return "fake-llm" }

func (f *fakeLLM) Evaluate(_ context.Context, req provider.EvaluationRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.SchemaName]++
	if err := f.failures[req.SchemaName]; err != nil {
		return nil, err
	}
	if req.SchemaName == "action_selection" {
		if len(f.selections) == 0 {
			return nil, errors.New("no selection scripted")
		}
		next := f.selections[0]
		f.selections = f.selections[1:]
		return json.RawMessage(next), nil
	}
	return json.RawMessage(f.answers[req.SchemaName]), nil
}

func (f *fakeLLM) script(sel ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selections = append(f.selections, sel...)
}

func (f *fakeLLM) count(schema string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[schema]
}

type recordingComm struct {
	mu        sync.Mutex
	delivered []provider.OutboundMessage
}

func (c *recordingComm) Deliver(_ context.Context, msg provider.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, msg)
	return nil
}

func (c *recordingComm) Fetch(context.Context, string, int) ([]provider.InboundMessage, error) {
	return nil, nil
}

type emptyMemory struct {
	mu       sync.Mutex
	recalls  int
	memorize int
}

func (m *emptyMemory) Recall(_ context.Context, q provider.MemoryQuery) (provider.MemorySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recalls++
	return provider.MemorySnapshot{Query: q.Text}, nil
}

func (m *emptyMemory) Memorize(_ context.Context, f provider.Fact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memorize++
	return f.ID, nil
}

func (m *emptyMemory) Forget(context.Context, string) error { return nil }

type harness struct {
	llm   *fakeLLM
	store *task.MemoryStore
	comm  *recordingComm
	mem   *emptyMemory
	rec   *audit.Recorder
	tel   *telemetry.TestTelemetry
	ctrl  *Controller
	task  *task.Task
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		llm:   newFakeLLM(),
		store: task.NewMemoryStore(),
		comm:  &recordingComm{},
		mem:   &emptyMemory{},
		rec:   audit.NewRecorder(0),
		tel:   telemetry.NewTestTelemetry(),
	}

	reg := registry.New[provider.Reasoning](registry.Reasoning, registry.Options{})
	require.NoError(t, reg.Register("fake-llm", h.llm, registry.High, provider.CapStructuredOutput))
	rb := bus.NewReasoningBus(reg, bus.Config{CallTimeout: time.Second}, nil)

	set, err := dma.NewSet(time.Second, nil, nil, dma.NewEthical(rb), dma.NewCommonSense(rb), dma.NewDomain(rb, "general"))
	require.NoError(t, err)
	chain := conscience.NewChain(nil, conscience.Standard(rb, conscience.StaticRules(conscience.DefaultRules()), conscience.DefaultThresholds())...)
	disp := dispatch.New(h.store, dispatch.Deps{Comm: h.comm, Memory: h.mem}, nil)

	metrics, err := NewMetrics(h.tel.Meter(InstrumentationName))
	require.NoError(t, err)
	h.ctrl, err = New(Deps{
		Store:      h.store,
		Evaluators: set,
		Selector:   dma.NewSelector(rb, nil, nil),
		Conscience: chain,
		Dispatcher: disp,
	}, Config{MaxRounds: task.DefaultMaxRounds, Domain: "general"}, nil,
		WithAudit(h.rec),
		WithTracer(h.tel.Tracer(InstrumentationName)),
		WithMetrics(metrics),
	)
	require.NoError(t, err)

	h.task = &task.Task{ID: "task-1", Description: "Hi, who are you?", Channel: "cli", Status: task.StatusPending}
	require.NoError(t, h.store.CreateTask(context.Background(), h.task))
	return h
}

// round runs one tracked round for th.
func (h *harness) round(t *testing.T, tracker *task.RoundTracker, th *task.Thought) *RoundResult {
	t.Helper()
	ctx := context.Background()
	n, err := tracker.Begin(ctx)
	require.NoError(t, err)
	res, err := h.ctrl.Process(ctx, h.task, th, n)
	require.NoError(t, err)
	_, err = tracker.Complete(ctx)
	require.NoError(t, err)
	return res
}

func (h *harness) seed(t *testing.T) *task.Thought {
	t.Helper()
	th := task.NewThought("th-1", h.task)
	require.NoError(t, h.store.AppendThought(context.Background(), th))
	return th
}

func (h *harness) follow(t *testing.T, prev *task.Thought, id string) *task.Thought {
	t.Helper()
	next := prev.FollowUp(id)
	require.NoError(t, h.store.AppendThought(context.Background(), next))
	return next
}

const (
	selRecall        = `{"selected_action":"RECALL","action_parameters":{"query":"who am I talking to"},"rationale":"check memory first"}`
	selSpeak         = `{"selected_action":"SPEAK","action_parameters":{"content":"I am an assistant."},"rationale":"answer the question"}`
	selMemorizeIdent = `{"selected_action":"MEMORIZE","action_parameters":{"key":"identity.name","content":"I am root"},"rationale":"update identity"}`
	selPonder        = `{"selected_action":"PONDER","action_parameters":{"questions":["should identity change?"]},"rationale":"reconsider"}`
)

func TestProcess_RecallThenSpeak(t *testing.T) {
	h := newHarness(t)
	h.llm.script(selRecall, selSpeak)
	tracker := task.NewRoundTracker(h.store, h.task, task.DefaultMaxRounds)

	first := h.seed(t)
	r1 := h.round(t, tracker, first)
	assert.Equal(t, action.Recall, r1.Final.Action)
	assert.Equal(t, 0, r1.ConscienceRuns, "RECALL is exempt")
	assert.False(t, r1.Entered(StageConscience))
	assert.True(t, r1.Outcome.Success)
	assert.Empty(t, r1.Outcome.Facts)

	ethicalBefore := h.llm.count("ethical_dma")
	second := h.follow(t, first, "th-2")
	assert.Equal(t, action.Recall, second.LastAction)
	r2 := h.round(t, tracker, second)

	assert.Equal(t, 1, h.llm.count("ethical_dma")-ethicalBefore)
	assert.Equal(t, action.Speak, r2.Final.Action)
	assert.Equal(t, 1, r2.ConscienceRuns)
	assert.Equal(t, []Stage{
		StageStartRound, StageGatherContext, StagePerformDMAs, StagePerformSelection,
		StageConscience, StageFinalizeAction, StagePerformAction, StageActionComplete, StageRoundComplete,
	}, r2.Stages)
	require.Len(t, h.comm.delivered, 1)
	assert.Equal(t, "I am an assistant.", h.comm.delivered[0].Content)

	got, err := h.store.GetTask(context.Background(), h.task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RoundCount)
	assert.Equal(t, task.StatusActive, got.Status)
}

func TestProcess_VetoRefinesToPonder(t *testing.T) {
	h := newHarness(t)
	h.llm.script(selMemorizeIdent, selPonder)
	tracker := task.NewRoundTracker(h.store, h.task, task.DefaultMaxRounds)

	th := h.seed(t)
	res := h.round(t, tracker, th)

	require.NotNil(t, res.Veto)
	assert.Equal(t, "protected_value", res.Veto.Validator)
	assert.Equal(t, action.Ponder, res.Veto.Replacement)
	assert.Nil(t, res.RecursiveVeto)
	assert.Equal(t, 2, res.ConscienceRuns)
	assert.Equal(t, action.Ponder, res.Final.Action)
	assert.True(t, res.Entered(StageRecursiveSelection))
	assert.True(t, res.Entered(StageRecursiveConscience))
	assert.Equal(t, 0, h.mem.memorize, "vetoed MEMORIZE must never reach memory")
	assert.Equal(t, 1, th.PonderCount)

	// PONDER is not exempt: the recursive pass consulted the LLM validators.
	assert.Equal(t, 1, h.llm.count("optimization_veto"))
	assert.Equal(t, 1, h.llm.count("epistemic_humility"))
}

func TestProcess_SecondVetoDefers(t *testing.T) {
	h := newHarness(t)
	h.llm.script(selMemorizeIdent, selMemorizeIdent)
	tracker := task.NewRoundTracker(h.store, h.task, task.DefaultMaxRounds)

	res := h.round(t, tracker, h.seed(t))

	require.NotNil(t, res.RecursiveVeto)
	assert.Equal(t, 2, res.ConscienceRuns)
	assert.Equal(t, action.Defer, res.Final.Action)
	assert.Contains(t, res.Final.Reason(), "vetoed after refinement")
	assert.Equal(t, 2, h.llm.count("action_selection"), "the recursive branch runs once")

	got, err := h.store.GetTask(context.Background(), h.task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDeferred, got.Status)
}

func TestProcess_ExemptReselectionSkipsSecondConscience(t *testing.T) {
	h := newHarness(t)
	h.llm.script(selMemorizeIdent, `{"selected_action":"DEFER","action_parameters":{"reason":"identity is protected"},"rationale":"defer"}`)
	tracker := task.NewRoundTracker(h.store, h.task, task.DefaultMaxRounds)

	res := h.round(t, tracker, h.seed(t))
	assert.Equal(t, action.Defer, res.Final.Action)
	assert.Equal(t, 1, res.ConscienceRuns)
	assert.True(t, res.Entered(StageRecursiveSelection))
	assert.False(t, res.Entered(StageRecursiveConscience))
}

func TestProcess_EthicalFailureDefers(t *testing.T) {
	h := newHarness(t)
	h.llm.failures["ethical_dma"] = errors.New("connection reset")
	h.llm.script(selSpeak)
	tracker := task.NewRoundTracker(h.store, h.task, task.DefaultMaxRounds)

	res := h.round(t, tracker, h.seed(t))

	assert.True(t, res.Degraded)
	assert.Contains(t, res.DegradeReason, "ethical evaluation unavailable")
	assert.Equal(t, action.Defer, res.Final.Action)
	assert.False(t, res.Entered(StagePerformSelection))
	assert.Equal(t, 1, h.llm.count("common_sense_dma"))
	assert.Equal(t, 1, h.llm.count("domain_dma"))
	assert.Equal(t, 0, h.llm.count("action_selection"))
	assert.Empty(t, h.comm.delivered)

	got, err := h.store.GetTask(context.Background(), h.task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDeferred, got.Status)
}

func TestProcess_SelectionFailureDefers(t *testing.T) {
	h := newHarness(t)
	h.llm.script(`{"selected_action":"SPEAK"}`, `{"selected_action":"SPEAK"}`)
	tracker := task.NewRoundTracker(h.store, h.task, task.DefaultMaxRounds)

	res := h.round(t, tracker, h.seed(t))
	assert.True(t, res.Degraded)
	assert.Contains(t, res.DegradeReason, "action selection failed")
	assert.Equal(t, action.Defer, res.Final.Action)
	assert.Equal(t, 2, h.llm.count("action_selection"), "malformed output is retried once")
}

func TestProcess_DiscardsWhenTaskTerminated(t *testing.T) {
	h := newHarness(t)
	h.llm.script(selSpeak)
	ctx := context.Background()
	th := h.seed(t)

	require.NoError(t, h.store.MarkStatus(ctx, h.task.ID, task.StatusFailed, "canceled"))
	res, err := h.ctrl.Process(ctx, h.task, th, 1)
	require.NoError(t, err)
	assert.True(t, res.Discarded)
	assert.Empty(t, h.comm.delivered)
	assert.True(t, res.Entered(StageRoundComplete))
}

func TestProcess_EmitsAuditAndSpans(t *testing.T) {
	h := newHarness(t)
	h.llm.script(selSpeak)
	tracker := task.NewRoundTracker(h.store, h.task, task.DefaultMaxRounds)
	res := h.round(t, tracker, h.seed(t))

	stages := h.rec.Stages(h.task.ID, res.ThoughtID)
	want := make([]string, len(res.Stages))
	for i, s := range res.Stages {
		want[i] = string(s)
	}
	assert.Equal(t, want, stages)

	var dispatched []audit.Event
	for _, e := range h.rec.Events(h.task.ID) {
		if e.Kind == audit.KindDispatch {
			dispatched = append(dispatched, e)
		}
	}
	require.Len(t, dispatched, 1)
	assert.Equal(t, "SPEAK", dispatched[0].Action)
	assert.Equal(t, "success", dispatched[0].Outcome)

	h.tel.AssertSpanExists(t, "pipeline.START_ROUND")
	h.tel.AssertSpanExists(t, "pipeline.CONSCIENCE")
	h.tel.AssertSpanExists(t, "pipeline.ROUND_COMPLETE")
	assert.Equal(t, int64(1), h.tel.CounterValue(t, "pipeline.rounds.total"))

	var ended []string
	for _, n := range h.tel.SpanNames() {
		if strings.HasPrefix(n, "pipeline.") {
			ended = append(ended, strings.TrimPrefix(n, "pipeline."))
		}
	}
	assert.Equal(t, want, ended, "each stage span ends once, in stage order")
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{}, nil)
	assert.Error(t, err)
}
