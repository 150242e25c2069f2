package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeReasoner struct {
	name string
	fn   func(ctx context.Context, call int) (json.RawMessage, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeReasoner) Name() string { return f.name }

func (f *fakeReasoner) Evaluate(ctx context.Context, _ provider.EvaluationRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(ctx, n)
}

func (f *fakeReasoner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func failing(name string) *fakeReasoner {
	return &fakeReasoner{name: name, fn: func(context.Context, int) (json.RawMessage, error) {
		return nil, errBoom
	}}
}

func answering(name, body string) *fakeReasoner {
	return &fakeReasoner{name: name, fn: func(context.Context, int) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}}
}

func testConfig() Config {
	return Config{RetryAttempts: 1, CallTimeout: time.Second}
}

func newReasoningBus(t *testing.T, cfg Config, provs ...*fakeReasoner) *ReasoningBus {
	t.Helper()
	reg := registry.New[provider.Reasoning](registry.Reasoning, registry.Options{})
	for i, p := range provs {
		require.NoError(t, reg.Register(p.name, p, registry.Priority(i), provider.CapStructuredOutput))
	}
	reg.Seal()
	return NewReasoningBus(reg, cfg, logging.NewNop())
}

func failureCount(t *testing.T, b *ReasoningBus, name string) int {
	t.Helper()
	rec, ok := b.Registry().Lookup(name)
	require.True(t, ok)
	return rec.Breaker.Snapshot().FailureCount
}

const decisionSchema = `{
	"type": "object",
	"required": ["decision"],
	"properties": {"decision": {"type": "string", "enum": ["approve", "deny"]}}
}`

func evalRequest() provider.EvaluationRequest {
	return provider.EvaluationRequest{SchemaName: "decision", Schema: json.RawMessage(decisionSchema)}
}

func TestDo_FailsOverInPriorityOrder(t *testing.T) {
	p1, p2 := failing("p1"), failing("p2")
	p3 := answering("p3", `{"decision":"approve"}`)
	b := newReasoningBus(t, testConfig(), p1, p2, p3)

	out, err := b.Evaluate(context.Background(), evalRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"decision":"approve"}`, string(out))

	assert.Equal(t, 2, p1.Calls(), "first attempt plus one retry")
	assert.Equal(t, 2, p2.Calls())
	assert.Equal(t, 1, p3.Calls())

	assert.Equal(t, 1, failureCount(t, b, "p1"), "retries count as one provider failure")
	assert.Equal(t, 1, failureCount(t, b, "p2"))
	assert.Equal(t, 0, failureCount(t, b, "p3"))
}

func TestDo_Exhausted(t *testing.T) {
	b := newReasoningBus(t, testConfig(), failing("a"), failing("b"))

	_, err := b.Evaluate(context.Background(), evalRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	assert.ErrorIs(t, err, errBoom)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, registry.Reasoning, exhausted.Domain)
	assert.Equal(t, 2, exhausted.Providers)
	assert.Equal(t, 4, exhausted.Attempts)
}

func TestDo_NoEligibleProvider(t *testing.T) {
	b := newReasoningBus(t, testConfig())

	_, err := b.Evaluate(context.Background(), evalRequest())
	assert.ErrorIs(t, err, ErrNoEligibleProvider)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
}

func TestDo_SkipsOpenBreaker(t *testing.T) {
	reg := registry.New[provider.Reasoning](registry.Reasoning, registry.Options{})
	p1 := failing("p1")
	p2 := answering("p2", `{"decision":"deny"}`)
	require.NoError(t, reg.Register("p1", p1, registry.High, provider.CapStructuredOutput))
	require.NoError(t, reg.Register("p2", p2, registry.Low, provider.CapStructuredOutput))
	rec, _ := reg.Lookup("p1")
	for i := 0; i < 5; i++ {
		rec.Breaker.RecordFailure()
	}
	b := NewReasoningBus(reg, testConfig(), nil)

	_, err := b.Evaluate(context.Background(), evalRequest())
	require.NoError(t, err)
	assert.Zero(t, p1.Calls())
	assert.Equal(t, 1, p2.Calls())
}

func TestDo_CallTimeoutCountsAsFailure(t *testing.T) {
	slow := &fakeReasoner{name: "slow", fn: func(ctx context.Context, _ int) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fast := answering("fast", `{"decision":"approve"}`)
	b := newReasoningBus(t, Config{RetryAttempts: 0, CallTimeout: 20 * time.Millisecond}, slow, fast)

	_, err := b.Evaluate(context.Background(), evalRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, failureCount(t, b, "slow"))
	assert.Equal(t, 1, fast.Calls())
}

func TestCallWithTimeout_ReturnsErrCallTimeout(t *testing.T) {
	p := &fakeReasoner{name: "stuck", fn: func(ctx context.Context, _ int) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	_, err := callWithTimeout(context.Background(), 10*time.Millisecond, p,
		func(ctx context.Context, p *fakeReasoner) (json.RawMessage, error) {
			return p.Evaluate(ctx, provider.EvaluationRequest{})
		})
	assert.ErrorIs(t, err, ErrCallTimeout)
}

func TestDo_CancellationChargesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	blocked := &fakeReasoner{name: "blocked", fn: func(ctx context.Context, _ int) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	next := answering("next", `{"decision":"approve"}`)
	b := newReasoningBus(t, testConfig(), blocked, next)

	go func() {
		<-started
		cancel()
	}()

	_, err := b.Evaluate(ctx, evalRequest())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, failureCount(t, b, "blocked"))
	assert.Zero(t, next.Calls(), "cancellation must not fail over")
}

func TestEvaluate_MalformedRetriedOnce(t *testing.T) {
	flaky := &fakeReasoner{name: "flaky", fn: func(_ context.Context, call int) (json.RawMessage, error) {
		if call == 1 {
			return json.RawMessage(`{"decision":"maybe"}`), nil
		}
		return json.RawMessage(`{"decision":"deny"}`), nil
	}}
	b := newReasoningBus(t, testConfig(), flaky)

	out, err := b.Evaluate(context.Background(), evalRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"decision":"deny"}`, string(out))
	assert.Equal(t, 2, flaky.Calls())
	assert.Equal(t, 0, failureCount(t, b, "flaky"))
}

func TestEvaluate_MalformedSurfacesAfterRetry(t *testing.T) {
	bad := answering("bad", `{"verdict":"approve"}`)
	backup := answering("backup", `{"decision":"approve"}`)
	b := newReasoningBus(t, testConfig(), bad, backup)

	_, err := b.Evaluate(context.Background(), evalRequest())
	require.Error(t, err)

	var malformed *MalformedOutputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "decision", malformed.Schema)
	assert.Equal(t, "bad", malformed.Provider)
	assert.ErrorIs(t, err, ErrMalformedOutput)

	assert.Equal(t, 2, bad.Calls(), "schema violations are not retried inside a provider")
	assert.Zero(t, backup.Calls(), "schema violations do not fail over")
	assert.Equal(t, 0, failureCount(t, b, "bad"))
}

func TestEvaluate_NotJSON(t *testing.T) {
	b := newReasoningBus(t, testConfig(), answering("prose", `I think we should approve.`))

	_, err := b.Evaluate(context.Background(), evalRequest())
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestEvaluate_InvalidSchema(t *testing.T) {
	p := answering("p", `{}`)
	b := newReasoningBus(t, testConfig(), p)

	_, err := b.Evaluate(context.Background(), provider.EvaluationRequest{
		SchemaName: "broken",
		Schema:     json.RawMessage(`{"type": 12}`),
	})
	require.Error(t, err)
	assert.Zero(t, p.Calls())
}
