package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name  string
	tools []string

	mu    sync.Mutex
	calls []string
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Tools() []provider.ToolInfo {
	out := make([]provider.ToolInfo, len(f.tools))
	for i, n := range f.tools {
		out[i] = provider.ToolInfo{Name: n}
	}
	return out
}

func (f *fakeTool) Invoke(_ context.Context, call provider.ToolCall) (provider.ToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call.Name)
	f.mu.Unlock()
	return provider.ToolResult{Name: call.Name, Output: f.name}, nil
}

func TestToolBus_RoutesToProviderOfferingTool(t *testing.T) {
	regs := provider.NewRegistries(registry.Options{})
	shell := &fakeTool{name: "shell", tools: []string{"ls"}}
	web := &fakeTool{name: "web", tools: []string{"fetch_url", "ls"}}
	require.NoError(t, regs.Tool.Register("shell", shell, registry.High, provider.CapInvoke))
	require.NoError(t, regs.Tool.Register("web", web, registry.Normal, provider.CapInvoke))
	set := NewSet(regs, testConfig(), logging.NewNop())

	res, err := set.Tool.Invoke(context.Background(), provider.ToolCall{Name: "fetch_url"})
	require.NoError(t, err)
	assert.Equal(t, "web", res.Output)
	assert.Empty(t, shell.calls)

	rec, _ := regs.Tool.Lookup("shell")
	assert.Equal(t, 0, rec.Breaker.Snapshot().FailureCount, "skipped provider is not charged")

	names := make([]string, 0)
	for _, ti := range set.Tool.Tools() {
		names = append(names, ti.Name)
	}
	assert.Equal(t, []string{"ls", "fetch_url"}, names)
}

func TestToolBus_UnknownTool(t *testing.T) {
	regs := provider.NewRegistries(registry.Options{})
	require.NoError(t, regs.Tool.Register("shell", &fakeTool{name: "shell", tools: []string{"ls"}}, registry.High, provider.CapInvoke))
	set := NewSet(regs, testConfig(), nil)

	_, err := set.Tool.Invoke(context.Background(), provider.ToolCall{Name: "rm"})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

type fakeMemory struct {
	name  string
	facts map[string]provider.Fact
	err   error
}

func (f *fakeMemory) Name() string { return f.name }

func (f *fakeMemory) Recall(_ context.Context, q provider.MemoryQuery) (provider.MemorySnapshot, error) {
	if f.err != nil {
		return provider.MemorySnapshot{}, f.err
	}
	snap := provider.MemorySnapshot{Query: q.Text}
	for _, fact := range f.facts {
		snap.Facts = append(snap.Facts, fact)
	}
	return snap, nil
}

func (f *fakeMemory) Memorize(_ context.Context, fact provider.Fact) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.facts[fact.ID] = fact
	return fact.ID, nil
}

func (f *fakeMemory) Forget(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.facts, id)
	return nil
}

func TestMemoryBus_FallsBackToLocalStore(t *testing.T) {
	regs := provider.NewRegistries(registry.Options{})
	remote := &fakeMemory{name: "remote", err: errBoom}
	local := &fakeMemory{name: "local", facts: map[string]provider.Fact{}}
	caps := []string{provider.CapRecall, provider.CapMemorize, provider.CapForget}
	require.NoError(t, regs.Memory.Register("remote", remote, registry.High, caps...))
	require.NoError(t, regs.Memory.Register("local", local, registry.Fallback, caps...))
	set := NewSet(regs, Config{RetryAttempts: 0, CallTimeout: testConfig().CallTimeout}, nil)
	ctx := context.Background()

	id, err := set.Memory.Memorize(ctx, provider.Fact{ID: "f1", Content: "sky is blue"})
	require.NoError(t, err)
	assert.Equal(t, "f1", id)

	snap, err := set.Memory.Recall(ctx, provider.MemoryQuery{Text: "sky"})
	require.NoError(t, err)
	require.Len(t, snap.Facts, 1)

	require.NoError(t, set.Memory.Forget(ctx, "f1"))
	assert.Empty(t, local.facts)
}

type fakeComm struct {
	name      string
	delivered []provider.OutboundMessage
}

func (f *fakeComm) Name() string { return f.name }

func (f *fakeComm) Deliver(_ context.Context, msg provider.OutboundMessage) error {
	f.delivered = append(f.delivered, msg)
	return nil
}

func (f *fakeComm) Fetch(context.Context, string, int) ([]provider.InboundMessage, error) {
	return nil, provider.ErrUnsupported
}

func TestCommunicationBus(t *testing.T) {
	regs := provider.NewRegistries(registry.Options{})
	c := &fakeComm{name: "push"}
	require.NoError(t, regs.Communication.Register("push", c, registry.Normal, provider.CapDeliver, provider.CapFetch))
	set := NewSet(regs, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, set.Communication.Deliver(ctx, provider.OutboundMessage{Channel: "general", Content: "hi"}))
	assert.Len(t, c.delivered, 1)

	_, err := set.Communication.Fetch(ctx, "general", 10)
	assert.ErrorIs(t, err, provider.ErrUnsupported)
	rec, _ := regs.Communication.Lookup("push")
	assert.Equal(t, 0, rec.Breaker.Snapshot().FailureCount)
}
