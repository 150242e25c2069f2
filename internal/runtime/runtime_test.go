package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/audit"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/pipeline"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// scriptedProcessor completes a task on round completeAt. Zero never
// completes.
type scriptedProcessor struct {
	store      task.Store
	completeAt int

	mu       sync.Mutex
	calls    map[string][]int
	inFlight map[string]bool
	overlap  bool
	gate     chan struct{}
	started  chan struct{}
}

func newScripted(store task.Store, completeAt int) *scriptedProcessor {
	return &scriptedProcessor{
		store:      store,
		completeAt: completeAt,
		calls:      map[string][]int{},
		inFlight:   map[string]bool{},
	}
}

func (p *scriptedProcessor) Process(ctx context.Context, t *task.Task, th *task.Thought, round int) (*pipeline.RoundResult, error) {
	p.mu.Lock()
	if p.inFlight[t.ID] {
		p.overlap = true
	}
	p.inFlight[t.ID] = true
	p.calls[t.ID] = append(p.calls[t.ID], round)
	gate, started := p.gate, p.started
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	res := &pipeline.RoundResult{TaskID: t.ID, ThoughtID: th.ID, Round: round, Final: action.New(action.Ponder, nil, "")}
	if round == p.completeAt {
		res.Final = action.New(action.TaskComplete, nil, "")
		if err := p.store.MarkStatus(ctx, t.ID, task.StatusComplete, "done"); err != nil && !errors.Is(err, task.ErrTerminalStatus) {
			return nil, err
		}
	}

	p.mu.Lock()
	p.inFlight[t.ID] = false
	p.mu.Unlock()
	return res, nil
}

func (p *scriptedProcessor) rounds(id string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.calls[id]...)
}

func startRuntime(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func waitClosed(t *testing.T, rt *Runtime, id string) *task.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := rt.Wait(ctx, id)
	require.NoError(t, err)
	return got
}

func TestRuntime_CompletesTask(t *testing.T) {
	store := task.NewMemoryStore()
	proc := newScripted(store, 2)
	rec := audit.NewRecorder(0)
	rt := New(Config{Workers: 2, QueueSize: 8, MaxRounds: 7}, store, proc, rec, nil)
	startRuntime(t, rt)

	tk, err := rt.Submit(context.Background(), "say hello", "cli")
	require.NoError(t, err)

	got := waitClosed(t, rt, tk.ID)
	assert.Equal(t, task.StatusComplete, got.Status)
	assert.Equal(t, 2, got.RoundCount)
	assert.Equal(t, []int{1, 2}, proc.rounds(tk.ID))

	thoughts, err := store.Thoughts(context.Background(), tk.ID)
	require.NoError(t, err)
	require.Len(t, thoughts, 2)
	assert.Equal(t, thoughts[0].ID, thoughts[1].ParentID)

	var outcomes []string
	for _, e := range rec.Events(tk.ID) {
		outcomes = append(outcomes, e.Outcome)
	}
	assert.Equal(t, []string{"submitted", "COMPLETE"}, outcomes)
}

func TestRuntime_RoundBudgetFailsTask(t *testing.T) {
	store := task.NewMemoryStore()
	proc := newScripted(store, 0)
	rt := New(Config{Workers: 1, QueueSize: 8, MaxRounds: 3}, store, proc, nil, nil)
	startRuntime(t, rt)

	tk, err := rt.Submit(context.Background(), "never finishes", "")
	require.NoError(t, err)

	got := waitClosed(t, rt, tk.ID)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, task.ErrRoundBudgetExceeded.Error(), got.Reason)
	assert.Equal(t, 3, got.RoundCount)
	assert.Equal(t, []int{1, 2, 3}, proc.rounds(tk.ID))
}

func TestRuntime_RoundsOfOneTaskNeverOverlap(t *testing.T) {
	store := task.NewMemoryStore()
	proc := newScripted(store, 0)
	rt := New(Config{Workers: 8, QueueSize: 32, MaxRounds: 5}, store, proc, nil, nil)
	startRuntime(t, rt)

	var ids []string
	for i := 0; i < 6; i++ {
		tk, err := rt.Submit(context.Background(), "task", "")
		require.NoError(t, err)
		ids = append(ids, tk.ID)
	}
	for _, id := range ids {
		got := waitClosed(t, rt, id)
		assert.LessOrEqual(t, got.RoundCount, 5)
		assert.True(t, got.Status.Terminal())
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.False(t, proc.overlap)
}

func TestRuntime_QueueFull(t *testing.T) {
	store := task.NewMemoryStore()
	rt := New(Config{Workers: 1, QueueSize: 1}, store, newScripted(store, 1), nil, nil)

	_, err := rt.Submit(context.Background(), "first", "")
	require.NoError(t, err)
	_, err = rt.Submit(context.Background(), "second", "")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, rt.QueueDepth())

	_, err = rt.Submit(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrEmptyTask)
}

func TestRuntime_CancelStopsFurtherRounds(t *testing.T) {
	store := task.NewMemoryStore()
	proc := newScripted(store, 0)
	proc.gate = make(chan struct{})
	proc.started = make(chan struct{}, 1)
	rt := New(Config{Workers: 1, QueueSize: 4, MaxRounds: 7}, store, proc, nil, nil)
	startRuntime(t, rt)

	tk, err := rt.Submit(context.Background(), "long task", "")
	require.NoError(t, err)
	<-proc.started

	require.NoError(t, rt.Cancel(context.Background(), tk.ID, "user abort"))
	close(proc.gate)

	got := waitClosed(t, rt, tk.ID)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "user abort", got.Reason)
	assert.Equal(t, []int{1}, proc.rounds(tk.ID), "no round starts after cancel")

	assert.ErrorIs(t, rt.Cancel(context.Background(), tk.ID, ""), task.ErrTerminalStatus)
}

func TestRuntime_Drive(t *testing.T) {
	store := task.NewMemoryStore()
	proc := newScripted(store, 3)
	rt := New(Config{Workers: 1, QueueSize: 4}, store, proc, nil, nil)

	tk, err := rt.Submit(context.Background(), "one shot", "cli")
	require.NoError(t, err)

	got, err := rt.Drive(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusComplete, got.Status)
	assert.Equal(t, 3, got.RoundCount)
	assert.Equal(t, 0, rt.QueueDepth())
}

func TestRuntime_ShutdownClosesQueuedTasks(t *testing.T) {
	store := task.NewMemoryStore()
	proc := newScripted(store, 0)
	proc.gate = make(chan struct{})
	proc.started = make(chan struct{}, 1)
	rt := New(Config{Workers: 1, QueueSize: 4, MaxRounds: 7}, store, proc, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	first, err := rt.Submit(context.Background(), "in flight", "")
	require.NoError(t, err)
	<-proc.started
	second, err := rt.Submit(context.Background(), "waiting", "")
	require.NoError(t, err)

	cancel()
	close(proc.gate)
	require.NoError(t, <-done)

	for _, id := range []string{first.ID, second.ID} {
		got, err := store.GetTask(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, got.Status, id)
		assert.Equal(t, "runtime stopped", got.Reason, id)
	}
}

func TestRuntime_RunTwice(t *testing.T) {
	store := task.NewMemoryStore()
	rt := New(Config{Workers: 1}, store, newScripted(store, 1), nil, nil)
	startRuntime(t, rt)

	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return rt.running
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rt.Run(context.Background()), ErrAlreadyRunning)
}

// unclosableStore refuses to mark any task FAILED.
type unclosableStore struct {
	*task.MemoryStore
}

func (s unclosableStore) MarkStatus(ctx context.Context, taskID string, status task.Status, reason string) error {
	if status == task.StatusFailed {
		return errors.New("disk full")
	}
	return s.MemoryStore.MarkStatus(ctx, taskID, status, reason)
}

type failingProcessor struct{}

func (failingProcessor) Process(context.Context, *task.Task, *task.Thought, int) (*pipeline.RoundResult, error) {
	return nil, errors.New("boom")
}

func TestRuntime_LogsTaskCloseFailure(t *testing.T) {
	store := unclosableStore{task.NewMemoryStore()}
	tl := logging.NewTestLogger()
	rt := New(Config{Workers: 1, QueueSize: 4}, store, failingProcessor{}, nil, tl.Logger)

	tk, err := rt.Submit(context.Background(), "doomed", "cli")
	require.NoError(t, err)

	got, err := rt.Drive(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusActive, got.Status, "the store kept the task open")

	tl.AssertLogged(t, zapcore.ErrorLevel, "failed to close task")
	tl.AssertField(t, "failed to close task", "reason", "round failed: boom")
	tl.AssertField(t, "failed to close task", "task_id", tk.ID)
}
