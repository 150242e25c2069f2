package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_TaskLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateTask(ctx, &task.Task{ID: "t1", Description: "greet", Channel: "cli", Status: task.StatusPending}))
	require.NoError(t, s.UpdateRoundCount(ctx, "t1", 2))
	require.NoError(t, s.MarkStatus(ctx, "t1", task.StatusActive, ""))
	require.NoError(t, s.MarkStatus(ctx, "t1", task.StatusRejected, "out of scope"))

	err := s.MarkStatus(ctx, "t1", task.StatusComplete, "")
	assert.ErrorIs(t, err, task.ErrTerminalStatus)

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "greet", got.Description)
	assert.Equal(t, "cli", got.Channel)
	assert.Equal(t, 2, got.RoundCount)
	assert.Equal(t, task.StatusRejected, got.Status)
	assert.Equal(t, "out of scope", got.Reason)

	_, err = s.GetTask(ctx, "nope")
	assert.ErrorIs(t, err, task.ErrNotFound)
	assert.ErrorIs(t, s.MarkStatus(ctx, "nope", task.StatusFailed, ""), task.ErrNotFound)
}

func TestStore_Thoughts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tk := &task.Task{ID: "t1", Description: "remember my name", Status: task.StatusActive}
	require.NoError(t, s.CreateTask(ctx, tk))

	first := task.NewThought("th1", tk)
	first.Round = 1
	require.NoError(t, s.AppendThought(ctx, first))

	sel := action.New(action.Memorize, action.MemorizeParams{Key: "user.name", Content: "Ada"}, "user told me")
	first.Final = &sel
	first.Outcome = &action.Outcome{Action: action.Memorize, Success: true, Detail: "stored"}
	first.Status = task.ThoughtCompleted
	require.NoError(t, s.UpdateThought(ctx, first))

	second := first.FollowUp("th2")
	second.Round = 2
	require.NoError(t, s.AppendThought(ctx, second))

	list, err := s.Thoughts(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "th1", list[0].ID)
	assert.Equal(t, task.ThoughtCompleted, list[0].Status)
	require.NotNil(t, list[0].Final)
	assert.Equal(t, action.Memorize, list[0].Final.Action)
	assert.Equal(t, "th1", list[1].ParentID)
	assert.Equal(t, action.Memorize, list[1].LastAction)

	assert.ErrorIs(t, s.UpdateThought(ctx, &task.Thought{ID: "ghost"}), task.ErrNotFound)
}

func TestStore_RoundTrackerOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tk := &task.Task{ID: "t1", Description: "loop", Status: task.StatusPending}
	require.NoError(t, s.CreateTask(ctx, tk))

	rt := task.NewRoundTracker(s, tk, 2)
	for i := 0; i < 2; i++ {
		_, err := rt.Begin(ctx)
		require.NoError(t, err)
		_, _ = rt.Complete(ctx)
	}

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RoundCount)
	assert.Equal(t, task.StatusFailed, got.Status)
}

func TestStore_ListTasksAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateTask(ctx, &task.Task{ID: id, Description: id, Status: task.StatusPending}))
	}
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	list, err := s.ListTasks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
