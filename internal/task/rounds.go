package task

import (
	"context"
	"fmt"
	"sync"
)

// RoundTracker owns a task's round counter. It is the only writer of
// Task.RoundCount and enforces the round budget.
type RoundTracker struct {
	store  Store
	taskID string
	max    int

	mu       sync.Mutex
	rounds   int
	inFlight bool
}

// NewRoundTracker creates a tracker for t. maxRounds <= 0 selects
// DefaultMaxRounds.
func NewRoundTracker(store Store, t *Task, maxRounds int) *RoundTracker {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &RoundTracker{store: store, taskID: t.ID, max: maxRounds, rounds: t.RoundCount}
}

// TaskID returns the tracked task.
func (r *RoundTracker) TaskID() string { return r.taskID }

// Max returns the round budget.
func (r *RoundTracker) Max() int { return r.max }

// Rounds returns the number of rounds started so far.
func (r *RoundTracker) Rounds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rounds
}

// Begin starts the next round and returns its 1-based number. It fails
// with ErrRoundInFlight while the previous round is open, with
// ErrTerminalStatus once the task is closed, and with
// ErrRoundBudgetExceeded when the budget is spent.
func (r *RoundTracker) Begin(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight {
		return 0, ErrRoundInFlight
	}
	t, err := r.store.GetTask(ctx, r.taskID)
	if err != nil {
		return 0, err
	}
	if t.Status.Terminal() {
		return 0, fmt.Errorf("task %s is %s: %w", r.taskID, t.Status, ErrTerminalStatus)
	}
	if r.rounds >= r.max {
		return 0, ErrRoundBudgetExceeded
	}
	if t.Status == StatusPending {
		if err := r.store.MarkStatus(ctx, r.taskID, StatusActive, ""); err != nil {
			return 0, err
		}
	}
	if err := r.store.UpdateRoundCount(ctx, r.taskID, r.rounds+1); err != nil {
		return 0, err
	}
	r.rounds++
	r.inFlight = true
	return r.rounds, nil
}

// Complete closes the current round and reports whether another round
// should be scheduled. A task still open after its last budgeted round is
// marked FAILED and Complete returns ErrRoundBudgetExceeded.
func (r *RoundTracker) Complete(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inFlight {
		return false, ErrNoRoundInFlight
	}
	r.inFlight = false

	t, err := r.store.GetTask(ctx, r.taskID)
	if err != nil {
		return false, err
	}
	if t.Status.Terminal() {
		return false, nil
	}
	if r.rounds >= r.max {
		if err := r.store.MarkStatus(ctx, r.taskID, StatusFailed, ErrRoundBudgetExceeded.Error()); err != nil {
			return false, err
		}
		return false, ErrRoundBudgetExceeded
	}
	return true, nil
}

// Terminate closes the task with status. Further Begin calls fail.
func (r *RoundTracker) Terminate(ctx context.Context, status Status, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	return r.store.MarkStatus(ctx, r.taskID, status, reason)
}
