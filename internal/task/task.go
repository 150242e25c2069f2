// Package task holds tasks, their thoughts, the store interface they are
// persisted through, and the per-task round tracker.
package task

import (
	"errors"
	"slices"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/provider"
)

// DefaultMaxRounds is the round budget of a task.
const DefaultMaxRounds = 7

// Task errors.
var (
	ErrNotFound            = errors.New("not found")
	ErrTerminalStatus      = errors.New("task is in a terminal status")
	ErrRoundBudgetExceeded = errors.New("round budget exceeded")
	ErrRoundInFlight       = errors.New("round already in flight")
	ErrNoRoundInFlight     = errors.New("no round in flight")
)

// Status is a task's lifecycle status.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusDeferred Status = "DEFERRED"
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeferred, StatusComplete, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// StatusFor maps a terminal action to the task status it produces.
func StatusFor(t action.Type) (Status, bool) {
	if !t.Terminal() {
		return "", false
	}
	switch t {
	case action.Defer:
		return StatusDeferred, true
	case action.Reject:
		return StatusRejected, true
	}
	return StatusComplete, true
}

// Task is one unit of work.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Channel     string    `json:"channel,omitempty"`
	Status      Status    `json:"status"`
	RoundCount  int       `json:"round_count"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ThoughtStatus is a thought's processing status.
type ThoughtStatus string

const (
	ThoughtPending    ThoughtStatus = "PENDING"
	ThoughtProcessing ThoughtStatus = "PROCESSING"
	ThoughtCompleted  ThoughtStatus = "COMPLETED"
	ThoughtDiscarded  ThoughtStatus = "DISCARDED"
)

// Thought is one pipeline pass over a task.
type Thought struct {
	ID       string        `json:"id"`
	TaskID   string        `json:"task_id"`
	ParentID string        `json:"parent_id,omitempty"`
	Round    int           `json:"round"`
	Content  string        `json:"content"`
	Status   ThoughtStatus `json:"status"`

	// PonderCount is how many times this line of thought has pondered.
	PonderCount int      `json:"ponder_count"`
	Notes       []string `json:"notes,omitempty"`

	// Carried over from the previous round's outcome.
	LastAction action.Type               `json:"last_action,omitempty"`
	Recalled   []provider.Fact           `json:"recalled,omitempty"`
	Observed   []provider.InboundMessage `json:"observed,omitempty"`
	ToolResult *provider.ToolResult      `json:"tool_result,omitempty"`
	Guidance   string                    `json:"guidance,omitempty"`

	Candidate *action.Selection `json:"candidate,omitempty"`
	Final     *action.Selection `json:"final,omitempty"`
	Outcome   *action.Outcome   `json:"outcome,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewThought creates the seed thought of a task.
func NewThought(id string, t *Task) *Thought {
	now := time.Now().UTC()
	return &Thought{
		ID:        id,
		TaskID:    t.ID,
		Content:   t.Description,
		Status:    ThoughtPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FollowUp creates the thought for the next round, carrying the outcome
// of this one forward.
func (th *Thought) FollowUp(id string) *Thought {
	now := time.Now().UTC()
	next := &Thought{
		ID:          id,
		TaskID:      th.TaskID,
		ParentID:    th.ID,
		Content:     th.Content,
		Status:      ThoughtPending,
		PonderCount: th.PonderCount,
		Notes:       slices.Clone(th.Notes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if th.Final != nil {
		next.LastAction = th.Final.Action
	}
	if o := th.Outcome; o != nil {
		next.Recalled = slices.Clone(o.Facts)
		next.Observed = slices.Clone(o.Messages)
		next.ToolResult = o.ToolResult
		next.Guidance = o.Guidance
	}
	return next
}
