package task

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Store persists tasks and thoughts.
type Store interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, limit int) ([]*Task, error)
	AppendThought(ctx context.Context, th *Thought) error
	UpdateThought(ctx context.Context, th *Thought) error
	Thoughts(ctx context.Context, taskID string) ([]*Thought, error)
	UpdateRoundCount(ctx context.Context, taskID string, rounds int) error
	// MarkStatus sets a task's status. It returns ErrTerminalStatus if the
	// task already has a terminal status.
	MarkStatus(ctx context.Context, taskID string, status Status, reason string) error
	Close() error
}

// MemoryStore is an in-process Store. Values are copied in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	order    []string
	thoughts map[string][]*Thought
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]*Task),
		thoughts: make(map[string][]*Thought),
	}
}

func (s *MemoryStore) CreateTask(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	cp := *t
	s.tasks[t.ID] = &cp
	s.order = append(s.order, t.ID)
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// ListTasks returns the most recently created tasks first.
func (s *MemoryStore) ListTasks(_ context.Context, limit int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		cp := *s.tasks[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) AppendThought(_ context.Context, th *Thought) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[th.TaskID]; !ok {
		return fmt.Errorf("task %s: %w", th.TaskID, ErrNotFound)
	}
	s.thoughts[th.TaskID] = append(s.thoughts[th.TaskID], cloneThought(th))
	return nil
}

func (s *MemoryStore) UpdateThought(_ context.Context, th *Thought) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.thoughts[th.TaskID]
	for i, existing := range list {
		if existing.ID == th.ID {
			cp := cloneThought(th)
			cp.UpdatedAt = time.Now().UTC()
			list[i] = cp
			return nil
		}
	}
	return fmt.Errorf("thought %s: %w", th.ID, ErrNotFound)
}

func (s *MemoryStore) Thoughts(_ context.Context, taskID string) ([]*Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.thoughts[taskID]
	out := make([]*Thought, len(list))
	for i, th := range list {
		out[i] = cloneThought(th)
	}
	return out, nil
}

func (s *MemoryStore) UpdateRoundCount(_ context.Context, taskID string, rounds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	t.RoundCount = rounds
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkStatus(_ context.Context, taskID string, status Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrTerminalStatus)
	}
	t.Status = status
	t.Reason = reason
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneThought(th *Thought) *Thought {
	cp := *th
	cp.Notes = slices.Clone(th.Notes)
	cp.Recalled = slices.Clone(th.Recalled)
	cp.Observed = slices.Clone(th.Observed)
	if th.Candidate != nil {
		c := *th.Candidate
		cp.Candidate = &c
	}
	if th.Final != nil {
		f := *th.Final
		cp.Final = &f
	}
	if th.Outcome != nil {
		o := *th.Outcome
		cp.Outcome = &o
	}
	return &cp
}
