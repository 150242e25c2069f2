// Package runtime schedules task rounds onto a bounded worker pool.
//
// A submitted task gets a seed thought and one queued round. When a worker
// finishes a round it enqueues the next one only if the task is still
// open, so round N+1 never starts before round N was dispatched. Tasks
// closed by Cancel stop at their next round boundary; a round already in
// flight runs to completion and its result is discarded.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/audit"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/pipeline"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runtime errors.
var (
	ErrQueueFull      = errors.New("task queue is full")
	ErrEmptyTask      = errors.New("task description is empty")
	ErrAlreadyRunning = errors.New("runtime is already running")
)

// Processor runs one round of a thought.
type Processor interface {
	Process(ctx context.Context, t *task.Task, th *task.Thought, round int) (*pipeline.RoundResult, error)
}

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
	MaxRounds int
}

// Runtime owns the job queue and the workers that drain it.
type Runtime struct {
	cfg    Config
	store  task.Store
	proc   Processor
	logger *logging.Logger
	audit  audit.Sink

	queue *queue

	mu       sync.Mutex
	running  bool
	trackers map[string]*task.RoundTracker
	waiters  map[string][]chan struct{}
}

type job struct {
	task    *task.Task
	thought *task.Thought
	tracker *task.RoundTracker
}

// New creates a runtime. A nil sink discards audit events.
func New(cfg Config, store task.Store, proc Processor, sink audit.Sink, logger *logging.Logger) *Runtime {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = task.DefaultMaxRounds
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Runtime{
		cfg:      cfg,
		store:    store,
		proc:     proc,
		logger:   logging.OrNop(logger).Named("runtime"),
		audit:    sink,
		queue:    newQueue(cfg.QueueSize),
		trackers: make(map[string]*task.RoundTracker),
		waiters:  make(map[string][]chan struct{}),
	}
}

// Submit creates a task for description and queues its first round.
// It fails with ErrQueueFull when QueueSize rounds are already waiting.
func (r *Runtime) Submit(ctx context.Context, description, channel string) (*task.Task, error) {
	if description == "" {
		return nil, ErrEmptyTask
	}
	if r.cfg.QueueSize > 0 && r.queue.len() >= r.cfg.QueueSize {
		return nil, ErrQueueFull
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:          uuid.NewString(),
		Description: description,
		Channel:     channel,
		Status:      task.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	th := task.NewThought(uuid.NewString(), t)
	if err := r.store.AppendThought(ctx, th); err != nil {
		return nil, fmt.Errorf("append seed thought: %w", err)
	}

	j := &job{task: t, thought: th, tracker: task.NewRoundTracker(r.store, t, r.cfg.MaxRounds)}
	r.mu.Lock()
	r.trackers[t.ID] = j.tracker
	r.mu.Unlock()

	if !r.queue.offer(j) {
		r.fail(ctx, j, ErrQueueFull.Error())
		r.forget(t.ID)
		return nil, ErrQueueFull
	}
	queueDepth.Inc()
	activeTasks.Inc()

	r.record(ctx, audit.Event{Kind: audit.KindTask, TaskID: t.ID, Outcome: "submitted",
		Detail: map[string]string{"channel": channel}})
	r.logger.Info(logging.WithTask(ctx, t.ID), "task submitted", zap.String("channel", channel))
	return t, nil
}

// Run starts the workers and blocks until ctx ends. Rounds in flight at
// shutdown finish before Run returns.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.logger.Info(ctx, "runtime started", zap.Int("workers", r.cfg.Workers), zap.Int("queue_size", r.cfg.QueueSize))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			r.work(gctx)
			return nil
		})
	}
	err := g.Wait()
	r.drain(context.WithoutCancel(ctx))
	r.logger.Info(context.WithoutCancel(ctx), "runtime stopped")
	return err
}

// drain fails every task still waiting for a round so no task is left
// open after shutdown.
func (r *Runtime) drain(ctx context.Context) {
	for {
		r.queue.mu.Lock()
		if len(r.queue.items) == 0 {
			r.queue.mu.Unlock()
			return
		}
		j := r.queue.items[0]
		r.queue.items = r.queue.items[1:]
		r.queue.mu.Unlock()
		queueDepth.Dec()

		r.fail(ctx, j, "runtime stopped")
		r.closed(ctx, j.task.ID)
	}
}

// fail closes j as FAILED. A task that is already closed is left alone. A
// store error leaves the task open with nothing left to drive it, so it is
// logged for an operator.
func (r *Runtime) fail(ctx context.Context, j *job, reason string) {
	err := j.tracker.Terminate(ctx, task.StatusFailed, reason)
	if err == nil || errors.Is(err, task.ErrTerminalStatus) {
		return
	}
	closeErrors.Inc()
	r.logger.Error(ctx, "failed to close task",
		zap.String("task_id", j.task.ID),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func (r *Runtime) work(ctx context.Context) {
	for ctx.Err() == nil {
		j, ok := r.queue.pop(ctx)
		if !ok {
			return
		}
		queueDepth.Dec()
		// A round that has started finishes even during shutdown.
		r.processRound(context.WithoutCancel(ctx), j)
	}
}

// processRound runs one round of j and schedules the next one. It reports
// whether another round was queued.
func (r *Runtime) processRound(ctx context.Context, j *job) bool {
	ctx = logging.WithTask(ctx, j.task.ID)

	n, err := j.tracker.Begin(ctx)
	if err != nil {
		switch {
		case errors.Is(err, task.ErrTerminalStatus):
			r.logger.Debug(ctx, "task closed, round dropped")
		case errors.Is(err, task.ErrRoundBudgetExceeded):
			r.fail(ctx, j, err.Error())
		default:
			r.logger.Error(ctx, "failed to begin round", zap.Error(err))
			r.fail(ctx, j, "begin round: "+err.Error())
		}
		r.closed(ctx, j.task.ID)
		return false
	}
	roundsProcessed.Inc()

	res, err := r.proc.Process(ctx, j.task, j.thought, n)
	if err != nil {
		r.logger.Error(ctx, "round failed", zap.Int("round", n), zap.Error(err))
		r.fail(ctx, j, "round failed: "+err.Error())
		if _, err := j.tracker.Complete(ctx); err != nil {
			r.logger.Error(ctx, "failed to complete round", zap.Error(err))
		}
		r.closed(ctx, j.task.ID)
		return false
	}

	more, err := j.tracker.Complete(ctx)
	if err != nil {
		if !errors.Is(err, task.ErrRoundBudgetExceeded) {
			r.logger.Error(ctx, "failed to complete round", zap.Error(err))
		}
		r.closed(ctx, j.task.ID)
		return false
	}
	if !more {
		r.closed(ctx, j.task.ID)
		return false
	}

	next := j.thought.FollowUp(uuid.NewString())
	if err := r.store.AppendThought(ctx, next); err != nil {
		r.logger.Error(ctx, "failed to append follow-up thought", zap.Error(err))
		r.fail(ctx, j, "append thought: "+err.Error())
		r.closed(ctx, j.task.ID)
		return false
	}
	r.logger.Debug(ctx, "next round queued",
		zap.Int("round", n+1),
		zap.String("previous_action", string(res.Final.Action)),
	)
	j.thought = next
	r.queue.push(j)
	queueDepth.Inc()
	return true
}

// Drive runs every round of t on the calling goroutine until the task
// closes. It serves the one-shot CLI path; t must come from Submit on a
// runtime whose workers are not running.
func (r *Runtime) Drive(ctx context.Context, taskID string) (*task.Task, error) {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if running {
		return nil, ErrAlreadyRunning
	}
	for {
		j, ok := r.take(taskID)
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			r.fail(context.WithoutCancel(ctx), j, "interrupted")
			r.closed(context.WithoutCancel(ctx), taskID)
			return nil, err
		}
		if !r.processRound(ctx, j) {
			break
		}
	}
	return r.store.GetTask(ctx, taskID)
}

// take removes the queued job of taskID.
func (r *Runtime) take(taskID string) (*job, bool) {
	q := r.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.items {
		if j.task.ID == taskID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			queueDepth.Dec()
			return j, true
		}
	}
	return nil, false
}

// Cancel closes an open task as FAILED with reason. Its queued round is
// dropped when a worker picks it up.
func (r *Runtime) Cancel(ctx context.Context, taskID, reason string) error {
	if reason == "" {
		reason = "canceled"
	}
	if err := r.store.MarkStatus(ctx, taskID, task.StatusFailed, reason); err != nil {
		return err
	}
	r.record(ctx, audit.Event{Kind: audit.KindTask, TaskID: taskID, Outcome: "canceled",
		Detail: map[string]string{"reason": reason}})
	r.logger.Info(logging.WithTask(ctx, taskID), "task canceled", zap.String("reason", reason))
	return nil
}

// Wait blocks until taskID closes or ctx ends.
func (r *Runtime) Wait(ctx context.Context, taskID string) (*task.Task, error) {
	r.mu.Lock()
	if _, open := r.trackers[taskID]; !open {
		r.mu.Unlock()
		return r.store.GetTask(ctx, taskID)
	}
	ch := make(chan struct{})
	r.waiters[taskID] = append(r.waiters[taskID], ch)
	r.mu.Unlock()

	select {
	case <-ch:
		return r.store.GetTask(ctx, taskID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// QueueDepth returns the number of waiting round jobs.
func (r *Runtime) QueueDepth() int { return r.queue.len() }

// closed finishes bookkeeping for a task that will get no more rounds.
func (r *Runtime) closed(ctx context.Context, taskID string) {
	if !r.forget(taskID) {
		return
	}
	activeTasks.Dec()

	t, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		r.logger.Warn(ctx, "failed to load closed task", zap.Error(err))
		return
	}
	tasksClosed.WithLabelValues(string(t.Status)).Inc()
	r.record(ctx, audit.Event{Kind: audit.KindTask, TaskID: taskID, Outcome: string(t.Status),
		Detail: map[string]string{"reason": t.Reason, "rounds": fmt.Sprint(t.RoundCount)}})
	r.logger.Info(ctx, "task closed",
		zap.String("status", string(t.Status)),
		zap.Int("rounds", t.RoundCount),
		zap.String("reason", t.Reason),
	)
}

func (r *Runtime) forget(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trackers[taskID]; !ok {
		return false
	}
	delete(r.trackers, taskID)
	for _, ch := range r.waiters[taskID] {
		close(ch)
	}
	delete(r.waiters, taskID)
	return true
}

func (r *Runtime) record(ctx context.Context, e audit.Event) {
	if err := r.audit.Record(ctx, audit.Stamp(e)); err != nil {
		r.logger.Warn(ctx, "audit sink failed", zap.Error(err))
	}
}
