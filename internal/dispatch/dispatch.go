// Package dispatch maps a finalized action to its handler and writes the
// outcome back onto the thought and task. Each thought is dispatched at
// most once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"go.uber.org/zap"
)

// Dispatch errors.
var (
	ErrAlreadyDispatched = errors.New("thought already dispatched")
	ErrTaskTerminated    = errors.New("task terminated before dispatch")
	ErrNoHandler         = errors.New("no handler for action")
	ErrNotConfigured     = errors.New("service not configured")
)

// Communicator delivers and reads channel messages.
type Communicator interface {
	Deliver(ctx context.Context, msg provider.OutboundMessage) error
	Fetch(ctx context.Context, channel string, limit int) ([]provider.InboundMessage, error)
}

// Memory stores and retrieves facts.
type Memory interface {
	Recall(ctx context.Context, q provider.MemoryQuery) (provider.MemorySnapshot, error)
	Memorize(ctx context.Context, f provider.Fact) (string, error)
	Forget(ctx context.Context, id string) error
}

// Tools invokes tools.
type Tools interface {
	Invoke(ctx context.Context, call provider.ToolCall) (provider.ToolResult, error)
}

// Guidance accepts deferrals.
type Guidance interface {
	RequestGuidance(ctx context.Context, req provider.GuidanceRequest) (provider.GuidanceResponse, error)
}

// Redactor rewrites outbound or stored text, returning the number of
// spans it replaced.
type Redactor interface {
	Redact(content string) (string, int)
}

// Request is one dispatch.
type Request struct {
	Task      *task.Task
	Thought   *task.Thought
	Selection action.Selection
}

// Handler performs one action type.
type Handler interface {
	Handle(ctx context.Context, req Request) (action.Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (action.Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (action.Outcome, error) {
	return f(ctx, req)
}

// Dispatcher routes finalized actions to handlers.
type Dispatcher struct {
	store    task.Store
	logger   *logging.Logger
	handlers map[action.Type]Handler

	mu         sync.Mutex
	dispatched map[string]struct{}
	byTask     map[string][]string
}

// New creates a dispatcher with the standard handlers wired to deps.
func New(store task.Store, deps Deps, logger *logging.Logger) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		logger:     logging.OrNop(logger).Named("dispatch"),
		handlers:   make(map[action.Type]Handler),
		dispatched: make(map[string]struct{}),
		byTask:     make(map[string][]string),
	}
	h := &handlers{deps: deps, logger: d.logger}
	d.handlers[action.Speak] = HandlerFunc(h.speak)
	d.handlers[action.Tool] = HandlerFunc(h.tool)
	d.handlers[action.Observe] = HandlerFunc(h.observe)
	d.handlers[action.Memorize] = HandlerFunc(h.memorize)
	d.handlers[action.Recall] = HandlerFunc(h.recall)
	d.handlers[action.Forget] = HandlerFunc(h.forget)
	d.handlers[action.Ponder] = HandlerFunc(h.ponder)
	d.handlers[action.Defer] = HandlerFunc(h.deferTask)
	d.handlers[action.Reject] = HandlerFunc(h.reject)
	d.handlers[action.TaskComplete] = HandlerFunc(h.complete)
	return d
}

// Handle replaces the handler for t.
func (d *Dispatcher) Handle(t action.Type, h Handler) {
	d.handlers[t] = h
}

// Dispatch performs req.Selection exactly once for req.Thought.
//
// A second call for the same thought returns ErrAlreadyDispatched with no
// side effects. If the task was closed concurrently the thought is
// discarded and ErrTaskTerminated is returned. Handler failures are not
// errors: they produce an unsuccessful Outcome recorded on the thought.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (action.Outcome, error) {
	if req.Task == nil || req.Thought == nil {
		return action.Outcome{}, errors.New("dispatch: task and thought are required")
	}
	sel := req.Selection
	if !sel.Action.Valid() {
		return action.Outcome{}, fmt.Errorf("dispatch: %w: %q", action.ErrUnknownAction, sel.Action)
	}
	if !d.claim(req.Task.ID, req.Thought) {
		return action.Outcome{}, fmt.Errorf("thought %s: %w", req.Thought.ID, ErrAlreadyDispatched)
	}

	current, err := d.store.GetTask(ctx, req.Task.ID)
	if err != nil {
		return action.Outcome{}, fmt.Errorf("dispatch: load task: %w", err)
	}
	if current.Status.Terminal() {
		req.Thought.Status = task.ThoughtDiscarded
		if err := d.store.UpdateThought(ctx, req.Thought); err != nil {
			d.logger.Warn(ctx, "failed to record discarded thought", zap.Error(err))
		}
		d.prune(req.Task.ID)
		return action.Outcome{}, fmt.Errorf("task %s is %s: %w", current.ID, current.Status, ErrTaskTerminated)
	}

	h, ok := d.handlers[sel.Action]
	if !ok {
		return action.Outcome{}, fmt.Errorf("%w %s", ErrNoHandler, sel.Action)
	}

	outcome, err := h.Handle(ctx, req)
	if err != nil {
		d.logger.Warn(ctx, "action handler failed", zap.String("action", string(sel.Action)), zap.Error(err))
		outcome = action.Failed(sel.Action, err)
	}
	outcome.Action = sel.Action
	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = time.Now().UTC()
	}

	req.Thought.Final = &sel
	req.Thought.Outcome = &outcome
	req.Thought.Status = task.ThoughtCompleted
	if err := d.store.UpdateThought(ctx, req.Thought); err != nil {
		d.logger.Error(ctx, "failed to persist thought outcome", zap.Error(err))
	}

	if status, terminal := task.StatusFor(sel.Action); terminal {
		reason := sel.Reason()
		if sel.Action == action.TaskComplete {
			reason = outcome.Detail
		}
		if err := d.store.MarkStatus(ctx, req.Task.ID, status, reason); err != nil {
			if !errors.Is(err, task.ErrTerminalStatus) {
				return outcome, fmt.Errorf("dispatch: mark task %s: %w", status, err)
			}
			d.logger.Info(ctx, "task closed concurrently", zap.String("status", string(status)))
		}
		d.prune(req.Task.ID)
	}

	d.logger.Info(ctx, "action dispatched",
		zap.String("action", string(sel.Action)),
		zap.Bool("success", outcome.Success),
	)
	return outcome, nil
}

func (d *Dispatcher) claim(taskID string, th *task.Thought) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if th.Status == task.ThoughtCompleted || th.Status == task.ThoughtDiscarded {
		return false
	}
	if _, ok := d.dispatched[th.ID]; ok {
		return false
	}
	d.dispatched[th.ID] = struct{}{}
	d.byTask[taskID] = append(d.byTask[taskID], th.ID)
	return true
}

// prune drops claims of a closed task. Its thoughts are completed or
// discarded, and a closed task refuses new dispatches.
func (d *Dispatcher) prune(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.byTask[taskID] {
		delete(d.dispatched, id)
	}
	delete(d.byTask, taskID)
}
