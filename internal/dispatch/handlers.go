package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deps are the services the standard handlers call. Any of them may be
// nil; the matching actions then fail with ErrNotConfigured.
type Deps struct {
	Comm     Communicator
	Memory   Memory
	Tools    Tools
	Guidance Guidance
	// Redactor, when set, scrubs SPEAK and MEMORIZE content.
	Redactor Redactor

	// DefaultChannel is used when neither the action nor the task names one.
	DefaultChannel string
	// RecallLimit and ObserveLimit bound results when the action does not.
	RecallLimit  int
	ObserveLimit int
}

type handlers struct {
	deps   Deps
	logger *logging.Logger
}

func success(t action.Type, detail string) action.Outcome {
	return action.Outcome{Action: t, Success: true, Detail: detail, CompletedAt: time.Now().UTC()}
}

// redact applies the configured Redactor and annotates detail with the
// number of replaced spans.
func (h *handlers) redact(ctx context.Context, req Request, content, detail string) (string, string) {
	if h.deps.Redactor == nil {
		return content, detail
	}
	out, n := h.deps.Redactor.Redact(content)
	if n == 0 {
		return content, detail
	}
	h.logger.Warn(ctx, "redacted secrets from action content",
		zap.String("task_id", req.Task.ID),
		zap.String("thought_id", req.Thought.ID),
		zap.Int("count", n),
	)
	return out, fmt.Sprintf("%s (%d secret(s) redacted)", detail, n)
}

func (h *handlers) channel(req Request, explicit string) string {
	switch {
	case explicit != "":
		return explicit
	case req.Task.Channel != "":
		return req.Task.Channel
	default:
		return h.deps.DefaultChannel
	}
}

func (h *handlers) speak(ctx context.Context, req Request) (action.Outcome, error) {
	p, err := action.DecodeParams[action.SpeakParams](req.Selection)
	if err != nil {
		return action.Outcome{}, err
	}
	if strings.TrimSpace(p.Content) == "" {
		return action.Outcome{}, errors.New("speak: content is empty")
	}
	if h.deps.Comm == nil {
		return action.Outcome{}, fmt.Errorf("speak: communication %w", ErrNotConfigured)
	}
	ch := h.channel(req, p.Channel)
	content, detail := h.redact(ctx, req, p.Content, "delivered to "+ch)
	if err := h.deps.Comm.Deliver(ctx, provider.OutboundMessage{Channel: ch, Content: content, TaskID: req.Task.ID}); err != nil {
		return action.Outcome{}, fmt.Errorf("speak: %w", err)
	}
	return success(action.Speak, detail), nil
}

func (h *handlers) tool(ctx context.Context, req Request) (action.Outcome, error) {
	p, err := action.DecodeParams[action.ToolParams](req.Selection)
	if err != nil {
		return action.Outcome{}, err
	}
	if p.Name == "" {
		return action.Outcome{}, errors.New("tool: name is empty")
	}
	if h.deps.Tools == nil {
		return action.Outcome{}, fmt.Errorf("tool: %w", ErrNotConfigured)
	}
	res, err := h.deps.Tools.Invoke(ctx, provider.ToolCall{Name: p.Name, Args: p.Args})
	if err != nil {
		return action.Outcome{}, fmt.Errorf("tool %s: %w", p.Name, err)
	}
	out := success(action.Tool, "ran "+p.Name)
	out.ToolResult = &res
	return out, nil
}

func (h *handlers) observe(ctx context.Context, req Request) (action.Outcome, error) {
	p, err := action.DecodeParams[action.ObserveParams](req.Selection)
	if err != nil {
		return action.Outcome{}, err
	}
	if h.deps.Comm == nil {
		return action.Outcome{}, fmt.Errorf("observe: communication %w", ErrNotConfigured)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = h.deps.ObserveLimit
	}
	if limit <= 0 {
		limit = 10
	}
	ch := h.channel(req, p.Channel)
	msgs, err := h.deps.Comm.Fetch(ctx, ch, limit)
	if err != nil {
		return action.Outcome{}, fmt.Errorf("observe %s: %w", ch, err)
	}
	out := success(action.Observe, fmt.Sprintf("observed %d message(s) on %s", len(msgs), ch))
	out.Messages = msgs
	return out, nil
}

func (h *handlers) memorize(ctx context.Context, req Request) (action.Outcome, error) {
	p, err := action.DecodeParams[action.MemorizeParams](req.Selection)
	if err != nil {
		return action.Outcome{}, err
	}
	if strings.TrimSpace(p.Content) == "" {
		return action.Outcome{}, errors.New("memorize: content is empty")
	}
	if h.deps.Memory == nil {
		return action.Outcome{}, fmt.Errorf("memorize: memory %w", ErrNotConfigured)
	}
	content, note := h.redact(ctx, req, p.Content, "")
	fact := provider.Fact{
		ID:        uuid.NewString(),
		Key:       p.Key,
		Content:   content,
		Scope:     p.Scope,
		Metadata:  map[string]string{"task_id": req.Task.ID, "thought_id": req.Thought.ID},
		CreatedAt: time.Now().UTC(),
	}
	id, err := h.deps.Memory.Memorize(ctx, fact)
	if err != nil {
		return action.Outcome{}, fmt.Errorf("memorize: %w", err)
	}
	return success(action.Memorize, "stored "+id+note), nil
}

func (h *handlers) recall(ctx context.Context, req Request) (action.Outcome, error) {
	p, err := action.DecodeParams[action.RecallParams](req.Selection)
	if err != nil {
		return action.Outcome{}, err
	}
	if h.deps.Memory == nil {
		return action.Outcome{}, fmt.Errorf("recall: memory %w", ErrNotConfigured)
	}
	q := provider.MemoryQuery{Text: p.Query, Limit: p.Limit, Scope: p.Scope}
	if q.Text == "" {
		q.Text = req.Thought.Content
	}
	if q.Limit <= 0 {
		q.Limit = h.deps.RecallLimit
	}
	if q.Limit <= 0 {
		q.Limit = 5
	}
	snap, err := h.deps.Memory.Recall(ctx, q)
	if err != nil {
		return action.Outcome{}, fmt.Errorf("recall: %w", err)
	}
	out := success(action.Recall, fmt.Sprintf("recalled %d fact(s)", len(snap.Facts)))
	out.Facts = snap.Facts
	return out, nil
}

func (h *handlers) forget(ctx context.Context, req Request) (action.Outcome, error) {
	p, err := action.DecodeParams[action.ForgetParams](req.Selection)
	if err != nil {
		return action.Outcome{}, err
	}
	id := p.Target()
	if id == "" {
		return action.Outcome{}, errors.New("forget: id or key is required")
	}
	if h.deps.Memory == nil {
		return action.Outcome{}, fmt.Errorf("forget: memory %w", ErrNotConfigured)
	}
	if err := h.deps.Memory.Forget(ctx, id); err != nil {
		return action.Outcome{}, fmt.Errorf("forget %s: %w", id, err)
	}
	return success(action.Forget, "forgot "+id), nil
}

func (h *handlers) ponder(_ context.Context, req Request) (action.Outcome, error) {
	p, err := action.DecodeParams[action.PonderParams](req.Selection)
	if err != nil {
		return action.Outcome{}, err
	}
	questions := p.Questions
	if len(questions) == 0 && req.Selection.Rationale != "" {
		questions = []string{req.Selection.Rationale}
	}
	req.Thought.PonderCount++
	req.Thought.Notes = append(req.Thought.Notes, questions...)
	out := success(action.Ponder, fmt.Sprintf("pondered %d question(s)", len(questions)))
	out.Questions = questions
	return out, nil
}

func (h *handlers) deferTask(ctx context.Context, req Request) (action.Outcome, error) {
	reason := req.Selection.Reason()
	out := success(action.Defer, reason)
	if h.deps.Guidance == nil {
		return out, nil
	}
	resp, err := h.deps.Guidance.RequestGuidance(ctx, provider.GuidanceRequest{
		TaskID:    req.Task.ID,
		ThoughtID: req.Thought.ID,
		Reason:    reason,
		Context:   req.Task.Description,
	})
	if err != nil {
		// The deferral stands even when no authority could be reached.
		h.logger.Warn(ctx, "guidance request failed", zap.Error(err))
		return out, nil
	}
	out.Guidance = resp.Guidance
	if resp.Ticket != "" {
		out.Detail = reason + " (ticket " + resp.Ticket + ")"
	}
	return out, nil
}

func (h *handlers) reject(_ context.Context, req Request) (action.Outcome, error) {
	return success(action.Reject, req.Selection.Reason()), nil
}

func (h *handlers) complete(_ context.Context, req Request) (action.Outcome, error) {
	p, _ := action.DecodeParams[action.CompleteParams](req.Selection)
	detail := p.Summary
	if detail == "" {
		detail = "task complete"
	}
	return success(action.TaskComplete, detail), nil
}
