package dma

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"go.uber.org/zap"
)

// VetoFeedback describes why the previous candidate was vetoed. It is
// passed to the selector on the recursive pass.
type VetoFeedback struct {
	Validator   string
	Reason      string
	Rejected    action.Type
	Replacement action.Type
}

// SelectionInput is everything the selector merges into one prompt.
type SelectionInput struct {
	Snapshot Snapshot
	Results  *Results
	Veto     *VetoFeedback
}

// Selector merges DMA verdicts into one candidate action through a single
// reasoning call.
type Selector struct {
	reasoner Reasoner
	logger   *logging.Logger
	metrics  *Metrics
	schema   json.RawMessage
}

// NewSelector creates a selector.
func NewSelector(r Reasoner, logger *logging.Logger, metrics *Metrics) *Selector {
	return &Selector{
		reasoner: r,
		logger:   logging.OrNop(logger).Named("selector"),
		metrics:  metrics,
		schema:   action.SelectionSchema(),
	}
}

// Select returns exactly one action. Schema violations are retried by the
// reasoning bus; an error here means no usable selection was produced.
func (s *Selector) Select(ctx context.Context, in SelectionInput) (action.Selection, error) {
	raw, err := s.reasoner.Evaluate(ctx, provider.EvaluationRequest{
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt(in.Snapshot)},
			{Role: "user", Content: userPrompt(in)},
		},
		SchemaName: "action_selection",
		Schema:     s.schema,
		MaxTokens:  1536,
	})
	if err != nil {
		return action.Selection{}, err
	}

	var sel action.Selection
	if err := json.Unmarshal(raw, &sel); err != nil {
		return action.Selection{}, fmt.Errorf("decode action selection: %w", err)
	}
	if !sel.Action.Valid() {
		return action.Selection{}, fmt.Errorf("%w: %q", action.ErrUnknownAction, sel.Action)
	}

	s.metrics.recordSelection(ctx, string(sel.Action), in.Veto != nil)
	s.logger.Debug(ctx, "action selected",
		zap.String("action", string(sel.Action)),
		zap.Bool("recursive", in.Veto != nil),
		zap.Float64("confidence", sel.Confidence),
	)
	return sel, nil
}

func systemPrompt(snap Snapshot) string {
	var b strings.Builder
	b.WriteString("You select the single next action for an autonomous agent. ")
	b.WriteString("Weigh the evaluator verdicts and choose exactly one action from this set:\n")
	for _, a := range action.All() {
		fmt.Fprintf(&b, "- %s: %s\n", a, actionHelp[a])
	}
	if len(snap.Tools) > 0 {
		b.WriteString("Available tools:\n")
		for _, t := range snap.Tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}
	b.WriteString("Answer only with JSON: {\"selected_action\", \"action_parameters\", \"rationale\", \"confidence\"}.")
	return b.String()
}

var actionHelp = map[action.Type]string{
	action.Speak:        `send a message. parameters: {"content", "channel"}`,
	action.Tool:         `run a tool. parameters: {"name", "parameters"}`,
	action.Observe:      `read recent channel messages. parameters: {"channel", "limit"}`,
	action.Memorize:     `store a fact. parameters: {"key", "content", "scope"}`,
	action.Recall:       `search memory. parameters: {"query", "limit"}`,
	action.Forget:       `delete a stored fact. parameters: {"id" or "key", "reason"}`,
	action.Reject:       `refuse the task. parameters: {"reason"}`,
	action.Ponder:       `think further before acting. parameters: {"questions": [...]}`,
	action.Defer:        `hand the task to a human authority. parameters: {"reason"}`,
	action.TaskComplete: `the task is done. parameters: {"summary"}`,
}

func userPrompt(in SelectionInput) string {
	snap := in.Snapshot
	var b strings.Builder
	b.WriteString(snap.Describe())

	if r := in.Results; r != nil {
		b.WriteString("\nEvaluator verdicts:\n")
		if v := r.Ethical(); v != nil {
			fmt.Fprintf(&b, "- ethical: decision=%s alignment=%q conflicts=%v confidence=%.2f: %s\n",
				v.Decision, v.Alignment, v.Conflicts, v.Confidence, v.Rationale)
		}
		if v := r.CommonSense(); v != nil {
			fmt.Fprintf(&b, "- common sense: plausibility=%.2f flags=%v confidence=%.2f: %s\n",
				v.PlausibilityScore, v.Flags, v.Confidence, v.Reasoning)
		}
		if v := r.Domain(); v != nil {
			fmt.Fprintf(&b, "- domain (%s): alignment=%.2f flags=%v recommended=%q confidence=%.2f: %s\n",
				v.Domain, v.DomainAlignment, v.Flags, v.RecommendedAction, v.Confidence, v.Reasoning)
		}
		if v := r.Intuition(); v != nil {
			fmt.Fprintf(&b, "- intuition: coherence=%.2f entropy=%.2f: %s\n", v.Coherence, v.Entropy, v.Reasoning)
		}
		if r.Degraded {
			fmt.Fprintf(&b, "Note: these evaluators did not respond: %v. Be conservative.\n", r.Failed)
		}
	}

	if snap.PonderCount > 0 {
		fmt.Fprintf(&b, "\nThis thought has been pondered %d time(s). Open questions so far:\n", snap.PonderCount)
		for _, n := range snap.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		b.WriteString("Do not ponder the same questions again; act on what you know.\n")
	}

	if snap.LastAction.Communicates() {
		b.WriteString("\nYou already responded to the user in the previous round. ")
		b.WriteString("Unless something remains undone, TASK_COMPLETE is usually the right choice now.\n")
	}

	if snap.FinalAttempt() {
		fmt.Fprintf(&b, "\nThis is round %d of %d: your final attempt. Choose SPEAK, DEFER, REJECT or TASK_COMPLETE.\n",
			snap.Round, snap.MaxRounds)
	}

	if v := in.Veto; v != nil {
		fmt.Fprintf(&b, "\nYour previous choice %s was vetoed by the %s check: %s\n", v.Rejected, v.Validator, v.Reason)
		if v.Replacement != "" {
			fmt.Fprintf(&b, "The check suggests %s instead. ", v.Replacement)
		}
		b.WriteString("Choose again, taking this into account.\n")
	}
	return b.String()
}
