package dma

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/reasond/internal/provider"
)

// Reasoner is the reasoning bus as seen by evaluators.
type Reasoner interface {
	Evaluate(ctx context.Context, req provider.EvaluationRequest) (json.RawMessage, error)
}

// Evaluator produces one verdict for a snapshot.
type Evaluator interface {
	Kind() Kind
	Evaluate(ctx context.Context, snap Snapshot) (Verdict, error)
}

// llmEvaluator asks the reasoning bus for a verdict of type V.
type llmEvaluator[V any, PV interface {
	*V
	Verdict
}] struct {
	kind      Kind
	reasoner  Reasoner
	schema    json.RawMessage
	system    func(Snapshot) string
	maxTokens int
}

func (e *llmEvaluator[V, PV]) Kind() Kind { return e.kind }

func (e *llmEvaluator[V, PV]) Evaluate(ctx context.Context, snap Snapshot) (Verdict, error) {
	raw, err := e.reasoner.Evaluate(ctx, provider.EvaluationRequest{
		Messages: []provider.Message{
			{Role: "system", Content: e.system(snap)},
			{Role: "user", Content: snap.Describe()},
		},
		SchemaName: string(e.kind) + "_dma",
		Schema:     e.schema,
		MaxTokens:  e.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	v := PV(new(V))
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode %s verdict: %w", e.kind, err)
	}
	return v, nil
}

const verdictMaxTokens = 1024

// NewEthical returns the ethical evaluator.
func NewEthical(r Reasoner) Evaluator {
	return &llmEvaluator[EthicalVerdict, *EthicalVerdict]{
		kind:      Ethical,
		reasoner:  r,
		schema:    ethicalSchema,
		maxTokens: verdictMaxTokens,
		system: func(Snapshot) string {
			return "You are the ethical evaluator of an autonomous agent. Judge whether responding to the task " +
				"is consistent with beneficence, non-maleficence, integrity, fairness, respect for autonomy and transparency. " +
				"List any principle conflicts. Answer only with JSON matching the schema."
		},
	}
}

// NewCommonSense returns the common-sense evaluator.
func NewCommonSense(r Reasoner) Evaluator {
	return &llmEvaluator[CommonSenseVerdict, *CommonSenseVerdict]{
		kind:      CommonSense,
		reasoner:  r,
		schema:    commonSenseSchema,
		maxTokens: verdictMaxTokens,
		system: func(Snapshot) string {
			return "You are the common-sense evaluator of an autonomous agent. Score how physically, socially and " +
				"logically plausible the task and the agent's situation are. Flag anything implausible. " +
				"Answer only with JSON matching the schema."
		},
	}
}

// NewDomain returns the domain-specific evaluator for domain.
func NewDomain(r Reasoner, domain string) Evaluator {
	if domain == "" {
		domain = "general assistance"
	}
	return &llmEvaluator[DomainVerdict, *DomainVerdict]{
		kind:      Domain,
		reasoner:  r,
		schema:    domainSchema,
		maxTokens: verdictMaxTokens,
		system: func(Snapshot) string {
			return fmt.Sprintf("You are the %s domain evaluator of an autonomous agent. Score how well the task fits "+
				"the agent's domain, flag domain-specific risks and optionally recommend an action. "+
				"Answer only with JSON matching the schema, with domain set to %q.", domain, domain)
		},
	}
}

// NewIntuition returns the optional intuition evaluator.
func NewIntuition(r Reasoner) Evaluator {
	return &llmEvaluator[IntuitionVerdict, *IntuitionVerdict]{
		kind:      Intuition,
		reasoner:  r,
		schema:    intuitionSchema,
		maxTokens: verdictMaxTokens,
		system: func(Snapshot) string {
			return "You are the intuition evaluator of an autonomous agent. Estimate how coherent the agent's " +
				"current line of reasoning is and how much entropy (surprise, incoherence) it carries. " +
				"Answer only with JSON matching the schema."
		},
	}
}
