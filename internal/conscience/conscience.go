// Package conscience validates a candidate action before it is dispatched.
//
// A Chain runs its validators in order and stops at the first veto.
// Exempt actions skip the chain entirely. A validator that cannot reach a
// verdict (its own error) vetoes with DEFER.
package conscience

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/dma"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"go.uber.org/zap"
)

// Verdict is one validator's judgment. A veto is a value, not an error.
type Verdict struct {
	Passed    bool   `json:"passed"`
	Validator string `json:"validator"`
	Reason    string `json:"reason,omitempty"`
	// Replacement is the action the validator suggests instead. Empty on a
	// veto means the candidate is simply rejected.
	Replacement action.Type `json:"replacement,omitempty"`
}

// Pass returns a passing verdict for validator.
func Pass(validator string) Verdict {
	return Verdict{Passed: true, Validator: validator}
}

// Veto returns a failing verdict.
func Veto(validator, reason string, replacement action.Type) Verdict {
	return Verdict{Validator: validator, Reason: reason, Replacement: replacement}
}

// Input is what a validator judges.
type Input struct {
	Snapshot  dma.Snapshot
	Results   *dma.Results
	Selection action.Selection
}

// Validator judges one candidate action.
type Validator interface {
	Name() string
	Check(ctx context.Context, in Input) (Verdict, error)
}

// Result is the chain's outcome for one candidate.
type Result struct {
	// Skipped is set for exempt actions; no validator ran.
	Skipped bool
	Verdict Verdict
	// Checked lists the validators that ran, in order.
	Checked []string
}

// Passed reports whether the candidate may be dispatched.
func (r Result) Passed() bool { return r.Skipped || r.Verdict.Passed }

// Chain is an ordered list of validators.
type Chain struct {
	validators []Validator
	logger     *logging.Logger
}

// NewChain creates a chain running validators in the given order.
func NewChain(logger *logging.Logger, validators ...Validator) *Chain {
	return &Chain{validators: validators, logger: logging.OrNop(logger).Named("conscience")}
}

// Names lists the validators in order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.validators))
	for i, v := range c.validators {
		out[i] = v.Name()
	}
	return out
}

// Evaluate runs the chain against in.Selection.
func (c *Chain) Evaluate(ctx context.Context, in Input) Result {
	if in.Selection.Action.Exempt() {
		return Result{Skipped: true, Verdict: Pass("exempt")}
	}

	var checked []string
	for _, v := range c.validators {
		checked = append(checked, v.Name())
		verdict, err := v.Check(ctx, in)
		if err != nil {
			c.logger.Warn(ctx, "validator failed, vetoing",
				zap.String("validator", v.Name()),
				zap.String("action", string(in.Selection.Action)),
				zap.Error(err),
			)
			verdict = Veto(v.Name(), fmt.Sprintf("%s check unavailable: %v", v.Name(), err), action.Defer)
		}
		verdict.Validator = v.Name()
		if !verdict.Passed {
			c.logger.Info(ctx, "candidate vetoed",
				zap.String("validator", v.Name()),
				zap.String("action", string(in.Selection.Action)),
				zap.String("reason", verdict.Reason),
			)
			return Result{Verdict: verdict, Checked: checked}
		}
	}
	return Result{Verdict: Pass("chain"), Checked: checked}
}
