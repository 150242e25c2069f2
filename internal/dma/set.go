package dma

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DMA errors.
var (
	// ErrEthicalUnavailable means the ethical evaluator produced no verdict.
	// The round must not act on the remaining verdicts.
	ErrEthicalUnavailable = errors.New("ethical evaluation unavailable")

	// ErrNoEthicalEvaluator is returned by NewSet without an ethical evaluator.
	ErrNoEthicalEvaluator = errors.New("evaluator set requires an ethical evaluator")
)

// Result is one evaluator's tagged outcome: Verdict on success, Err on
// failure. Exactly one of them is set.
type Result struct {
	Kind     Kind
	Verdict  Verdict
	Err      error
	Duration time.Duration
}

// OK reports whether the evaluator produced a verdict.
func (r Result) OK() bool { return r.Err == nil && r.Verdict != nil }

// Results is the joined outcome of a fan-out.
type Results struct {
	ByKind   map[Kind]Result
	Order    []Kind
	Degraded bool
	Failed   []Kind
}

// Verdict returns the verdict of kind, or nil.
func (r *Results) Verdict(kind Kind) Verdict {
	if r == nil {
		return nil
	}
	res, ok := r.ByKind[kind]
	if !ok || !res.OK() {
		return nil
	}
	return res.Verdict
}

// Ethical returns the ethical verdict, or nil.
func (r *Results) Ethical() *EthicalVerdict {
	v, _ := r.Verdict(Ethical).(*EthicalVerdict)
	return v
}

// CommonSense returns the common-sense verdict, or nil.
func (r *Results) CommonSense() *CommonSenseVerdict {
	v, _ := r.Verdict(CommonSense).(*CommonSenseVerdict)
	return v
}

// Domain returns the domain verdict, or nil.
func (r *Results) Domain() *DomainVerdict {
	v, _ := r.Verdict(Domain).(*DomainVerdict)
	return v
}

// Intuition returns the intuition verdict, or nil.
func (r *Results) Intuition() *IntuitionVerdict {
	v, _ := r.Verdict(Intuition).(*IntuitionVerdict)
	return v
}

// Set is the group of evaluators run for every thought.
type Set struct {
	evaluators []Evaluator
	timeout    time.Duration
	logger     *logging.Logger
	metrics    *Metrics
}

// NewSet creates a set. Exactly one evaluator must be ethical. timeout
// bounds each evaluator; zero means no bound beyond the caller's context.
func NewSet(timeout time.Duration, logger *logging.Logger, metrics *Metrics, evaluators ...Evaluator) (*Set, error) {
	seen := make(map[Kind]bool, len(evaluators))
	for _, e := range evaluators {
		if seen[e.Kind()] {
			return nil, fmt.Errorf("duplicate %s evaluator", e.Kind())
		}
		seen[e.Kind()] = true
	}
	if !seen[Ethical] {
		return nil, ErrNoEthicalEvaluator
	}
	return &Set{
		evaluators: evaluators,
		timeout:    timeout,
		logger:     logging.OrNop(logger).Named("dma"),
		metrics:    metrics,
	}, nil
}

// Kinds lists the evaluators in the set.
func (s *Set) Kinds() []Kind {
	kinds := make([]Kind, len(s.evaluators))
	for i, e := range s.evaluators {
		kinds[i] = e.Kind()
	}
	return kinds
}

// Run evaluates snap with every evaluator concurrently and waits for all
// of them. Results are always returned; the error is non-nil only when the
// ethical verdict is missing, and wraps ErrEthicalUnavailable.
func (s *Set) Run(ctx context.Context, snap Snapshot) (*Results, error) {
	slots := make([]Result, len(s.evaluators))

	var g errgroup.Group
	for i, e := range s.evaluators {
		g.Go(func() error {
			slots[i] = s.evaluate(ctx, e, snap)
			return nil
		})
	}
	_ = g.Wait()

	res := &Results{ByKind: make(map[Kind]Result, len(slots))}
	for _, r := range slots {
		res.ByKind[r.Kind] = r
		res.Order = append(res.Order, r.Kind)
		if !r.OK() {
			res.Failed = append(res.Failed, r.Kind)
			if r.Kind != Ethical {
				res.Degraded = true
			}
		}
	}

	if eth := res.ByKind[Ethical]; !eth.OK() {
		return res, fmt.Errorf("%w: %w", ErrEthicalUnavailable, eth.Err)
	}
	if res.Degraded {
		s.logger.Warn(ctx, "dma results degraded", zap.Any("failed", res.Failed))
	}
	return res, nil
}

func (s *Set) evaluate(ctx context.Context, e Evaluator, snap Snapshot) Result {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	v, err := e.Evaluate(ctx, snap)
	r := Result{Kind: e.Kind(), Verdict: v, Err: err, Duration: time.Since(start)}
	if err == nil && v == nil {
		r.Err = fmt.Errorf("%s evaluator returned no verdict", e.Kind())
	}
	if r.Err != nil {
		s.logger.Warn(ctx, "evaluator failed", zap.String("dma", string(e.Kind())), zap.Error(r.Err))
	}
	s.metrics.recordEvaluation(ctx, e.Kind(), r.Duration, r.OK())
	return r
}
