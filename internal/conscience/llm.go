package conscience

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/dma"
	"github.com/fyrsmithlabs/reasond/internal/provider"
)

// Thresholds for the reasoning-backed validators.
type Thresholds struct {
	// Entropy is the highest acceptable entropy of a SPEAK.
	Entropy float64
	// Coherence is the lowest acceptable coherence of a SPEAK.
	Coherence float64
	// OptimizationVetoRatio is the entropy reduction ratio at which an
	// action is considered too powerful.
	OptimizationVetoRatio float64
}

// DefaultThresholds returns entropy 0.40, coherence 0.60 and ratio 10.
func DefaultThresholds() Thresholds {
	return Thresholds{Entropy: 0.40, Coherence: 0.60, OptimizationVetoRatio: 10}
}

// Standard returns the default validator order: protected values, entropy,
// coherence, optimization veto, epistemic humility.
func Standard(r dma.Reasoner, rules RuleSource, th Thresholds) []Validator {
	return []Validator{
		NewProtectedValue(rules),
		NewEntropy(r, th.Entropy),
		NewCoherence(r, th.Coherence),
		NewOptimizationVeto(r, th.OptimizationVetoRatio),
		NewEpistemicHumility(r),
	}
}

func describe(sel action.Selection) string {
	if len(sel.Params) == 0 {
		return string(sel.Action)
	}
	return fmt.Sprintf("%s %s", sel.Action, sel.Params)
}

func speech(sel action.Selection) (string, bool) {
	if sel.Action != action.Speak {
		return "", false
	}
	p, err := action.DecodeParams[action.SpeakParams](sel)
	if err != nil || strings.TrimSpace(p.Content) == "" {
		return describe(sel), true
	}
	return p.Content, true
}

func ask[T any](ctx context.Context, r dma.Reasoner, name, system, user string, schema json.RawMessage) (*T, error) {
	raw, err := r.Evaluate(ctx, provider.EvaluationRequest{
		Messages: []provider.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		SchemaName: name,
		Schema:     schema,
		MaxTokens:  384,
	})
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &out, nil
}

// Entropy vetoes SPEAK output that reads as chaotic or surprising.
type Entropy struct {
	r         dma.Reasoner
	threshold float64
}

// NewEntropy creates the entropy validator.
func NewEntropy(r dma.Reasoner, threshold float64) *Entropy {
	return &Entropy{r: r, threshold: threshold}
}

func (e *Entropy) Name() string { return "entropy" }

var entropySchema = json.RawMessage(`{
	"type": "object", "required": ["entropy"],
	"properties": {"entropy": {"type": "number", "minimum": 0, "maximum": 1}}
}`)

func (e *Entropy) Check(ctx context.Context, in Input) (Verdict, error) {
	text, ok := speech(in.Selection)
	if !ok {
		return Pass(e.Name()), nil
	}
	res, err := ask[struct {
		Entropy float64 `json:"entropy"`
	}](ctx, e.r, "entropy_check",
		"You are an entropy assessor. Rate the entropy (surprise, chaos, incoherence) of the reply on a scale "+
			"from 0.00 (calm, orderly) to 1.00 (chaotic). Calibration: \"Hello, how can I help?\" is 0.07; "+
			"random characters are 0.95. Answer only with JSON {\"entropy\": <number>}.",
		"Reply to assess: "+text, entropySchema)
	if err != nil {
		return Verdict{}, err
	}
	if res.Entropy > e.threshold {
		return Veto(e.Name(), fmt.Sprintf("entropy %.2f > threshold %.2f", res.Entropy, e.threshold), action.Ponder), nil
	}
	return Pass(e.Name()), nil
}

// Coherence vetoes SPEAK output that does not fit the agent's values.
type Coherence struct {
	r         dma.Reasoner
	threshold float64
}

// NewCoherence creates the coherence validator.
func NewCoherence(r dma.Reasoner, threshold float64) *Coherence {
	return &Coherence{r: r, threshold: threshold}
}

func (c *Coherence) Name() string { return "coherence" }

var coherenceSchema = json.RawMessage(`{
	"type": "object", "required": ["coherence"],
	"properties": {"coherence": {"type": "number", "minimum": 0, "maximum": 1}}
}`)

func (c *Coherence) Check(ctx context.Context, in Input) (Verdict, error) {
	text, ok := speech(in.Selection)
	if !ok {
		return Pass(c.Name()), nil
	}
	res, err := ask[struct {
		Coherence float64 `json:"coherence"`
	}](ctx, c.r, "coherence_check",
		"You are a coherence assessor. Rate how well the reply coheres with an honest, helpful and harmless "+
			"agent on a scale from 0.00 (clearly incoherent or harmful) to 1.00 (fully coherent). "+
			"Answer only with JSON {\"coherence\": <number>}.",
		"Reply to assess: "+text, coherenceSchema)
	if err != nil {
		return Verdict{}, err
	}
	if res.Coherence < c.threshold {
		return Veto(c.Name(), fmt.Sprintf("coherence %.2f < threshold %.2f", res.Coherence, c.threshold), action.Ponder), nil
	}
	return Pass(c.Name()), nil
}

// OptimizationVeto vetoes actions whose effect on their environment is
// out of proportion to the task.
type OptimizationVeto struct {
	r     dma.Reasoner
	ratio float64
}

// NewOptimizationVeto creates the optimization veto validator.
func NewOptimizationVeto(r dma.Reasoner, ratio float64) *OptimizationVeto {
	return &OptimizationVeto{r: r, ratio: ratio}
}

func (o *OptimizationVeto) Name() string { return "optimization_veto" }

var optimizationSchema = json.RawMessage(`{
	"type": "object", "required": ["decision", "justification", "entropy_reduction_ratio"],
	"properties": {
		"decision": {"type": "string", "enum": ["proceed", "abort", "defer"]},
		"justification": {"type": "string"},
		"entropy_reduction_ratio": {"type": "number", "minimum": 0},
		"affected_values": {"type": "array", "items": {"type": "string"}}
	}
}`)

func (o *OptimizationVeto) Check(ctx context.Context, in Input) (Verdict, error) {
	res, err := ask[struct {
		Decision      string  `json:"decision"`
		Justification string  `json:"justification"`
		Ratio         float64 `json:"entropy_reduction_ratio"`
	}](ctx, o.r, "optimization_veto",
		"You evaluate how much the proposed action may reduce entropy in its environment. Most actions reduce "+
			"it by 0.1 to 0.3. Only answer abort if the reduction is more than ten times the current entropy, "+
			"which marks an action as too powerful. Answer only with JSON: decision (proceed|abort|defer), "+
			"justification, entropy_reduction_ratio, affected_values.",
		"Proposed action: "+describe(in.Selection), optimizationSchema)
	if err != nil {
		return Verdict{}, err
	}
	if res.Decision == "abort" || res.Decision == "defer" || res.Ratio >= o.ratio {
		return Veto(o.Name(), "optimization veto: "+res.Justification, action.Defer), nil
	}
	return Pass(o.Name()), nil
}

// EpistemicHumility vetoes actions taken with too little certainty.
type EpistemicHumility struct {
	r dma.Reasoner
}

// NewEpistemicHumility creates the epistemic humility validator.
func NewEpistemicHumility(r dma.Reasoner) *EpistemicHumility {
	return &EpistemicHumility{r: r}
}

func (e *EpistemicHumility) Name() string { return "epistemic_humility" }

var humilitySchema = json.RawMessage(`{
	"type": "object", "required": ["epistemic_certainty", "reflective_justification", "recommended_action"],
	"properties": {
		"epistemic_certainty": {"type": "number", "minimum": 0, "maximum": 1},
		"identified_uncertainties": {"type": "array", "items": {"type": "string"}},
		"reflective_justification": {"type": "string"},
		"recommended_action": {"type": "string", "enum": ["proceed", "ponder", "defer", "abort"]}
	}
}`)

func (e *EpistemicHumility) Check(ctx context.Context, in Input) (Verdict, error) {
	res, err := ask[struct {
		Certainty     float64 `json:"epistemic_certainty"`
		Justification string  `json:"reflective_justification"`
		Recommended   string  `json:"recommended_action"`
	}](ctx, e.r, "epistemic_humility",
		"Reflect on the proposed action. Recommend defer only if certainty is impossible, which is very rare. "+
			"Recommend ponder if significant uncertainty clearly calls for more reflection. Otherwise recommend "+
			"proceed, which is the strong default. Answer only with JSON: epistemic_certainty (0.0-1.0), "+
			"identified_uncertainties, reflective_justification, recommended_action (proceed|ponder|defer).",
		"Proposed action: "+describe(in.Selection), humilitySchema)
	if err != nil {
		return Verdict{}, err
	}
	switch res.Recommended {
	case "ponder":
		return Veto(e.Name(), "epistemic humility requests ponder: "+res.Justification, action.Ponder), nil
	case "abort", "defer":
		return Veto(e.Name(), "epistemic humility requests "+res.Recommended+": "+res.Justification, action.Defer), nil
	}
	return Pass(e.Name()), nil
}
