package dma

// Kind names an evaluator.
type Kind string

const (
	Ethical     Kind = "ethical"
	CommonSense Kind = "common_sense"
	Domain      Kind = "domain"
	Intuition   Kind = "intuition"
)

// Verdict is the structured output of one evaluator.
type Verdict interface {
	Score() float64
	Explanation() string
}

// EthicalVerdict is the ethical evaluator's output.
type EthicalVerdict struct {
	Decision   string   `json:"decision"`
	Alignment  string   `json:"alignment"`
	Conflicts  []string `json:"conflicts"`
	Rationale  string   `json:"rationale"`
	Confidence float64  `json:"confidence"`
}

func (v *EthicalVerdict) Score() float64      { return v.Confidence }
func (v *EthicalVerdict) Explanation() string { return v.Rationale }

// CommonSenseVerdict is the common-sense evaluator's output.
type CommonSenseVerdict struct {
	PlausibilityScore float64  `json:"plausibility_score"`
	Flags             []string `json:"flags"`
	Reasoning         string   `json:"reasoning"`
	Confidence        float64  `json:"confidence"`
}

func (v *CommonSenseVerdict) Score() float64      { return v.Confidence }
func (v *CommonSenseVerdict) Explanation() string { return v.Reasoning }

// DomainVerdict is the domain-specific evaluator's output.
type DomainVerdict struct {
	Domain            string   `json:"domain"`
	DomainAlignment   float64  `json:"domain_alignment"`
	Flags             []string `json:"flags"`
	Reasoning         string   `json:"reasoning"`
	RecommendedAction string   `json:"recommended_action,omitempty"`
	Confidence        float64  `json:"confidence"`
}

func (v *DomainVerdict) Score() float64      { return v.Confidence }
func (v *DomainVerdict) Explanation() string { return v.Reasoning }

// IntuitionVerdict is the optional intuition evaluator's output. It is
// informational only.
type IntuitionVerdict struct {
	Coherence  float64 `json:"coherence"`
	Entropy    float64 `json:"entropy"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

func (v *IntuitionVerdict) Score() float64      { return v.Confidence }
func (v *IntuitionVerdict) Explanation() string { return v.Reasoning }

// Schemas for each verdict.
var (
	ethicalSchema = []byte(`{
		"type": "object",
		"required": ["decision", "alignment", "rationale", "confidence"],
		"properties": {
			"decision": {"type": "string", "enum": ["approve", "caution", "reject"]},
			"alignment": {"type": "string"},
			"conflicts": {"type": "array", "items": {"type": "string"}},
			"rationale": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`)
	commonSenseSchema = []byte(`{
		"type": "object",
		"required": ["plausibility_score", "reasoning", "confidence"],
		"properties": {
			"plausibility_score": {"type": "number", "minimum": 0, "maximum": 1},
			"flags": {"type": "array", "items": {"type": "string"}},
			"reasoning": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`)
	domainSchema = []byte(`{
		"type": "object",
		"required": ["domain", "domain_alignment", "reasoning", "confidence"],
		"properties": {
			"domain": {"type": "string"},
			"domain_alignment": {"type": "number", "minimum": 0, "maximum": 1},
			"flags": {"type": "array", "items": {"type": "string"}},
			"reasoning": {"type": "string"},
			"recommended_action": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`)
	intuitionSchema = []byte(`{
		"type": "object",
		"required": ["coherence", "entropy", "reasoning", "confidence"],
		"properties": {
			"coherence": {"type": "number", "minimum": 0, "maximum": 1},
			"entropy": {"type": "number", "minimum": 0, "maximum": 1},
			"reasoning": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`)
)
