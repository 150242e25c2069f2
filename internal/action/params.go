package action

// SpeakParams are the parameters of SPEAK.
type SpeakParams struct {
	Content string `json:"content"`
	Channel string `json:"channel,omitempty"`
}

// ToolParams are the parameters of TOOL.
type ToolParams struct {
	Name string         `json:"name"`
	Args map[string]any `json:"parameters,omitempty"`
}

// ObserveParams are the parameters of OBSERVE.
type ObserveParams struct {
	Channel string `json:"channel,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// MemorizeParams are the parameters of MEMORIZE.
type MemorizeParams struct {
	Key     string `json:"key"`
	Content string `json:"content"`
	Scope   string `json:"scope,omitempty"`
}

// RecallParams are the parameters of RECALL.
type RecallParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	Scope string `json:"scope,omitempty"`
}

// ForgetParams are the parameters of FORGET.
type ForgetParams struct {
	ID     string `json:"id,omitempty"`
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Target is the value FORGET deletes: the ID, or the key when no ID is set.
func (p ForgetParams) Target() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Key
}

// Selectors returns every non-empty value the request names a fact by.
func (p ForgetParams) Selectors() []string {
	var out []string
	for _, s := range []string{p.ID, p.Key} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PonderParams are the parameters of PONDER.
type PonderParams struct {
	Questions []string `json:"questions"`
}

// DeferParams are the parameters of DEFER.
type DeferParams struct {
	Reason string `json:"reason"`
}

// RejectParams are the parameters of REJECT.
type RejectParams struct {
	Reason string `json:"reason"`
}

// CompleteParams are the parameters of TASK_COMPLETE.
type CompleteParams struct {
	Summary string `json:"summary,omitempty"`
}
