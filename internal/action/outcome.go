package action

import (
	"time"

	"github.com/fyrsmithlabs/reasond/internal/provider"
)

// Outcome is the result of dispatching one selection.
type Outcome struct {
	Action      Type      `json:"action"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`

	// Results carried into the next round.
	Facts      []provider.Fact           `json:"facts,omitempty"`
	Messages   []provider.InboundMessage `json:"messages,omitempty"`
	ToolResult *provider.ToolResult      `json:"tool_result,omitempty"`
	Guidance   string                    `json:"guidance,omitempty"`
	Questions  []string                  `json:"questions,omitempty"`
}

// Failed builds an unsuccessful outcome.
func Failed(t Type, err error) Outcome {
	return Outcome{Action: t, Error: err.Error(), CompletedAt: time.Now().UTC()}
}
