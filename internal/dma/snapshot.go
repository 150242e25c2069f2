package dma

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/reasond/internal/action"
	"github.com/fyrsmithlabs/reasond/internal/provider"
)

// Snapshot is the context every evaluator sees for one round. It is built
// once in GATHER_CONTEXT and must not be mutated afterwards.
type Snapshot struct {
	TaskID      string
	Task        string
	Channel     string
	ThoughtID   string
	Thought     string
	Round       int
	MaxRounds   int
	Domain      string
	PonderCount int
	Notes       []string
	LastAction  action.Type
	Recalled    []provider.Fact
	Observed    []provider.InboundMessage
	ToolResult  *provider.ToolResult
	Guidance    string
	Tools       []provider.ToolInfo
}

// FinalAttempt reports whether this is the last round the budget allows
// before the task must close.
func (s Snapshot) FinalAttempt() bool {
	return s.MaxRounds > 0 && s.Round >= s.MaxRounds-1
}

// Describe renders the snapshot as the shared user message sent to every
// evaluator.
func (s Snapshot) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", s.Task)
	if s.Thought != "" && s.Thought != s.Task {
		fmt.Fprintf(&b, "Current thought: %s\n", s.Thought)
	}
	if s.Channel != "" {
		fmt.Fprintf(&b, "Channel: %s\n", s.Channel)
	}
	fmt.Fprintf(&b, "Round: %d of %d\n", s.Round, s.MaxRounds)
	if s.LastAction != "" {
		fmt.Fprintf(&b, "Previous action: %s\n", s.LastAction)
	}
	if len(s.Recalled) > 0 {
		b.WriteString("Recalled memories:\n")
		for _, f := range s.Recalled {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Key, f.Content)
		}
	} else if s.LastAction == action.Recall {
		b.WriteString("Recalled memories: none found\n")
	}
	if len(s.Observed) > 0 {
		b.WriteString("Observed messages:\n")
		for _, m := range s.Observed {
			fmt.Fprintf(&b, "- %s: %s\n", m.Author, m.Content)
		}
	}
	if s.ToolResult != nil {
		fmt.Fprintf(&b, "Tool %s returned: %s\n", s.ToolResult.Name, s.ToolResult.Output)
	}
	if s.Guidance != "" {
		fmt.Fprintf(&b, "Guidance received: %s\n", s.Guidance)
	}
	return b.String()
}
