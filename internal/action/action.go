// Package action defines the fixed set of actions a thought can end in,
// the selection record produced by the action selector, and the outcome
// written back after dispatch.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type is an action the runtime can dispatch.
type Type string

const (
	// Speak delivers a message on a communication channel.
	Speak Type = "SPEAK"
	// Tool invokes a named tool.
	Tool Type = "TOOL"
	// Observe reads recent messages from a channel.
	Observe Type = "OBSERVE"
	// Memorize stores a fact.
	Memorize Type = "MEMORIZE"
	// Recall queries memory.
	Recall Type = "RECALL"
	// Forget removes a stored fact.
	Forget Type = "FORGET"
	// Reject closes the task as one the agent will not do.
	Reject Type = "REJECT"
	// Ponder records open questions and re-queues the thought.
	Ponder Type = "PONDER"
	// Defer hands the task to a wise authority.
	Defer Type = "DEFER"
	// TaskComplete closes the task as done.
	TaskComplete Type = "TASK_COMPLETE"
)

// ErrUnknownAction is returned when parsing a name outside the action set.
var ErrUnknownAction = errors.New("unknown action")

// All returns every action in declaration order.
func All() []Type {
	return []Type{Speak, Tool, Observe, Memorize, Recall, Forget, Reject, Ponder, Defer, TaskComplete}
}

// Parse accepts an action name in any case, with or without a trailing
// "_action" suffix.
func Parse(s string) (Type, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimSuffix(name, "_ACTION")
	t := Type(name)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return t, nil
}

// Valid reports whether t is in the action set.
func (t Type) Valid() bool {
	switch t {
	case Speak, Tool, Observe, Memorize, Recall, Forget, Reject, Ponder, Defer, TaskComplete:
		return true
	}
	return false
}

// Exempt reports whether t bypasses the conscience chain. Exempt actions
// are passive or end the task without external side effects.
func (t Type) Exempt() bool {
	switch t {
	case Recall, TaskComplete, Observe, Defer, Reject:
		return true
	}
	return false
}

// Terminal reports whether dispatching t ends the task.
func (t Type) Terminal() bool {
	switch t {
	case Defer, Reject, TaskComplete:
		return true
	}
	return false
}

// Communicates reports whether t sends something to a user.
func (t Type) Communicates() bool { return t == Speak }

func (t Type) String() string { return string(t) }

// UnmarshalText parses with Parse. An empty value decodes to the zero Type.
func (t *Type) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = ""
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Selection is one chosen action with its parameters.
type Selection struct {
	Action     Type            `json:"selected_action"`
	Params     json.RawMessage `json:"action_parameters,omitempty"`
	Rationale  string          `json:"rationale"`
	Confidence float64         `json:"confidence,omitempty"`
}

// New builds a selection with params marshalled to JSON.
func New(t Type, params any, rationale string) Selection {
	sel := Selection{Action: t, Rationale: rationale}
	if params != nil {
		if raw, err := json.Marshal(params); err == nil {
			sel.Params = raw
		}
	}
	return sel
}

// DeferTo returns a DEFER selection carrying reason.
func DeferTo(reason string) Selection {
	return New(Defer, DeferParams{Reason: reason}, reason)
}

// DecodeParams decodes the selection's parameters into T. Missing
// parameters decode to the zero value.
func DecodeParams[T any](s Selection) (T, error) {
	var p T
	if len(s.Params) == 0 || string(s.Params) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(s.Params, &p); err != nil {
		return p, fmt.Errorf("decode %s parameters: %w", s.Action, err)
	}
	return p, nil
}

// Reason returns the explanation a DEFER or REJECT carries. It falls back
// to the rationale and then to a fixed text so the result is never empty.
func (s Selection) Reason() string {
	var p struct {
		Reason string `json:"reason"`
	}
	if len(s.Params) > 0 {
		_ = json.Unmarshal(s.Params, &p)
	}
	switch {
	case strings.TrimSpace(p.Reason) != "":
		return p.Reason
	case strings.TrimSpace(s.Rationale) != "":
		return s.Rationale
	case s.Action == Reject:
		return "request rejected without a stated reason"
	default:
		return "deferred without a stated reason"
	}
}
