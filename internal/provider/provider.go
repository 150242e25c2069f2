// Package provider defines the closed capability interfaces the runtime
// consumes. Each capability domain has one interface with a fixed method
// set; registries store typed handles of these interfaces, never untyped
// values.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnsupported is returned by a provider for an operation it does not
// offer. Providers that return it must not advertise the matching
// capability tag.
var ErrUnsupported = errors.New("operation not supported by provider")

// Capability tags.
const (
	CapStructuredOutput = "structured_output"

	CapRecall   = "recall"
	CapMemorize = "memorize"
	CapForget   = "forget"

	CapDeliver = "deliver"
	CapFetch   = "fetch"

	CapInvoke = "invoke"

	CapGuidance = "guidance"
)

// Provider is the method every provider shares.
type Provider interface {
	Name() string
}

// Message is one chat message sent to a reasoning provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EvaluationRequest asks a reasoning provider for a structured result.
type EvaluationRequest struct {
	Messages    []Message
	SchemaName  string
	Schema      json.RawMessage
	MaxTokens   int
	Temperature float64
}

// Reasoning produces schema-constrained structured output.
type Reasoning interface {
	Provider
	Evaluate(ctx context.Context, req EvaluationRequest) (json.RawMessage, error)
}

// Fact is one memorized item.
type Fact struct {
	ID        string            `json:"id"`
	Key       string            `json:"key"`
	Content   string            `json:"content"`
	Scope     string            `json:"scope,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Score     float32           `json:"score,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// MemoryQuery is a recall request.
type MemoryQuery struct {
	Text  string `json:"text"`
	Limit int    `json:"limit"`
	Scope string `json:"scope,omitempty"`
}

// MemorySnapshot is the result of a recall.
type MemorySnapshot struct {
	Query string `json:"query"`
	Facts []Fact `json:"facts"`
}

// Memory persists and retrieves facts.
type Memory interface {
	Provider
	Recall(ctx context.Context, q MemoryQuery) (MemorySnapshot, error)
	Memorize(ctx context.Context, f Fact) (string, error)
	Forget(ctx context.Context, id string) error
}

// OutboundMessage is delivered to a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	Content string `json:"content"`
	TaskID  string `json:"task_id,omitempty"`
}

// InboundMessage is read from a channel.
type InboundMessage struct {
	ID      string    `json:"id"`
	Channel string    `json:"channel"`
	Author  string    `json:"author"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Communication delivers messages to and reads messages from channels.
// Fetch is optional; providers without it return ErrUnsupported.
type Communication interface {
	Provider
	Deliver(ctx context.Context, msg OutboundMessage) error
	Fetch(ctx context.Context, channel string, limit int) ([]InboundMessage, error)
}

// ToolCall names a tool and its arguments.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is a tool's output.
type ToolResult struct {
	Name   string         `json:"name"`
	Output string         `json:"output"`
	Data   map[string]any `json:"data,omitempty"`
}

// ToolInfo describes an available tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Tool invokes named tools.
type Tool interface {
	Provider
	Invoke(ctx context.Context, call ToolCall) (ToolResult, error)
	Tools() []ToolInfo
}

// GuidanceRequest asks a human or supervising system for guidance on a
// deferred thought.
type GuidanceRequest struct {
	TaskID    string `json:"task_id"`
	ThoughtID string `json:"thought_id"`
	Reason    string `json:"reason"`
	Context   string `json:"context,omitempty"`
}

// GuidanceResponse is either immediate guidance or an acknowledgement that
// the request was queued.
type GuidanceResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	Guidance     string `json:"guidance,omitempty"`
	Ticket       string `json:"ticket,omitempty"`
}

// Guidance accepts deferral requests.
type Guidance interface {
	Provider
	RequestGuidance(ctx context.Context, req GuidanceRequest) (GuidanceResponse, error)
}
