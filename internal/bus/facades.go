package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
)

// MemoryBus routes recall, memorize and forget calls.
type MemoryBus struct{ *Bus[provider.Memory] }

// Recall queries the highest-priority healthy memory provider.
func (b *MemoryBus) Recall(ctx context.Context, q provider.MemoryQuery) (provider.MemorySnapshot, error) {
	return Do(ctx, b.Bus, "recall", []string{provider.CapRecall},
		func(ctx context.Context, p provider.Memory) (provider.MemorySnapshot, error) {
			return p.Recall(ctx, q)
		})
}

// Memorize stores f and returns its ID.
func (b *MemoryBus) Memorize(ctx context.Context, f provider.Fact) (string, error) {
	return Do(ctx, b.Bus, "memorize", []string{provider.CapMemorize},
		func(ctx context.Context, p provider.Memory) (string, error) {
			return p.Memorize(ctx, f)
		})
}

// Forget removes the fact with id.
func (b *MemoryBus) Forget(ctx context.Context, id string) error {
	return b.Call(ctx, "forget", []string{provider.CapForget},
		func(ctx context.Context, p provider.Memory) error {
			return p.Forget(ctx, id)
		})
}

// CommunicationBus routes outbound and inbound messages.
type CommunicationBus struct{ *Bus[provider.Communication] }

// Deliver sends msg through the first healthy provider.
func (b *CommunicationBus) Deliver(ctx context.Context, msg provider.OutboundMessage) error {
	return b.Call(ctx, "deliver", []string{provider.CapDeliver},
		func(ctx context.Context, p provider.Communication) error {
			return p.Deliver(ctx, msg)
		})
}

// Fetch reads up to limit recent messages from channel.
func (b *CommunicationBus) Fetch(ctx context.Context, channel string, limit int) ([]provider.InboundMessage, error) {
	return Do(ctx, b.Bus, "fetch", []string{provider.CapFetch},
		func(ctx context.Context, p provider.Communication) ([]provider.InboundMessage, error) {
			msgs, err := p.Fetch(ctx, channel, limit)
			if errors.Is(err, provider.ErrUnsupported) {
				return nil, Halt(err)
			}
			return msgs, err
		})
}

// ErrUnknownTool is returned when no tool provider offers the named tool.
var ErrUnknownTool = errors.New("unknown tool")

// ToolBus routes tool invocations to the provider that offers the tool.
type ToolBus struct{ *Bus[provider.Tool] }

// Invoke runs call on the first healthy provider listing call.Name.
func (b *ToolBus) Invoke(ctx context.Context, call provider.ToolCall) (provider.ToolResult, error) {
	if !b.offers(call.Name) {
		return provider.ToolResult{}, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	return Do(ctx, b.Bus, "invoke", []string{provider.CapInvoke},
		func(ctx context.Context, p provider.Tool) (provider.ToolResult, error) {
			if !providesTool(p, call.Name) {
				return provider.ToolResult{}, Skip(fmt.Errorf("%w: %q not offered by %s", ErrUnknownTool, call.Name, p.Name()))
			}
			return p.Invoke(ctx, call)
		})
}

// Tools lists every tool across registered providers, first provider wins
// on name collisions.
func (b *ToolBus) Tools() []provider.ToolInfo {
	seen := make(map[string]bool)
	var out []provider.ToolInfo
	for _, rec := range b.reg.Candidates() {
		for _, t := range rec.Provider.Tools() {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			out = append(out, t)
		}
	}
	return out
}

func (b *ToolBus) offers(name string) bool {
	for _, t := range b.Tools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

func providesTool(p provider.Tool, name string) bool {
	for _, t := range p.Tools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// GuidanceBus routes deferral requests to a wise authority.
type GuidanceBus struct{ *Bus[provider.Guidance] }

// RequestGuidance submits req to the first healthy guidance provider.
func (b *GuidanceBus) RequestGuidance(ctx context.Context, req provider.GuidanceRequest) (provider.GuidanceResponse, error) {
	return Do(ctx, b.Bus, "request_guidance", []string{provider.CapGuidance},
		func(ctx context.Context, p provider.Guidance) (provider.GuidanceResponse, error) {
			return p.RequestGuidance(ctx, req)
		})
}

// Set bundles one bus per capability domain.
type Set struct {
	Reasoning     *ReasoningBus
	Memory        *MemoryBus
	Communication *CommunicationBus
	Tool          *ToolBus
	Guidance      *GuidanceBus
}

// NewSet creates buses over regs.
func NewSet(regs *provider.Registries, cfg Config, logger *logging.Logger) *Set {
	return &Set{
		Reasoning:     NewReasoningBus(regs.Reasoning, cfg, logger),
		Memory:        &MemoryBus{New(regs.Memory, cfg, logger)},
		Communication: &CommunicationBus{New(regs.Communication, cfg, logger)},
		Tool:          &ToolBus{New(regs.Tool, cfg, logger)},
		Guidance:      &GuidanceBus{New(regs.Guidance, cfg, logger)},
	}
}
