// Package tool provides the in-process tool provider.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/provider"
)

var (
	// ErrUnknownTool is returned by Invoke for a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArgs is returned when a tool's arguments are unusable.
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

// Func implements one tool.
type Func func(ctx context.Context, args map[string]any) (provider.ToolResult, error)

type entry struct {
	info provider.ToolInfo
	fn   Func
}

// Builtin serves tools implemented in process.
type Builtin struct {
	name string
	now  func() time.Time

	mu    sync.RWMutex
	tools map[string]entry
}

var _ provider.Tool = (*Builtin)(nil)

// Option configures a Builtin.
type Option func(*Builtin)

// WithClock overrides the time source of the clock tool.
func WithClock(now func() time.Time) Option {
	return func(b *Builtin) { b.now = now }
}

// NewBuiltin creates a provider with the clock and echo tools registered.
// name defaults to "builtin".
func NewBuiltin(name string, opts ...Option) *Builtin {
	if name == "" {
		name = "builtin"
	}
	b := &Builtin{name: name, now: time.Now, tools: make(map[string]entry)}
	for _, o := range opts {
		o(b)
	}
	b.Register("clock", "Returns the current time. Args: timezone (IANA name, default UTC).", b.clock)
	b.Register("echo", "Returns its text argument unchanged. Args: text.", echo)
	return b
}

// Register adds or replaces a tool.
func (b *Builtin) Register(name, description string, fn Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tools[name] = entry{info: provider.ToolInfo{Name: name, Description: description}, fn: fn}
}

func (b *Builtin) Name() string { return b.name }

// Tools lists the registered tools by name.
func (b *Builtin) Tools() []provider.ToolInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]provider.ToolInfo, 0, len(b.tools))
	for _, e := range b.tools {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (b *Builtin) Invoke(ctx context.Context, call provider.ToolCall) (provider.ToolResult, error) {
	b.mu.RLock()
	e, ok := b.tools[call.Name]
	b.mu.RUnlock()
	if !ok {
		return provider.ToolResult{}, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	if err := ctx.Err(); err != nil {
		return provider.ToolResult{}, err
	}
	res, err := e.fn(ctx, call.Args)
	if err != nil {
		return provider.ToolResult{}, fmt.Errorf("tool %s: %w", call.Name, err)
	}
	res.Name = call.Name
	return res, nil
}

func (b *Builtin) clock(_ context.Context, args map[string]any) (provider.ToolResult, error) {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return provider.ToolResult{}, fmt.Errorf("%w: timezone %q: %w", ErrInvalidArgs, tz, err)
		}
		loc = l
	}
	now := b.now().In(loc)
	return provider.ToolResult{
		Output: now.Format(time.RFC3339),
		Data:   map[string]any{"unix": now.Unix(), "timezone": loc.String()},
	}, nil
}

func echo(_ context.Context, args map[string]any) (provider.ToolResult, error) {
	text, ok := args["text"].(string)
	if !ok {
		return provider.ToolResult{}, fmt.Errorf("%w: text must be a string", ErrInvalidArgs)
	}
	return provider.ToolResult{Output: text}, nil
}
