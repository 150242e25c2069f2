// Package registry holds the providers available to one capability domain.
//
// Each Registry is constructed explicitly and passed to the bus that serves
// its domain; there is no package-level state. Records are ordered by
// priority tier and carry capability tags plus the provider's circuit
// breaker, so a lookup can filter by capability and skip isolated providers
// in one pass.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/reasond/internal/breaker"
)

// Errors for registry operations.
var (
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrRegistrySealed    = errors.New("registry is sealed")
	ErrInvalidName       = errors.New("provider name is required")
	ErrInvalidPriority   = errors.New("invalid priority")
)

// Domain names a capability domain.
type Domain string

const (
	Reasoning     Domain = "reasoning"
	Memory        Domain = "memory"
	Communication Domain = "communication"
	Tool          Domain = "tool"
	Guidance      Domain = "guidance"
)

// Priority orders providers within a domain. Lower values are preferred.
type Priority int

const (
	Critical Priority = 0
	High     Priority = 1
	Normal   Priority = 2
	Low      Priority = 3
	Fallback Priority = 9
)

// String returns the lower-case tier name.
func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	case Fallback:
		return "fallback"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a tier name.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return Critical, nil
	case "high":
		return High, nil
	case "", "normal":
		return Normal, nil
	case "low":
		return Low, nil
	case "fallback":
		return Fallback, nil
	default:
		return Normal, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

// Strategy chooses between equal-priority providers.
type Strategy int

const (
	// StrategyFallback always tries providers in registration order.
	StrategyFallback Strategy = iota
	// StrategyRoundRobin rotates the starting provider within each tier.
	StrategyRoundRobin
)

// ParseStrategy parses "fallback" or "round_robin".
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "fallback":
		return StrategyFallback, nil
	case "round_robin":
		return StrategyRoundRobin, nil
	default:
		return StrategyFallback, fmt.Errorf("unknown strategy %q", s)
	}
}

// Record is one registered provider.
type Record[P any] struct {
	Name         string
	Domain       Domain
	Priority     Priority
	Capabilities []string
	Provider     P
	Breaker      *breaker.Breaker
}

// Has reports whether the record carries every capability in caps.
func (r *Record[P]) Has(caps ...string) bool {
	for _, c := range caps {
		if !slices.Contains(r.Capabilities, c) {
			return false
		}
	}
	return true
}

// ProviderStatus is the externally visible state of a record.
type ProviderStatus struct {
	Name         string           `json:"name"`
	Domain       Domain           `json:"domain"`
	Priority     string           `json:"priority"`
	Capabilities []string         `json:"capabilities"`
	Breaker      breaker.Snapshot `json:"breaker"`
}

// Options configures a Registry.
type Options struct {
	Strategy       Strategy
	Breaker        breaker.Config
	BreakerOptions []breaker.Option
}

// Registry is the ordered provider list for one domain.
type Registry[P any] struct {
	domain Domain
	opts   Options

	mu      sync.RWMutex
	records []*Record[P]
	sealed  bool

	rrMu   sync.Mutex
	cursor map[Priority]int
}

// New creates an empty registry for domain.
func New[P any](domain Domain, opts Options) *Registry[P] {
	if opts.Breaker.Threshold == 0 {
		opts.Breaker = breaker.DefaultConfig()
	}
	return &Registry[P]{
		domain: domain,
		opts:   opts,
		cursor: make(map[Priority]int),
	}
}

// Domain returns the registry's capability domain.
func (r *Registry[P]) Domain() Domain { return r.domain }

// Register adds a provider with its priority and capability tags.
// Registration order breaks ties inside a tier.
func (r *Registry[P]) Register(name string, p P, prio Priority, caps ...string) error {
	if name == "" {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, name)
	}
	for _, rec := range r.records {
		if rec.Name == name {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateProvider, r.domain, name)
		}
	}

	rec := &Record[P]{
		Name:         name,
		Domain:       r.domain,
		Priority:     prio,
		Capabilities: slices.Clone(caps),
		Provider:     p,
		Breaker:      breaker.New(string(r.domain)+"/"+name, r.opts.Breaker, r.opts.BreakerOptions...),
	}
	r.records = append(r.records, rec)
	sort.SliceStable(r.records, func(i, j int) bool {
		return r.records[i].Priority < r.records[j].Priority
	})
	return nil
}

// Seal rejects further registrations. The runtime seals every registry
// before it starts processing.
func (r *Registry[P]) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Candidates returns the eligible providers for caps in the order they
// should be tried: by priority, then registration order (or rotated order
// under round-robin). Providers whose breaker would refuse a call are
// excluded.
func (r *Registry[P]) Candidates(caps ...string) []*Record[P] {
	r.mu.RLock()
	eligible := make([]*Record[P], 0, len(r.records))
	for _, rec := range r.records {
		if rec.Has(caps...) && rec.Breaker.Available() {
			eligible = append(eligible, rec)
		}
	}
	r.mu.RUnlock()

	if r.opts.Strategy == StrategyRoundRobin {
		r.rotate(eligible)
	}
	return eligible
}

// rotate rotates each run of equal-priority records in place.
func (r *Registry[P]) rotate(recs []*Record[P]) {
	r.rrMu.Lock()
	defer r.rrMu.Unlock()

	for start := 0; start < len(recs); {
		end := start
		for end < len(recs) && recs[end].Priority == recs[start].Priority {
			end++
		}
		if n := end - start; n > 1 {
			tier := recs[start].Priority
			shift := r.cursor[tier] % n
			r.cursor[tier]++
			group := recs[start:end]
			rotated := append(slices.Clone(group[shift:]), group[:shift]...)
			copy(group, rotated)
		}
		start = end
	}
}

// Lookup returns the record registered under name.
func (r *Registry[P]) Lookup(name string) (*Record[P], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.Name == name {
			return rec, true
		}
	}
	return nil, false
}

// Len returns the number of registered providers.
func (r *Registry[P]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Snapshot returns the status of every provider in priority order.
func (r *Registry[P]) Snapshot() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, len(r.records))
	for i, rec := range r.records {
		out[i] = ProviderStatus{
			Name:         rec.Name,
			Domain:       rec.Domain,
			Priority:     rec.Priority.String(),
			Capabilities: slices.Clone(rec.Capabilities),
			Breaker:      rec.Breaker.Snapshot(),
		}
	}
	return out
}
