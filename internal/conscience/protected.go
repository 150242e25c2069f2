package conscience

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fyrsmithlabs/reasond/internal/action"
)

// ErrInvalidRule is returned for a rule with a malformed pattern.
var ErrInvalidRule = errors.New("invalid protected rule")

// Rule protects memory keys matching Pattern from MEMORIZE and FORGET.
type Rule struct {
	Pattern string   `toml:"pattern"`
	Reason  string   `toml:"reason"`
	Actions []string `toml:"actions"`
}

// RuleSet is a parsed rule file.
type RuleSet struct {
	Rules []Rule `toml:"protected"`
}

// DefaultRules protects the agent's identity and its core values.
func DefaultRules() *RuleSet {
	return &RuleSet{Rules: []Rule{
		{Pattern: "identity.*", Reason: "agent identity is immutable at runtime"},
		{Pattern: "values.*", Reason: "core values may only change through a wise authority"},
		{Pattern: "covenant*", Reason: "the covenant is protected"},
	}}
}

// LoadRules reads a TOML rule file:
//
//	[[protected]]
//	pattern = "identity.*"
//	reason  = "agent identity is immutable at runtime"
//	actions = ["MEMORIZE", "FORGET"]
func LoadRules(file string) (*RuleSet, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", file, err)
	}
	return ParseRules(data)
}

// ParseRules parses TOML rule data and checks every pattern.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if _, err := toml.Decode(string(data), &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, r := range rs.Rules {
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("%w: rule %d has no pattern", ErrInvalidRule, i)
		}
		if _, err := path.Match(r.Pattern, ""); err != nil {
			return nil, fmt.Errorf("%w: rule %d pattern %q: %v", ErrInvalidRule, i, r.Pattern, err)
		}
		for _, a := range r.Actions {
			if _, err := action.Parse(a); err != nil {
				return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, i, err)
			}
		}
	}
	return &rs, nil
}

// Match returns the first rule protecting key against t.
func (rs *RuleSet) Match(t action.Type, key string) (Rule, bool) {
	if rs == nil || key == "" {
		return Rule{}, false
	}
	for _, r := range rs.Rules {
		if !r.appliesTo(t) {
			continue
		}
		if ok, _ := path.Match(r.Pattern, key); ok {
			return r, true
		}
	}
	return Rule{}, false
}

func (r Rule) appliesTo(t action.Type) bool {
	if len(r.Actions) == 0 {
		return t == action.Memorize || t == action.Forget
	}
	for _, a := range r.Actions {
		if parsed, err := action.Parse(a); err == nil && parsed == t {
			return true
		}
	}
	return false
}

// RuleSource supplies the current rule set.
type RuleSource interface {
	Rules() *RuleSet
}

// ProtectedValue vetoes MEMORIZE and FORGET of protected keys and asks the
// agent to ponder instead.
type ProtectedValue struct {
	rules RuleSource
}

// NewProtectedValue creates the validator. A nil source uses DefaultRules.
func NewProtectedValue(rules RuleSource) *ProtectedValue {
	if rules == nil {
		rules = StaticRules(DefaultRules())
	}
	return &ProtectedValue{rules: rules}
}

func (p *ProtectedValue) Name() string { return "protected_value" }

func (p *ProtectedValue) Check(_ context.Context, in Input) (Verdict, error) {
	var keys []string
	switch in.Selection.Action {
	case action.Memorize:
		params, err := action.DecodeParams[action.MemorizeParams](in.Selection)
		if err != nil {
			return Verdict{}, err
		}
		keys = []string{params.Key}
	case action.Forget:
		params, err := action.DecodeParams[action.ForgetParams](in.Selection)
		if err != nil {
			return Verdict{}, err
		}
		// Either selector may name a stored key.
		keys = params.Selectors()
	default:
		return Pass(p.Name()), nil
	}

	rules := p.rules.Rules()
	for _, key := range keys {
		if rule, ok := rules.Match(in.Selection.Action, key); ok {
			reason := rule.Reason
			if reason == "" {
				reason = "matches protected pattern " + rule.Pattern
			}
			return Veto(p.Name(), fmt.Sprintf("key %q is protected: %s", key, reason), action.Ponder), nil
		}
	}
	return Pass(p.Name()), nil
}

type staticRules struct{ rs *RuleSet }

func (s staticRules) Rules() *RuleSet { return s.rs }

// StaticRules wraps a fixed rule set.
func StaticRules(rs *RuleSet) RuleSource { return staticRules{rs: rs} }
