package secrets

import (
	"fmt"
	"regexp"
)

// DefaultReplacement replaces every redacted span.
const DefaultReplacement = "[REDACTED]"

// Config configures a Redactor.
type Config struct {
	// Replacement is written in place of each secret. Default: DefaultReplacement.
	Replacement string
	// Rules are the detection rules. Nil means DefaultRules.
	Rules []Rule
	// AllowList patterns exempt matching spans from redaction.
	AllowList []string
}

// Rule detects one kind of secret.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	// Keywords gate the rule; when set, at least one must appear
	// (case-insensitively) in the text.
	Keywords []string
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

func compile(cfg Config) ([]compiledRule, []*regexp.Regexp, error) {
	rules := make([]compiledRule, 0, len(cfg.Rules))
	seen := make(map[string]bool, len(cfg.Rules))
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: id is required", i)
		}
		if seen[r.ID] {
			return nil, nil, fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = true
		if r.Pattern == "" {
			return nil, nil, fmt.Errorf("rule %s: pattern is required", r.ID)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		cr := compiledRule{id: r.ID, pattern: re}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		rules = append(rules, cr)
	}

	allow := make([]*regexp.Regexp, 0, len(cfg.AllowList))
	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		allow = append(allow, re)
	}
	return rules, allow, nil
}
