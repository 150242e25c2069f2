package secrets

import (
	"regexp"
	"sort"
	"strings"
)

// Result is the outcome of one Scan.
type Result struct {
	// Content is the input with every finding replaced.
	Content string
	// Findings counts matched spans before overlapping spans are merged.
	Findings int
	// ByRule counts findings per rule ID.
	ByRule map[string]int
}

// Redactor replaces secrets in text. It is safe for concurrent use.
type Redactor struct {
	replacement string
	rules       []compiledRule
	allow       []*regexp.Regexp
}

// New compiles cfg into a Redactor.
func New(cfg Config) (*Redactor, error) {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.Replacement == "" {
		cfg.Replacement = DefaultReplacement
	}
	rules, allow, err := compile(cfg)
	if err != nil {
		return nil, err
	}
	return &Redactor{replacement: cfg.Replacement, rules: rules, allow: allow}, nil
}

type span struct{ start, end int }

// Scan finds and replaces every secret in content.
func (r *Redactor) Scan(content string) Result {
	res := Result{Content: content, ByRule: map[string]int{}}
	var spans []span
	for _, rule := range r.rules {
		if !rule.gated(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if m[0] == m[1] || r.allowed(content[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			res.ByRule[rule.id]++
			res.Findings++
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			last.end = max(last.end, s.end)
			continue
		}
		merged = append(merged, s)
	}

	var b strings.Builder
	b.Grow(len(content))
	prev := 0
	for _, s := range merged {
		b.WriteString(content[prev:s.start])
		b.WriteString(r.replacement)
		prev = s.end
	}
	b.WriteString(content[prev:])
	res.Content = b.String()
	return res
}

// Redact returns content with secrets replaced and the number of findings.
func (r *Redactor) Redact(content string) (string, int) {
	res := r.Scan(content)
	return res.Content, res.Findings
}

func (r *Redactor) allowed(match string) bool {
	for _, re := range r.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func (c compiledRule) gated(content string) bool {
	if len(c.keywords) == 0 {
		return true
	}
	for _, kw := range c.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}
