package source

import (
	"regexp"
	"strings"
)

// DefaultNonProductPhrases mark labels that describe selling activity or
// how-to content rather than a product.
var DefaultNonProductPhrases = []string{
	`how\s+to`, "tutorial", `step[\s-]+by[\s-]+step`, `beginner'?s?\s+guide`,
	`shop\s+setup`, `setting\s+up`, `start\s+(?:a\s+|your\s+)?shop`,
	`open\s+(?:a\s+)?shop`, `selling\s+on`, `make\s+money`, `earn\s+(?:online|money)`,
	`passive\s+income`, `dropship(?:ping)?`, "supplier",
}

// Filter rejects signals whose product label is not a product.
type Filter struct {
	pattern *regexp.Regexp
	exclude []string
}

// NewFilter creates a filter from the default phrases plus plain-text extras.
func NewFilter(excludeKeywords []string) *Filter {
	exclude := make([]string, 0, len(excludeKeywords))
	for _, kw := range excludeKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			exclude = append(exclude, kw)
		}
	}
	return &Filter{
		pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(DefaultNonProductPhrases, "|") + `)\b`),
		exclude: exclude,
	}
}

// IsProduct reports whether label plausibly names a product.
func (f *Filter) IsProduct(label string) bool {
	if strings.TrimSpace(label) == "" {
		return false
	}
	if f.pattern.MatchString(label) {
		return false
	}
	lower := strings.ToLower(label)
	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return false
		}
	}
	return true
}

// Apply returns the signals that pass the filter, in order.
func (f *Filter) Apply(signals []Signal) []Signal {
	out := signals[:0:0]
	for _, s := range signals {
		if f.IsProduct(s.ProductName) {
			out = append(out, s)
		}
	}
	return out
}
