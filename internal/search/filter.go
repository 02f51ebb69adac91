package search

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"vodstream/catalogservice/internal/domain"
)

// DefaultDeniedTerms are category labels excluded from results unless the
// filter is disabled.
var DefaultDeniedTerms = []string{"伦理", "成人", "福利", "写真", "情色", "三级", "里番"}

// RegexRulePrefix marks a filter rule as a regular expression instead of a
// literal term.
const RegexRulePrefix = "re:"

var ErrInvalidFilterRule = errors.New("invalid content filter rule")

// ContentFilter drops entries whose category label matches a rule. A rule is
// either a literal term (case-insensitive substring) or an RE2 expression.
// Rules are data; nothing user-supplied is executed.
type ContentFilter struct {
	terms    []string
	patterns []*regexp.Regexp
}

// ParseContentFilter builds a filter from rule strings. Rules prefixed with
// "re:" are compiled case-insensitively; the rest are literal terms.
func ParseContentFilter(rules []string) (ContentFilter, error) {
	literals := make([]string, 0, len(rules))
	patterns := make([]*regexp.Regexp, 0)
	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		expr, isRegex := strings.CutPrefix(rule, RegexRulePrefix)
		if !isRegex {
			literals = append(literals, rule)
			continue
		}
		expr = strings.TrimSpace(expr)
		if expr == "" {
			return ContentFilter{}, fmt.Errorf("%w: empty expression", ErrInvalidFilterRule)
		}
		compiled, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return ContentFilter{}, fmt.Errorf("%w: %v", ErrInvalidFilterRule, err)
		}
		patterns = append(patterns, compiled)
	}
	filter := NewContentFilter(literals)
	filter.patterns = patterns
	return filter, nil
}

func NewContentFilter(terms []string) ContentFilter {
	normalized := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		normalized = append(normalized, term)
	}
	return ContentFilter{terms: normalized}
}

func (f ContentFilter) Allows(entry domain.CatalogEntry) bool {
	category := strings.ToLower(entry.TypeName)
	if category == "" {
		return true
	}
	for _, term := range f.terms {
		if strings.Contains(category, term) {
			return false
		}
	}
	for _, pattern := range f.patterns {
		if pattern.MatchString(entry.TypeName) {
			return false
		}
	}
	return true
}

// Apply keeps allowed entries in their original order.
func (f ContentFilter) Apply(entries []domain.CatalogEntry) []domain.CatalogEntry {
	if len(f.terms) == 0 && len(f.patterns) == 0 {
		return entries
	}
	kept := make([]domain.CatalogEntry, 0, len(entries))
	for _, entry := range entries {
		if f.Allows(entry) {
			kept = append(kept, entry)
		}
	}
	return kept
}
