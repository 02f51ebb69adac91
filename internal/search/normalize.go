package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// NormalizeTitle reduces a title to a comparison key: full-width forms are
// folded, whitespace (including U+3000), brackets and punctuation are dropped
// and the remaining letters and digits are case-folded. Bracketed content is
// kept, so "流浪地球（2019）" and "流浪地球 2019" compare equal.
func NormalizeTitle(title string) string {
	folded := width.Fold.String(title)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return cases.Fold().String(b.String())
}
