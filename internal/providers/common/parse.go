package common

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagPattern  = regexp.MustCompile(`<[^>]+>`)
	yearPattern = regexp.MustCompile(`(?:19|20)\d{2}`)
)

// CleanHTMLText turns an HTML synopsis into one line of plain text.
func CleanHTMLText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = tagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// ParseYear extracts the first plausible release year, or "" when none.
func ParseYear(raw string) string {
	return yearPattern.FindString(strings.TrimSpace(raw))
}

// AbsoluteURL resolves ref against base; unparsable input is returned trimmed.
func AbsoluteURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/" + strings.TrimLeft(ref, "/")
}
