package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from shopper supplied text and trims surrounding whitespace.
// Entities produced by the sanitizer are unescaped so the stored value stays readable.
func PlainText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(value)))
}

// PlainTextLimit behaves like PlainText and truncates the result to at most limit runes.
func PlainTextLimit(value string, limit int) string {
	cleaned := PlainText(value)
	if limit <= 0 || utf8.RuneCountInString(cleaned) <= limit {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:limit]))
}
