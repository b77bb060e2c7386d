package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// StripMarkup removes HTML from free text, drops control characters and trims the result to at
// most limit runes. Entities are decoded again so "A & B" survives unchanged.
func StripMarkup(value string, limit int) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(strict.Sanitize(value))
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if limit > 0 {
		if runes := []rune(cleaned); len(runes) > limit {
			cleaned = strings.TrimSpace(string(runes[:limit]))
		}
	}
	return cleaned
}
