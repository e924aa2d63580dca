package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// StripMarkup returns a sanitiser that drops markup under policy and returns plain text.
// Sanitize HTML-escapes what it keeps, so entities are decoded before the value is stored.
func StripMarkup(policy *bluemonday.Policy) func(string) string {
	return func(value string) string {
		return strings.TrimSpace(html.UnescapeString(policy.Sanitize(value)))
	}
}
