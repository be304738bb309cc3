package mailparse

import (
	"regexp"
	"strings"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<.*?>`)
	urlPattern        = regexp.MustCompile(`https?://\S+|www\.\S+`)
	entityPattern     = regexp.MustCompile(`&\w+;`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// CleanText strips residual HTML tags, URLs and entities from body text
// and collapses whitespace, producing compact input for summarization.
func CleanText(text string) string {
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = urlPattern.ReplaceAllString(text, "")
	text = entityPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
