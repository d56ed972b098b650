package utils

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokenCount approximates the token count of text at roughly four
// characters per token. Runes are counted rather than bytes so Vietnamese
// and other accented text is not overcounted.
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	tokens := utf8.RuneCountInString(text) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
