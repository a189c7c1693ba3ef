package transcript

import (
	"strings"
	"unicode"
)

// Normalize reduces text to its comparison form for deduplication:
// lower-cased, punctuation stripped, whitespace collapsed. "Yes,
// please." and "yes please" normalize identically.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// punctuation dropped
		}
	}

	return strings.TrimSpace(b.String())
}

// hasTerminalPunctuation reports whether text ends with sentence-final
// punctuation. Complete sentences are characteristic of the avatar's
// synthesized speech, not of clipped user interjections.
func hasTerminalPunctuation(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
