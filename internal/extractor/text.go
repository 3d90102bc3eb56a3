package extractor

import (
	"regexp"
	"strings"
)

var (
	yearPattern  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// CleanText collapses runs of whitespace (including NBSP) and trims the result.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// FirstYear returns the first 19xx or 20xx token in s, or "".
func FirstYear(s string) string {
	return yearPattern.FindString(s)
}

// Truncate limits s to maxRunes runes.
func Truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
