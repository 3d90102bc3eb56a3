// Package extractor holds what the source extractors share: ordered strategy cascades, cleanup of
// scraped text, and the mapping from fetch errors to capture outcomes.
package extractor

import (
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Strategy produces a candidate value. ok is false when the strategy found nothing.
type Strategy[T any] func() (value T, ok bool)

// First runs strategies in order and returns the first candidate accepted by valid, together with
// the index of the strategy that produced it. A nil valid accepts any candidate.
func First[T any](valid func(T) bool, strategies ...Strategy[T]) (T, int, bool) {
	for i, strategy := range strategies {
		value, ok := strategy()
		if !ok {
			continue
		}
		if valid == nil || valid(value) {
			return value, i, true
		}
	}
	var zero T
	return zero, -1, false
}

// Length accepts strings whose rune count is within [minLen, maxLen].
func Length(minLen, maxLen int) func(string) bool {
	return func(s string) bool {
		n := utf8.RuneCountInString(s)
		return n >= minLen && n <= maxLen
	}
}

// Selector is a Strategy reading the cleaned text of the first node matching sel.
func Selector(root *goquery.Selection, sel string) Strategy[string] {
	return func() (string, bool) {
		text := CleanText(root.Find(sel).First().Text())
		return text, text != ""
	}
}

// SelectorText returns the first selector whose text passes the length check.
func SelectorText(root *goquery.Selection, minLen, maxLen int, selectors ...string) string {
	strategies := make([]Strategy[string], 0, len(selectors))
	for _, sel := range selectors {
		strategies = append(strategies, Selector(root, sel))
	}
	text, _, _ := First(Length(minLen, maxLen), strategies...)
	return text
}
