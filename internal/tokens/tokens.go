// Package tokens approximates language-model token cost as one token per four
// characters, rounded up.
package tokens

import "unicode/utf8"

// CharsPerToken is the estimation ratio.
const CharsPerToken = 4

// Estimate returns ceil(characters/4). Characters are counted as runes.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// EstimateAll sums per-entry estimates.
func EstimateAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += Estimate(t)
	}
	return total
}
