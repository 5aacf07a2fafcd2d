// Package relevance ranks markdown sections against the keywords of a user
// query.
package relevance

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxKeywords caps the keywords extracted from one query.
const MaxKeywords = 10

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Vocabulary is a read-only set of prioritized domain terms.
type Vocabulary struct {
	terms map[string]struct{}
}

// NewVocabulary builds a vocabulary from terms, lower-casing each.
func NewVocabulary(terms []string) Vocabulary {
	v := Vocabulary{terms: make(map[string]struct{}, len(terms))}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			v.terms[t] = struct{}{}
		}
	}
	return v
}

// Contains reports whether word is a vocabulary term.
func (v Vocabulary) Contains(word string) bool {
	_, ok := v.terms[word]
	return ok
}

// Len is the number of terms.
func (v Vocabulary) Len() int { return len(v.terms) }

// Words lower-cases text and splits it into word tokens.
func Words(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// Keywords extracts up to MaxKeywords query keywords. Words shorter than three
// characters are ignored. Vocabulary terms come first, then other words longer
// than three characters, each group in query order, without duplicates.
func (v Vocabulary) Keywords(query string) []string {
	var words []string
	for _, w := range Words(query) {
		if utf8.RuneCountInString(w) > 2 {
			words = append(words, w)
		}
	}

	seen := make(map[string]bool, len(words))
	out := make([]string, 0, MaxKeywords)
	add := func(w string) {
		if seen[w] || len(out) >= MaxKeywords {
			return
		}
		seen[w] = true
		out = append(out, w)
	}
	for _, w := range words {
		if v.Contains(w) {
			add(w)
		}
	}
	for _, w := range words {
		if !v.Contains(w) && utf8.RuneCountInString(w) > 3 {
			add(w)
		}
	}
	return out
}
