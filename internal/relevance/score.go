package relevance

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/vinodismyname/xlsxctx/internal/tables"
)

// Table bonuses. Full-section filtering favours tables more strongly than
// per-table summarization does.
const (
	FilterBonus  = 10.0
	SummaryBonus = 5.0
)

// Weight is 2 for keywords longer than five characters, 1 otherwise.
func Weight(keyword string) float64 {
	if utf8.RuneCountInString(keyword) > 5 {
		return 2
	}
	return 1
}

// Score sums whole-word, case-insensitive keyword occurrences times their
// weight, plus bonus when section contains a table divider.
func Score(section string, keywords []string, bonus float64) float64 {
	if section == "" {
		return 0
	}
	counts := make(map[string]int)
	for _, w := range Words(section) {
		counts[w]++
	}

	var score float64
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		score += float64(counts[kw]) * Weight(kw)
	}
	if tables.ContainsDivider(section) {
		score += bonus
	}
	return score
}

// Scored is a section with its position in the input and its score.
type Scored struct {
	Index   int
	Section string
	Score   float64
}

// Rank scores every section, drops zero scores and sorts by descending score.
// Ties keep input order.
func Rank(sections, keywords []string, bonus float64) []Scored {
	out := make([]Scored, 0, len(sections))
	for i, s := range sections {
		if score := Score(s, keywords, bonus); score > 0 {
			out = append(out, Scored{Index: i, Section: s, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// MostRelevant returns the text of the top n ranked sections.
func MostRelevant(sections, keywords []string, bonus float64, n int) []string {
	ranked := Rank(sections, keywords, bonus)
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Section
	}
	return out
}

// SplitFiles splits a combined context into per-file documents.
func SplitFiles(context string) []string {
	return nonEmpty(strings.Split(context, tables.FileSeparator))
}

// SplitSections splits a combined context on file boundaries and then on
// second-level headings. Sections after the first in a file keep their "## "
// prefix.
func SplitSections(context string) []string {
	var out []string
	for _, file := range SplitFiles(context) {
		parts := strings.Split(file, tables.SectionBreak)
		for i, p := range parts {
			if i > 0 && p != "" {
				p = "## " + p
			}
			out = append(out, p)
		}
	}
	return nonEmpty(out)
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
