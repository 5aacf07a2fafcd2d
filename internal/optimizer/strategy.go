package optimizer

import (
	"strings"

	"github.com/vinodismyname/xlsxctx/internal/relevance"
	"github.com/vinodismyname/xlsxctx/internal/tables"
	"github.com/vinodismyname/xlsxctx/internal/tokens"
)

// Strategy names reported in Result.Strategy.
const (
	StrategyPassThrough      = "pass_through"
	StrategyRelevantSections = "relevant_sections"
	StrategyTableCompression = "table_compression"
	StrategyDigest           = "digest"
)

// compressionThreshold is the share of the budget after which table
// compression keeps every third data row instead of every second.
const compressionThreshold = 0.7

// Input is what a compression strategy sees.
type Input struct {
	Context  string
	Query    string
	Keywords []string
	Budget   int
}

// Strategy transforms the context toward Input.Budget. Apply reports false
// when its output does not fit; the optimizer then moves on to the next
// strategy. The last strategy in a chain is accepted unconditionally.
type Strategy struct {
	Name  string
	Apply func(in Input) (string, bool)
}

// DefaultStrategies returns the escalation chain: pass-through, relevant
// sections, table compression, digest.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyPassThrough, Apply: passThrough},
		{Name: StrategyRelevantSections, Apply: relevantSections},
		{Name: StrategyTableCompression, Apply: compressTables},
		{Name: StrategyDigest, Apply: digest},
	}
}

func fits(text string, budget int) bool {
	return tokens.Estimate(text) <= budget
}

func passThrough(in Input) (string, bool) {
	return in.Context, fits(in.Context, in.Budget)
}

// relevantSections keeps the best-scoring half of the files (at least one).
// Files that score zero are never kept.
func relevantSections(in Input) (string, bool) {
	files := relevance.SplitFiles(in.Context)
	if len(files) == 0 {
		return "", false
	}
	top := relevance.MostRelevant(files, in.Keywords, relevance.FilterBonus, max(1, len(files)/2))
	if len(top) == 0 {
		return "", false
	}
	out := strings.Join(top, "\n\n")
	return out, fits(out, in.Budget)
}

// compressTables samples table bodies. Headings, dividers and the first row
// after a divider are always kept. Other table rows are kept when the count of
// data rows kept so far is a multiple of the skip factor (2, or 3 once 70% of
// the budget is used). Plain lines are kept while they fit.
func compressTables(in Input) (string, bool) {
	lines := strings.Split(in.Context, "\n")
	kept := make([]string, 0, len(lines))
	used := 0
	dataRows := 0
	threshold := float64(in.Budget) * compressionThreshold

	for i, line := range lines {
		cost := tokens.Estimate(line)
		isTable := tables.IsTableLine(line)
		isDivider := tables.IsDivider(line)

		switch {
		case strings.HasPrefix(line, "#") || isDivider || (isTable && i > 0 && tables.IsDivider(lines[i-1])):
		case isTable && used+cost <= in.Budget:
			skip := 2
			if float64(used) > threshold {
				skip = 3
			}
			if dataRows%skip != 0 {
				continue
			}
		case used+cost <= in.Budget:
		default:
			continue
		}

		kept = append(kept, line)
		used += cost
		if isTable && !isDivider {
			dataRows++
		}
	}

	out := strings.Join(kept, "\n")
	return out, fits(out, in.Budget)
}

func digest(in Input) (string, bool) {
	return Digest(in.Context, in.Budget), true
}
