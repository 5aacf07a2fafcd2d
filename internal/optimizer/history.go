package optimizer

import "github.com/vinodismyname/xlsxctx/internal/tokens"

// TrimHistory keeps the most recent entries whose summed estimates fit budget.
// It walks backwards and stops at the first entry that would overflow; older
// entries are dropped. Kept entries stay in chronological order.
func TrimHistory(history []string, budget int) []string {
	kept := 0
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := tokens.Estimate(history[i])
		if used+cost > budget {
			break
		}
		used += cost
		kept++
	}
	out := make([]string, kept)
	copy(out, history[len(history)-kept:])
	return out
}
