package optimizer

import (
	"strings"

	"github.com/vinodismyname/xlsxctx/config"
)

// ModelLimits maps model-name fragments to context windows. Lookup is
// first-match in table order, so more specific fragments must come first.
type ModelLimits struct {
	entries  []config.ModelLimit
	fallback int
}

// NewModelLimits copies entries into a read-only table. Unknown models resolve
// to config.DefaultModelTokenLimit.
func NewModelLimits(entries []config.ModelLimit) ModelLimits {
	cp := make([]config.ModelLimit, len(entries))
	copy(cp, entries)
	return ModelLimits{entries: cp, fallback: config.DefaultModelTokenLimit}
}

// Lookup returns the token ceiling for model and whether a table entry matched.
// Both sides are lower-cased with hyphens removed before the containment test,
// so "GPT-4o-mini-2024" and "gpt4omini" resolve the same way.
func (m ModelLimits) Lookup(model string) (int, bool) {
	name := normalizeModel(model)
	if name != "" {
		for _, e := range m.entries {
			if frag := normalizeModel(e.Name); frag != "" && strings.Contains(name, frag) {
				return e.Tokens, true
			}
		}
	}
	return m.fallback, false
}

// Entries returns a copy of the table.
func (m ModelLimits) Entries() []config.ModelLimit {
	cp := make([]config.ModelLimit, len(m.entries))
	copy(cp, m.entries)
	return cp
}

func normalizeModel(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "")
}
