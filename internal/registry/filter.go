package registry

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vinodismyname/xlsxctx/config"
)

// mutatingPrefixes name tools that discard session state.
var mutatingPrefixes = []string{"clear_", "remove_", "end_"}

// MutationToolFilter hides tools that discard session state unless enabled.
type MutationToolFilter struct {
	allowMutations bool
}

// NewMutationToolFilter constructs a filter from cfg.EnableMutations.
func NewMutationToolFilter(cfg config.Config) *MutationToolFilter {
	return &MutationToolFilter{allowMutations: cfg.EnableMutations}
}

// IsMutating reports whether the tool name carries a mutating prefix.
func IsMutating(name string) bool {
	name = strings.ToLower(name)
	for _, p := range mutatingPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// FilterTools implements server tool filtering semantics.
func (f *MutationToolFilter) FilterTools(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
	if f.allowMutations {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if IsMutating(t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}
