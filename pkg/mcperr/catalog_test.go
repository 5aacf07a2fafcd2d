package mcperr

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestNew_UsesCatalogMessageAndSteps(t *testing.T) {
	got := resultText(t, New(SessionNotFound, ""))
	require.Equal(t, "SESSION_NOT_FOUND: session not found or expired | nextSteps: Call ingest_workbook without session_id to start a new session", got)
}

func TestFromText_ParsesCode(t *testing.T) {
	got := resultText(t, FromText("CURSOR_INVALID: filters changed"))
	require.Contains(t, got, "CURSOR_INVALID: filters changed | nextSteps:")
}

func TestFromText_UnknownCodePreserved(t *testing.T) {
	require.Equal(t, "WEIRD: thing", resultText(t, FromText("WEIRD: thing")))
	require.Contains(t, resultText(t, FromText("")), "VALIDATION: invalid inputs")
}

func TestLookup(t *testing.T) {
	e, ok := Lookup(ModelUnavailable)
	require.True(t, ok)
	require.False(t, e.Retryable)
	_, ok = Lookup("NOPE")
	require.False(t, ok)
}
