package tables

import (
	"strings"

	"github.com/vinodismyname/xlsxctx/internal/grid"
)

// DividerCell is the placeholder written once per column in the header divider.
const DividerCell = "---"

// Document conventions shared by ingestion, the session registry and the
// optimizer.
const (
	// FileSeparator joins the rendered documents of different files.
	FileSeparator = "\n\n---\n\n"
	// SectionBreak starts a per-table section inside a document.
	SectionBreak = "\n## "
)

// Table is a region laid out as a dense matrix. The column span is computed
// from every cell in the rendered rows, not from the detector's header span.
type Table struct {
	MinCol int
	MaxCol int
	// Cells holds raw cell text, one slice per row, each Width() long.
	Cells [][]string
}

// Width is the number of columns.
func (t Table) Width() int {
	if len(t.Cells) == 0 {
		return 0
	}
	return t.MaxCol - t.MinCol + 1
}

// Header returns the first row.
func (t Table) Header() []string {
	if len(t.Cells) == 0 {
		return nil
	}
	return t.Cells[0]
}

// Body returns every row after the header.
func (t Table) Body() [][]string {
	if len(t.Cells) <= 1 {
		return nil
	}
	return t.Cells[1:]
}

// Layout resolves the given row indices against g. Unknown row indices are
// ignored. Returns a zero Table when the rows hold no cells.
func Layout(g *grid.Grid, rowIdx []int) Table {
	var rows []grid.Row
	for _, idx := range rowIdx {
		if r, ok := g.Row(idx); ok {
			rows = append(rows, r)
		}
	}

	t := Table{}
	seen := false
	for _, r := range rows {
		for _, c := range r.Cells {
			if !seen {
				t.MinCol, t.MaxCol = c.Addr.Col, c.Addr.Col
				seen = true
				continue
			}
			t.MinCol = min(t.MinCol, c.Addr.Col)
			t.MaxCol = max(t.MaxCol, c.Addr.Col)
		}
	}
	if !seen {
		return Table{}
	}

	width := t.MaxCol - t.MinCol + 1
	t.Cells = make([][]string, 0, len(rows))
	for _, r := range rows {
		line := make([]string, width)
		for _, c := range r.Cells {
			line[c.Addr.Col-t.MinCol] = c.Text
		}
		t.Cells = append(t.Cells, line)
	}
	return t
}

// Markdown writes one pipe-delimited line per row and a divider after the
// first. Every line ends with a newline.
func (t Table) Markdown() string {
	if len(t.Cells) == 0 {
		return ""
	}
	var b strings.Builder
	for i, row := range t.Cells {
		escaped := make([]string, len(row))
		for j, v := range row {
			escaped[j] = EscapeCell(v)
		}
		writeLine(&b, escaped)
		if i == 0 {
			writeLine(&b, divider(t.Width()))
		}
	}
	return b.String()
}

// Render lays out and renders the rows in one step.
func Render(g *grid.Grid, rowIdx []int) string {
	return Layout(g, rowIdx).Markdown()
}

// EscapeCell escapes pipes and removes line breaks so a value stays on one
// markdown line.
func EscapeCell(text string) string {
	text = strings.ReplaceAll(text, "|", `\|`)
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.ReplaceAll(text, "\r", "")
}

// IsDivider reports whether line is a rendered header divider.
func IsDivider(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "|") || !strings.HasSuffix(line, "|") || len(line) < 2 {
		return false
	}
	parts := strings.Split(strings.Trim(line, "|"), "|")
	for _, p := range parts {
		if strings.TrimSpace(p) != DividerCell {
			return false
		}
	}
	return true
}

// IsTableLine reports whether line is a pipe-delimited table row.
func IsTableLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "|")
}

// ContainsDivider reports whether text holds at least one divider line.
func ContainsDivider(text string) bool {
	if !strings.Contains(text, "| "+DividerCell) {
		return false
	}
	for _, line := range strings.Split(text, "\n") {
		if IsDivider(line) {
			return true
		}
	}
	return false
}

func divider(width int) []string {
	cells := make([]string, width)
	for i := range cells {
		cells[i] = DividerCell
	}
	return cells
}

func writeLine(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |\n")
}

// ParseRow splits a rendered table line into trimmed cell values. Escaped
// pipes are kept as literal pipes inside a cell.
func ParseRow(line string) []string {
	line = strings.TrimSpace(line)
	if !IsTableLine(line) {
		return nil
	}
	var (
		cells []string
		cur   strings.Builder
	)
	for i := 1; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line) && line[i+1] == '|':
			cur.WriteByte('|')
			i++
		case line[i] == '|':
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(line[i])
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		cells = append(cells, rest)
	}
	return cells
}
