package optimizer

import (
	"fmt"
	"strings"

	"github.com/vinodismyname/xlsxctx/internal/content"
	"github.com/vinodismyname/xlsxctx/internal/relevance"
	"github.com/vinodismyname/xlsxctx/internal/tables"
	"github.com/vinodismyname/xlsxctx/internal/tokens"
)

const (
	digestFill        = 0.8
	digestSampleRows  = 5
	digestHeaderNames = 5
	numericShare      = 0.3
	querySections     = 3
	unknownFile       = "Unknown File"
)

// Digest renders a structured overview of every file in context: its
// heading, table count, and per table the row and column counts, up to five
// header names and the value patterns seen in its first five data rows. It
// stops adding files once the digest passes 80% of maxTokens.
func Digest(context string, maxTokens int) string {
	var b strings.Builder
	b.WriteString("# Excel Data Summary\n\n")
	b.WriteString("*This is a summary of your Excel data. Some details may be omitted due to size constraints.*\n\n")

	limit := float64(maxTokens) * digestFill
	for _, file := range relevance.SplitFiles(context) {
		b.WriteString(summarizeFile(file))
		b.WriteString("\n")
		if float64(tokens.Estimate(b.String())) > limit {
			b.WriteString("*[Additional files omitted due to size constraints]*\n")
			break
		}
	}
	return b.String()
}

func summarizeFile(file string) string {
	name := unknownFile
	for _, line := range strings.Split(file, "\n") {
		if strings.HasPrefix(line, "# ") {
			name = line[2:]
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", name)

	blocks := tableBlocks(file)
	if len(blocks) == 0 {
		b.WriteString("*No structured tables detected*\n")
		return b.String()
	}
	fmt.Fprintf(&b, "**Contains %d table(s):**\n", len(blocks))
	for i, block := range blocks {
		b.WriteString(summarizeTable(block, i+1))
		b.WriteString("\n")
	}
	return b.String()
}

// tableBlocks groups consecutive table lines.
func tableBlocks(text string) [][]string {
	var (
		blocks [][]string
		cur    []string
	)
	for _, line := range strings.Split(text, "\n") {
		if tables.IsTableLine(line) {
			cur = append(cur, line)
			continue
		}
		if len(cur) > 0 {
			blocks = append(blocks, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

func summarizeTable(lines []string, n int) string {
	if len(lines) < 2 {
		return fmt.Sprintf("- **Table %d**: Empty or invalid table", n)
	}

	var rows [][]string
	for _, line := range lines {
		if !tables.IsDivider(line) {
			rows = append(rows, tables.ParseRow(line))
		}
	}
	if len(rows) == 0 {
		return fmt.Sprintf("- **Table %d**: %d rows (structure unclear)", n, len(lines))
	}

	var headers []string
	for _, h := range rows[0] {
		if strings.TrimSpace(h) != "" {
			headers = append(headers, h)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "- **Table %d**: %d rows, %d columns", n, len(rows)-1, len(headers))
	if len(headers) > 0 {
		shown := headers[:min(len(headers), digestHeaderNames)]
		more := ""
		if len(headers) > digestHeaderNames {
			more = "..."
		}
		fmt.Fprintf(&b, " (%s%s)", strings.Join(shown, ", "), more)
	}
	if patterns := samplePatterns(rows[1:]); len(patterns) > 0 {
		fmt.Fprintf(&b, "\n  - Contains: %s", strings.Join(patterns, ", "))
	}
	return b.String()
}

// samplePatterns classifies the first data rows. Numeric data is reported when
// numeric cells outnumber 30% of the widest sampled row.
func samplePatterns(data [][]string) []string {
	if len(data) == 0 {
		return nil
	}
	var (
		flags    content.Flags
		numeric  int
		maxWidth int
	)
	for _, row := range data[:min(len(data), digestSampleRows)] {
		maxWidth = max(maxWidth, len(row))
		for _, cell := range row {
			f := content.Classify(cell)
			if f.Numeric {
				numeric++
			}
			flags = flags.Merge(content.Flags{Currency: content.HasCurrencySymbol(cell), Percentage: f.Percentage, Date: f.Date})
		}
	}
	flags.Numeric = float64(numeric) > float64(maxWidth)*numericShare
	return flags.Describe()
}

// QuerySummary builds a query-scoped view: the three best sections (file and
// table level, scored with the summary bonus) followed by a note counting the
// sections left out. Sections stop being added once 80% of maxTokens is used.
func (o *Optimizer) QuerySummary(context, query string, maxTokens int) string {
	keywords := o.vocab.Keywords(query)
	ranked := relevance.Rank(relevance.SplitSections(context), keywords, relevance.SummaryBonus)

	var b strings.Builder
	b.WriteString("# Relevant Excel Data\n\n")
	fmt.Fprintf(&b, "*Data filtered based on your query: \"%s\"*\n\n", query)

	limit := float64(maxTokens) * digestFill
	for _, s := range ranked[:min(len(ranked), querySections)] {
		if float64(tokens.Estimate(b.String())) > limit {
			break
		}
		b.WriteString(s.Section)
		b.WriteString("\n\n")
	}
	if len(ranked) > querySections {
		fmt.Fprintf(&b, "*[%d additional sections available - ask more specific questions to access them]*\n", len(ranked)-querySections)
	}

	o.logger.Debug().
		Int("keywords", len(keywords)).
		Int("sections", len(ranked)).
		Msg("query summary built")
	return b.String()
}
