// Package ingest turns spreadsheet grids into markdown chunks.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/vinodismyname/xlsxctx/internal/content"
	"github.com/vinodismyname/xlsxctx/internal/grid"
	"github.com/vinodismyname/xlsxctx/internal/tables"
)

// FallbackLabel names the chunk produced when a sheet has no detectable header.
const FallbackLabel = "Data"

// Chunk is one extracted table and its classification. Chunks are immutable
// once built.
type Chunk struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	Source          string    `json:"source"`
	Sheet           string    `json:"sheet,omitempty"`
	Label           string    `json:"label"`
	Index           int       `json:"index"`
	ColumnHeaders   []string  `json:"columnHeaders"`
	RowCount        int       `json:"rowCount"`
	HasNumericData  bool      `json:"hasNumericData"`
	HasCurrencyData bool      `json:"hasCurrencyData"`
	HasDateData     bool      `json:"hasDateData"`
	SessionID       string    `json:"sessionId,omitempty"`
	UploadedAt      time.Time `json:"uploadedAt"`
}

// Options controls numbering and ownership of the chunks built from a grid.
type Options struct {
	SessionID string
	Sheet     string
	// FirstIndex is the ordinal given to the first chunk; ordinals are
	// unique within a session.
	FirstIndex int
	// FirstTable numbers "Table N" labels; zero means 1.
	FirstTable int
	Clock      func() time.Time
}

// Ingest detects the tables in g and renders each as a chunk. A sheet with no
// rows, or whose fallback region holds no cells, yields no chunks.
func Ingest(g *grid.Grid, source string, opts Options) []Chunk {
	return opts.build(source, extract(g))
}

// extracted is a laid-out table waiting for its number.
type extracted struct {
	table    tables.Table
	fallback bool
}

func extract(g *grid.Grid) []extracted {
	if g.Len() == 0 {
		return nil
	}
	var out []extracted
	for _, region := range tables.Detect(g) {
		t := tables.Layout(g, region.Rows)
		if len(t.Cells) == 0 {
			continue
		}
		out = append(out, extracted{table: t, fallback: region.Fallback})
	}
	return out
}

func (o Options) build(source string, ex []extracted) []Chunk {
	if len(ex) == 0 {
		return nil
	}
	clock := o.Clock
	if clock == nil {
		clock = time.Now
	}
	uploaded := clock()
	tableNo := max(o.FirstTable, 1)

	chunks := make([]Chunk, 0, len(ex))
	for _, e := range ex {
		label := FallbackLabel
		if !e.fallback {
			label = fmt.Sprintf("Table %d", tableNo)
			tableNo++
		}
		idx := o.FirstIndex + len(chunks)
		c := newChunk(e.table, source, label)
		c.ID = chunkID(o.SessionID, source, idx)
		c.Index = idx
		c.Sheet = o.Sheet
		c.SessionID = o.SessionID
		c.UploadedAt = uploaded
		chunks = append(chunks, c)
	}
	return chunks
}

func newChunk(t tables.Table, source, label string) Chunk {
	var flags content.Flags
	for _, row := range t.Cells {
		for _, v := range row {
			flags = flags.Merge(content.Classify(v))
		}
	}

	var headers []string
	for _, h := range t.Header() {
		if strings.TrimSpace(h) != "" {
			headers = append(headers, tables.EscapeCell(h))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s - %s\n\n", label, source)
	b.WriteString(t.Markdown())

	return Chunk{
		Content:         b.String(),
		Source:          source,
		Label:           label,
		ColumnHeaders:   headers,
		RowCount:        len(t.Cells) - 1,
		HasNumericData:  flags.Numeric,
		HasCurrencyData: flags.Currency,
		HasDateData:     flags.Date,
	}
}

func chunkID(sessionID, source string, idx int) string {
	owner := sessionID
	if owner == "" {
		owner = source
	}
	return fmt.Sprintf("%s-%d", owner, idx)
}

// Renumber returns copies of chunks owned by sessionID with ordinals starting
// at first.
func Renumber(chunks []Chunk, sessionID string, first int) []Chunk {
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.Index = first + i
		c.SessionID = sessionID
		c.ID = chunkID(sessionID, c.Source, c.Index)
		out[i] = c
	}
	return out
}
