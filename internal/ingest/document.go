package ingest

import (
	"fmt"
	"strings"
)

// Document is the rendered markdown for one uploaded file plus its chunks.
type Document struct {
	Source   string   `json:"source"`
	Path     string   `json:"path,omitempty"`
	Sheets   []string `json:"sheets"`
	Chunks   []Chunk  `json:"chunks"`
	Markdown string   `json:"markdown"`
}

// Heading is the first line of every rendered document.
func Heading(source string) string {
	return fmt.Sprintf("# Financial Data from %s", source)
}

// NewDocument renders chunks under the file heading.
func NewDocument(source string, chunks []Chunk) Document {
	var b strings.Builder
	b.WriteString(Heading(source))
	b.WriteString("\n\n")
	for _, c := range chunks {
		b.WriteString(c.Content)
		b.WriteString("\n")
	}
	return Document{Source: source, Chunks: chunks, Markdown: b.String()}
}

// ExtractionError reports that a workbook could not be turned into a grid.
type ExtractionError struct {
	Source string
	Sheet  string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Sheet != "" {
		return fmt.Sprintf("ingest: extract %s (sheet %q): %v", e.Source, e.Sheet, e.Err)
	}
	return fmt.Sprintf("ingest: extract %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
