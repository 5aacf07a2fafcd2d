package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vinodismyname/xlsxctx/config"
	"github.com/vinodismyname/xlsxctx/internal/grid"
	"github.com/vinodismyname/xlsxctx/internal/telemetry"
	"github.com/vinodismyname/xlsxctx/internal/workbooks"
)

// Request carries the ownership of the chunks an ingestion produces.
type Request struct {
	SessionID  string
	FirstIndex int
}

// Ingester reads workbooks through a workbooks.Manager and builds Documents.
type Ingester struct {
	mgr      *workbooks.Manager
	parallel int
	logger   zerolog.Logger
	clock    func() time.Time
}

// IngesterOption customizes an Ingester.
type IngesterOption func(*Ingester)

// WithParallelSheets bounds how many sheets are laid out concurrently.
func WithParallelSheets(n int) IngesterOption {
	return func(in *Ingester) {
		if n > 0 {
			in.parallel = n
		}
	}
}

// WithLogger sets the ingestion logger.
func WithLogger(l zerolog.Logger) IngesterOption {
	return func(in *Ingester) { in.logger = l }
}

// WithClock injects the upload timestamp source.
func WithClock(clock func() time.Time) IngesterOption {
	return func(in *Ingester) {
		if clock != nil {
			in.clock = clock
		}
	}
}

// NewIngester constructs an Ingester over mgr.
func NewIngester(mgr *workbooks.Manager, opts ...IngesterOption) *Ingester {
	in := &Ingester{
		mgr:      mgr,
		parallel: config.DefaultMaxParallelSheets,
		logger:   zerolog.Nop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IngestFile opens the workbook at path and ingests every sheet. Failures to
// parse the workbook are returned as *ExtractionError; allow-list and format
// rejections are returned unchanged.
func (in *Ingester) IngestFile(ctx context.Context, path string, req Request) (Document, error) {
	source := filepath.Base(path)
	defer telemetry.LogDuration(in.logger.With().Str("source", source).Logger(), "ingest_file", time.Now())
	id, err := in.mgr.Open(ctx, path)
	if err != nil {
		if errors.Is(err, workbooks.ErrOpenFailed) {
			return Document{}, &ExtractionError{Source: source, Err: err}
		}
		return Document{}, fmt.Errorf("ingest: %s: %w", source, err)
	}
	return in.ingestHandle(ctx, id, req)
}

// IngestReader ingests a workbook read from r under the given source name.
func (in *Ingester) IngestReader(ctx context.Context, r io.Reader, source string, req Request) (Document, error) {
	id, err := in.mgr.OpenReader(ctx, r, source)
	if err != nil {
		if errors.Is(err, workbooks.ErrOpenFailed) {
			return Document{}, &ExtractionError{Source: source, Err: err}
		}
		return Document{}, fmt.Errorf("ingest: %s: %w", source, err)
	}
	return in.ingestHandle(ctx, id, req)
}

func (in *Ingester) ingestHandle(ctx context.Context, id string, req Request) (Document, error) {
	var doc Document
	err := in.mgr.WithRead(id, func(h *workbooks.Handle) error {
		var err error
		doc, err = in.ingestWorkbook(ctx, h, req)
		return err
	})
	if closeErr := in.mgr.CloseHandle(id); closeErr != nil {
		in.logger.Warn().Err(closeErr).Str("handle", id).Msg("workbook close failed")
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// ingestWorkbook streams sheets sequentially from the shared file, then lays
// out tables in parallel. Chunk numbering follows sheet order.
func (in *Ingester) ingestWorkbook(ctx context.Context, h *workbooks.Handle, req Request) (Document, error) {
	sheets := h.File.GetSheetList()
	if len(sheets) == 0 {
		return Document{}, &ExtractionError{Source: h.Source, Err: errors.New("workbook has no sheets")}
	}

	grids := make([]*grid.Grid, len(sheets))
	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		g, err := grid.LoadSheet(h.File, sheet)
		if err != nil {
			return Document{}, &ExtractionError{Source: h.Source, Sheet: sheet, Err: err}
		}
		grids[i] = g
	}

	results := make([][]extracted, len(sheets))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(in.parallel)
	for i := range grids {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			results[i] = extract(grids[i])
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Document{}, err
	}

	var chunks []Chunk
	tableNo := 1
	for i, sheet := range sheets {
		opts := Options{
			SessionID:  req.SessionID,
			Sheet:      sheet,
			FirstIndex: req.FirstIndex + len(chunks),
			FirstTable: tableNo,
			Clock:      in.clock,
		}
		built := opts.build(h.Source, results[i])
		for _, c := range built {
			if c.Label != FallbackLabel {
				tableNo++
			}
		}
		if len(built) == 0 {
			in.logger.Warn().Str("source", h.Source).Str("sheet", sheet).Msg("sheet has no extractable data")
		} else {
			in.logger.Info().Str("source", h.Source).Str("sheet", sheet).Int("chunks", len(built)).Msg("sheet ingested")
		}
		chunks = append(chunks, built...)
	}

	doc := NewDocument(h.Source, chunks)
	doc.Sheets = sheets
	doc.Path = h.Path
	return doc, nil
}
