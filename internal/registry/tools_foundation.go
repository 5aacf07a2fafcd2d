package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/xlsxctx/internal/chat"
	"github.com/vinodismyname/xlsxctx/internal/ingest"
	"github.com/vinodismyname/xlsxctx/internal/optimizer"
	"github.com/vinodismyname/xlsxctx/internal/relevance"
	"github.com/vinodismyname/xlsxctx/internal/runtime"
	"github.com/vinodismyname/xlsxctx/internal/security"
	"github.com/vinodismyname/xlsxctx/internal/session"
	"github.com/vinodismyname/xlsxctx/internal/tokens"
	"github.com/vinodismyname/xlsxctx/internal/workbooks"
	"github.com/vinodismyname/xlsxctx/pkg/mcperr"
	"github.com/vinodismyname/xlsxctx/pkg/pagination"
	"github.com/vinodismyname/xlsxctx/pkg/validation"
)

// Deps are the collaborators tool handlers call into.
type Deps struct {
	Sessions       *session.Store
	Ingester       *ingest.Ingester
	Optimizer      *optimizer.Optimizer
	Assistant      *chat.Assistant
	Limits         runtime.Limits
	Logger         zerolog.Logger
	AllowMutations bool
}

// Tools implements the MCP tool handlers.
type Tools struct {
	Deps
}

// NewTools binds handlers to their collaborators.
func NewTools(d Deps) *Tools {
	return &Tools{Deps: d}
}

// --- Input / Output Schemas (typed for discovery) ---

// IngestWorkbookInput defines parameters for ingesting a workbook.
type IngestWorkbookInput struct {
	Path      string `json:"path" jsonschema:"required" jsonschema_description:"Absolute or allowed path to an Excel workbook" validate:"required,filepath_ext"`
	SessionID string `json:"session_id,omitempty" jsonschema_description:"Existing session to add the workbook to; omit to start a new session" validate:"omitempty,session_id"`
}

// IngestWorkbookOutput documents the response fields for ingest_workbook.
type IngestWorkbookOutput struct {
	SessionID  string   `json:"session_id" jsonschema_description:"Session holding the workbook"`
	Source     string   `json:"source" jsonschema_description:"File name used in chunk headings"`
	Sheets     []string `json:"sheets" jsonschema_description:"Sheets in workbook order"`
	Chunks     int      `json:"chunks" jsonschema_description:"Tables extracted"`
	Tokens     int      `json:"tokens" jsonschema_description:"Estimated tokens of the file's markdown"`
	Duplicate  bool     `json:"duplicate" jsonschema_description:"True when this path was already ingested into the session"`
	NewSession bool     `json:"new_session" jsonschema_description:"True when a session was created for this call"`
}

// SessionInput identifies a session.
type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"required" jsonschema_description:"Session ID returned by ingest_workbook" validate:"required,session_id"`
}

// RemoveFileInput identifies one uploaded file.
type RemoveFileInput struct {
	SessionID string `json:"session_id" jsonschema:"required" jsonschema_description:"Session ID" validate:"required,session_id"`
	Source    string `json:"source" jsonschema:"required" jsonschema_description:"File name as reported by session_status" validate:"required"`
}

// ClearSessionInput selects what to forget.
type ClearSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"required" jsonschema_description:"Session ID" validate:"required,session_id"`
	Scope     string `json:"scope,omitempty" jsonschema:"enum=history,enum=all" jsonschema_description:"history keeps files; all also drops files" validate:"omitempty,oneof=history all"`
}

// SuccessOutput reports a completed mutation.
type SuccessOutput struct {
	Success bool `json:"success" jsonschema_description:"True when the operation completed"`
}

// ListChunksInput defines parameters for paging through extracted tables.
type ListChunksInput struct {
	SessionID      string `json:"session_id,omitempty" jsonschema_description:"Session ID; may be omitted when cursor is supplied" validate:"required_without=Cursor,session_id"`
	Source         string `json:"source,omitempty" jsonschema_description:"Only chunks from this file"`
	Query          string `json:"query,omitempty" jsonschema_description:"Only chunks relevant to this question, best first"`
	NumericOnly    bool   `json:"numeric_only,omitempty" jsonschema_description:"Only chunks containing numeric data"`
	CurrencyOnly   bool   `json:"currency_only,omitempty" jsonschema_description:"Only chunks containing currency values"`
	DateOnly       bool   `json:"date_only,omitempty" jsonschema_description:"Only chunks containing dates"`
	IncludeContent bool   `json:"include_content,omitempty" jsonschema_description:"Include chunk markdown"`
	Cursor         string `json:"cursor,omitempty" jsonschema_description:"Opaque cursor from a previous page" validate:"omitempty,cursor"`
	PageSize       int    `json:"page_size,omitempty" jsonschema_description:"Chunks per page" validate:"omitempty,min=1,max=100"`
}

// ChunkSummary describes one chunk.
type ChunkSummary struct {
	ID              string   `json:"id"`
	Index           int      `json:"index"`
	Source          string   `json:"source"`
	Sheet           string   `json:"sheet,omitempty"`
	Label           string   `json:"label"`
	ColumnHeaders   []string `json:"columnHeaders"`
	RowCount        int      `json:"rowCount"`
	HasNumericData  bool     `json:"hasNumericData"`
	HasCurrencyData bool     `json:"hasCurrencyData"`
	HasDateData     bool     `json:"hasDateData"`
	Tokens          int      `json:"tokens"`
	Score           float64  `json:"score,omitempty"`
	Content         string   `json:"content,omitempty"`
}

// PageMeta captures paging/truncation metadata.
type PageMeta struct {
	Total      int    `json:"total"`
	Returned   int    `json:"returned"`
	Truncated  bool   `json:"truncated"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListChunksOutput is one page of chunks.
type ListChunksOutput struct {
	SessionID string         `json:"session_id"`
	Chunks    []ChunkSummary `json:"chunks"`
	Meta      PageMeta       `json:"meta"`
}

// RegisterSessionTools wires ingestion, status, paging and mutation tools.
func RegisterSessionTools(s *server.MCPServer, reg *Registry, t *Tools) {
	ingestTool := mcp.NewTool(
		"ingest_workbook",
		mcp.WithDescription("Extract every table of an Excel workbook as markdown and add it to a session. Omit session_id to start a new session; reuse the returned session_id for later calls. Errors include PERMISSION_DENIED, UNSUPPORTED_FORMAT, OPEN_FAILED and EXTRACTION_FAILED."),
		mcp.WithInputSchema[IngestWorkbookInput](),
		mcp.WithOutputSchema[IngestWorkbookOutput](),
	)
	s.AddTool(ingestTool, mcp.NewTypedToolHandler(t.IngestWorkbook))
	reg.Register(ingestTool)

	statusTool := mcp.NewTool(
		"session_status",
		mcp.WithDescription("Report uploaded files, chunk counts, history length and token estimates for a session"),
		mcp.WithInputSchema[SessionInput](),
		mcp.WithOutputSchema[session.Status](),
	)
	s.AddTool(statusTool, mcp.NewTypedToolHandler(t.SessionStatus))
	reg.Register(statusTool)

	listTool := mcp.NewTool(
		"list_chunks",
		mcp.WithDescription(fmt.Sprintf("Page through extracted tables with optional file, relevance and content-type filters. Pages hold up to %d chunks by default; pass nextCursor to continue. Changing filters invalidates the cursor.", t.Limits.ChunkPageSize)),
		mcp.WithInputSchema[ListChunksInput](),
		mcp.WithOutputSchema[ListChunksOutput](),
	)
	s.AddTool(listTool, mcp.NewTypedToolHandler(t.ListChunks))
	reg.Register(listTool)

	removeTool := mcp.NewTool(
		"remove_file",
		mcp.WithDescription("Drop one uploaded file from a session"),
		mcp.WithInputSchema[RemoveFileInput](),
		mcp.WithOutputSchema[SuccessOutput](),
	)
	s.AddTool(removeTool, mcp.NewTypedToolHandler(t.RemoveFile))
	reg.Register(removeTool)

	clearTool := mcp.NewTool(
		"clear_session",
		mcp.WithDescription("Forget conversation history (scope=history, default) or history and files (scope=all)"),
		mcp.WithInputSchema[ClearSessionInput](),
		mcp.WithOutputSchema[SuccessOutput](),
	)
	s.AddTool(clearTool, mcp.NewTypedToolHandler(t.ClearSession))
	reg.Register(clearTool)

	endTool := mcp.NewTool(
		"end_session",
		mcp.WithDescription("Discard a session and everything it holds"),
		mcp.WithInputSchema[SessionInput](),
		mcp.WithOutputSchema[SuccessOutput](),
	)
	s.AddTool(endTool, mcp.NewTypedToolHandler(t.EndSession))
	reg.Register(endTool)
}

// IngestWorkbook handles ingest_workbook.
func (t *Tools) IngestWorkbook(ctx context.Context, _ mcp.CallToolRequest, in IngestWorkbookInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, created, err := t.Sessions.GetOrCreate(strings.TrimSpace(in.SessionID))
	if err != nil {
		return mcperr.New(mcperr.SessionNotFound, ""), nil
	}

	doc, err := t.Ingester.IngestFile(ctx, in.Path, ingest.Request{SessionID: sess.ID, FirstIndex: sess.NextIndex()})
	if err != nil {
		if created {
			_ = t.Sessions.End(sess.ID)
		}
		t.Logger.Warn().Err(err).Str("path", in.Path).Msg("ingest failed")
		return ingestError(err), nil
	}

	added := sess.AddDocument(doc)
	out := IngestWorkbookOutput{
		SessionID:  sess.ID,
		Source:     doc.Source,
		Sheets:     doc.Sheets,
		Chunks:     len(doc.Chunks),
		Tokens:     tokens.Estimate(doc.Markdown),
		Duplicate:  !added,
		NewSession: created,
	}
	summary := fmt.Sprintf("session=%s source=%s sheets=%d chunks=%d tokens=%d duplicate=%v", out.SessionID, out.Source, len(out.Sheets), out.Chunks, out.Tokens, out.Duplicate)
	return mcp.NewToolResultStructured(out, summary), nil
}

// ingestError maps ingestion failures onto catalog codes.
func ingestError(err error) *mcp.CallToolResult {
	var exErr *ingest.ExtractionError
	switch {
	case errors.Is(err, security.ErrNotAllowed):
		return mcperr.New(mcperr.PermissionDenied, "")
	case errors.Is(err, security.ErrUnsupportedExtension), errors.Is(err, workbooks.ErrUnsupportedFormat):
		return mcperr.New(mcperr.UnsupportedFormat, "")
	case errors.Is(err, security.ErrNotFound):
		return mcperr.New(mcperr.OpenFailed, "file not found")
	case errors.Is(err, context.DeadlineExceeded):
		return mcperr.New(mcperr.Timeout, "")
	case errors.As(err, &exErr):
		return mcperr.Wrapf(mcperr.ExtractionFailed, "%s", exErr.Error())
	}
	return mcperr.Wrapf(mcperr.OpenFailed, "%s", err.Error())
}

// lookup resolves a session or returns the tool error to send.
func (t *Tools) lookup(id string) (*session.Session, *mcp.CallToolResult) {
	sess, err := t.Sessions.Get(strings.TrimSpace(id))
	if err != nil {
		return nil, mcperr.New(mcperr.SessionNotFound, "")
	}
	return sess, nil
}

// SessionStatus handles session_status.
func (t *Tools) SessionStatus(ctx context.Context, _ mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, errRes := t.lookup(in.SessionID)
	if errRes != nil {
		return errRes, nil
	}
	st := sess.Status()
	summary := fmt.Sprintf("files=%d chunks=%d history=%d context_tokens=%d history_tokens=%d", len(st.Files), st.Chunks, st.HistoryMessages, st.ContextTokens, st.HistoryTokens)
	return mcp.NewToolResultStructured(st, summary), nil
}

// ListChunks handles list_chunks.
func (t *Tools) ListChunks(ctx context.Context, _ mcp.CallToolRequest, in ListChunksInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}

	filterHash := pagination.FilterHash(in.Source, in.Query, fmt.Sprint(in.NumericOnly, in.CurrencyOnly, in.DateOnly, in.IncludeContent))
	sessionID := strings.TrimSpace(in.SessionID)
	offset := 0
	pageSize := in.PageSize
	if in.Cursor != "" {
		cur, err := pagination.DecodeCursor(in.Cursor)
		if err != nil {
			return mcperr.New(mcperr.CursorInvalid, ""), nil
		}
		if (sessionID != "" && cur.Sid != sessionID) || cur.Fh != filterHash {
			return mcperr.New(mcperr.CursorInvalid, "cursor was issued for a different session or filter"), nil
		}
		sessionID, offset, pageSize = cur.Sid, cur.Off, cur.Ps
	}
	if pageSize <= 0 {
		pageSize = t.Limits.ChunkPageSize
	}

	sess, errRes := t.lookup(sessionID)
	if errRes != nil {
		return errRes, nil
	}

	all := t.filterChunks(sess.Chunks(), in)
	if offset > len(all) {
		return mcperr.New(mcperr.CursorInvalid, "cursor is past the end of the listing"), nil
	}

	page := all[offset:min(len(all), offset+pageSize)]
	out := ListChunksOutput{SessionID: sessionID, Chunks: make([]ChunkSummary, 0, len(page))}
	payload := 0
	for _, c := range page {
		payload += len(c.Content)
		if len(out.Chunks) > 0 && t.Limits.MaxPayloadBytes > 0 && payload > t.Limits.MaxPayloadBytes {
			break
		}
		if !in.IncludeContent {
			c.Content = ""
		}
		out.Chunks = append(out.Chunks, c)
	}

	next := pagination.NextOffset(offset, len(out.Chunks))
	out.Meta = PageMeta{Total: len(all), Returned: len(out.Chunks), Truncated: next < len(all)}
	if out.Meta.Truncated {
		tok, err := pagination.EncodeCursor(pagination.Cursor{Sid: sessionID, Off: next, Ps: pageSize, Fh: filterHash})
		if err != nil {
			return mcperr.New(mcperr.CursorBuildFailed, ""), nil
		}
		out.Meta.NextCursor = tok
	}

	summary := fmt.Sprintf("total=%d returned=%d truncated=%v", out.Meta.Total, out.Meta.Returned, out.Meta.Truncated)
	return mcp.NewToolResultStructured(out, summary), nil
}

// filterChunks applies list_chunks filters. Content is kept for payload
// accounting and stripped by the caller.
func (t *Tools) filterChunks(chunks []ingest.Chunk, in ListChunksInput) []ChunkSummary {
	var keywords []string
	if q := strings.TrimSpace(in.Query); q != "" {
		keywords = t.Optimizer.Vocabulary().Keywords(q)
	}

	sections := make([]string, 0, len(chunks))
	kept := make([]ingest.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if in.Source != "" && !strings.EqualFold(c.Source, in.Source) {
			continue
		}
		if (in.NumericOnly && !c.HasNumericData) || (in.CurrencyOnly && !c.HasCurrencyData) || (in.DateOnly && !c.HasDateData) {
			continue
		}
		kept = append(kept, c)
		sections = append(sections, c.Content)
	}

	if len(keywords) == 0 {
		out := make([]ChunkSummary, len(kept))
		for i, c := range kept {
			out[i] = summarizeChunk(c, 0)
		}
		return out
	}

	ranked := relevance.Rank(sections, keywords, 0)
	out := make([]ChunkSummary, len(ranked))
	for i, s := range ranked {
		out[i] = summarizeChunk(kept[s.Index], s.Score)
	}
	return out
}

func summarizeChunk(c ingest.Chunk, score float64) ChunkSummary {
	return ChunkSummary{
		ID:              c.ID,
		Index:           c.Index,
		Source:          c.Source,
		Sheet:           c.Sheet,
		Label:           c.Label,
		ColumnHeaders:   c.ColumnHeaders,
		RowCount:        c.RowCount,
		HasNumericData:  c.HasNumericData,
		HasCurrencyData: c.HasCurrencyData,
		HasDateData:     c.HasDateData,
		Tokens:          tokens.Estimate(c.Content),
		Score:           score,
		Content:         c.Content,
	}
}

func (t *Tools) mutationsDisabled() *mcp.CallToolResult {
	if t.AllowMutations {
		return nil
	}
	return mcperr.New(mcperr.PermissionDenied, "mutating tools are disabled; set enable_mutations")
}

// RemoveFile handles remove_file.
func (t *Tools) RemoveFile(ctx context.Context, _ mcp.CallToolRequest, in RemoveFileInput) (*mcp.CallToolResult, error) {
	if res := t.mutationsDisabled(); res != nil {
		return res, nil
	}
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, errRes := t.lookup(in.SessionID)
	if errRes != nil {
		return errRes, nil
	}
	if err := sess.RemoveFile(in.Source); err != nil {
		return mcperr.New(mcperr.FileNotFound, ""), nil
	}
	return mcp.NewToolResultStructured(SuccessOutput{Success: true}, "removed "+in.Source), nil
}

// ClearSession handles clear_session.
func (t *Tools) ClearSession(ctx context.Context, _ mcp.CallToolRequest, in ClearSessionInput) (*mcp.CallToolResult, error) {
	if res := t.mutationsDisabled(); res != nil {
		return res, nil
	}
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, errRes := t.lookup(in.SessionID)
	if errRes != nil {
		return errRes, nil
	}
	if in.Scope == "all" {
		sess.ClearAll()
		return mcp.NewToolResultStructured(SuccessOutput{Success: true}, "cleared files and history"), nil
	}
	sess.ClearHistory()
	return mcp.NewToolResultStructured(SuccessOutput{Success: true}, "cleared history"), nil
}

// EndSession handles end_session.
func (t *Tools) EndSession(ctx context.Context, _ mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, error) {
	if res := t.mutationsDisabled(); res != nil {
		return res, nil
	}
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if err := t.Sessions.End(strings.TrimSpace(in.SessionID)); err != nil {
		return mcperr.New(mcperr.SessionNotFound, ""), nil
	}
	return mcp.NewToolResultStructured(SuccessOutput{Success: true}, "session ended"), nil
}
