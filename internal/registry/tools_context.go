package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vinodismyname/xlsxctx/internal/chat"
	"github.com/vinodismyname/xlsxctx/internal/optimizer"
	"github.com/vinodismyname/xlsxctx/internal/tokens"
	"github.com/vinodismyname/xlsxctx/pkg/mcperr"
	"github.com/vinodismyname/xlsxctx/pkg/validation"
)

// OptimizeContextInput defines parameters for budget optimization.
type OptimizeContextInput struct {
	SessionID     string `json:"session_id" jsonschema:"required" jsonschema_description:"Session ID" validate:"required,session_id"`
	Message       string `json:"message" jsonschema:"required" jsonschema_description:"The question the context is being prepared for" validate:"required"`
	Model         string `json:"model,omitempty" jsonschema_description:"Model identifier used to resolve the token limit; defaults to the configured model"`
	ReserveTokens int    `json:"reserve_tokens,omitempty" jsonschema_description:"Tokens held back for the response" validate:"omitempty,min=1"`
}

// OptimizeContextOutput carries the prompt a client can send to its own model.
type OptimizeContextOutput struct {
	SessionID    string           `json:"session_id"`
	SystemPrompt string           `json:"systemPrompt" jsonschema_description:"Instructions followed by the optimized data context"`
	Result       optimizer.Result `json:"optimization"`
}

// SummarizeContextInput defines parameters for digest and query summaries.
type SummarizeContextInput struct {
	SessionID string `json:"session_id" jsonschema:"required" jsonschema_description:"Session ID" validate:"required,session_id"`
	Query     string `json:"query,omitempty" jsonschema_description:"Focus the summary on sections relevant to this question"`
	MaxTokens int    `json:"max_tokens,omitempty" jsonschema_description:"Approximate token cap for the summary" validate:"omitempty,min=50"`
}

// SummarizeContextOutput is a structural or query-scoped summary.
type SummarizeContextOutput struct {
	SessionID string `json:"session_id"`
	Summary   string `json:"summary"`
	Tokens    int    `json:"tokens"`
}

// AskInput is a question for the configured completion model.
type AskInput struct {
	SessionID string `json:"session_id" jsonschema:"required" jsonschema_description:"Session ID" validate:"required,session_id"`
	Message   string `json:"message" jsonschema:"required" jsonschema_description:"Question about the uploaded workbooks" validate:"required"`
}

// RegisterContextTools wires optimization, summary and completion tools. ask
// is only registered when a completion model is configured.
func RegisterContextTools(s *server.MCPServer, reg *Registry, t *Tools) {
	optimizeTool := mcp.NewTool(
		"optimize_context",
		mcp.WithDescription("Fit a session's spreadsheet markdown and history into the model's token budget for one question. Escalates through pass-through, relevant sections, table compression and a structural digest; returns the system prompt with the chosen context."),
		mcp.WithInputSchema[OptimizeContextInput](),
		mcp.WithOutputSchema[OptimizeContextOutput](),
	)
	s.AddTool(optimizeTool, mcp.NewTypedToolHandler(t.OptimizeContext))
	reg.Register(optimizeTool)

	summarizeTool := mcp.NewTool(
		"summarize_context",
		mcp.WithDescription("Summarize a session's tables: a structural digest without query, or the most relevant sections for a query"),
		mcp.WithInputSchema[SummarizeContextInput](),
		mcp.WithOutputSchema[SummarizeContextOutput](),
	)
	s.AddTool(summarizeTool, mcp.NewTypedToolHandler(t.SummarizeContext))
	reg.Register(summarizeTool)

	reportTool := mcp.NewTool(
		"token_report",
		mcp.WithDescription(fmt.Sprintf("Estimate context, history and total tokens for a sample question (%q) and whether compression would apply", chat.ProbeQuery)),
		mcp.WithInputSchema[SessionInput](),
		mcp.WithOutputSchema[chat.Report](),
	)
	s.AddTool(reportTool, mcp.NewTypedToolHandler(t.TokenReport))
	reg.Register(reportTool)

	if t.Assistant == nil || !t.Assistant.HasModel() {
		return
	}
	askTool := mcp.NewTool(
		"ask",
		mcp.WithDescription("Answer a question about the session's workbooks with the configured model. The exchange is added to the session history."),
		mcp.WithInputSchema[AskInput](),
		mcp.WithOutputSchema[chat.Answer](),
	)
	s.AddTool(askTool, mcp.NewTypedToolHandler(t.Ask))
	reg.Register(askTool)
}

// OptimizeContext handles optimize_context.
func (t *Tools) OptimizeContext(ctx context.Context, _ mcp.CallToolRequest, in OptimizeContextInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, errRes := t.lookup(in.SessionID)
	if errRes != nil {
		return errRes, nil
	}
	model := in.Model
	if model == "" {
		model = t.Assistant.ModelName()
	}

	res := t.Optimizer.Optimize(optimizer.Request{
		Message:       in.Message,
		Context:       sess.CombinedContext(),
		History:       sess.History(),
		Model:         model,
		ReserveTokens: in.ReserveTokens,
	})
	out := OptimizeContextOutput{
		SessionID:    sess.ID,
		SystemPrompt: chat.SystemPrompt(t.Optimizer.SystemPrompt(), res.Context, res.CompressionApplied),
		Result:       res,
	}
	if t.Limits.MaxPayloadBytes > 0 && len(out.SystemPrompt)+len(res.Context) > t.Limits.MaxPayloadBytes {
		return mcperr.Wrapf(mcperr.PayloadTooLarge, "optimized context is %d bytes", len(out.SystemPrompt)+len(res.Context)), nil
	}
	return mcp.NewToolResultStructured(out, out.SystemPrompt), nil
}

// SummarizeContext handles summarize_context.
func (t *Tools) SummarizeContext(ctx context.Context, _ mcp.CallToolRequest, in SummarizeContextInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, errRes := t.lookup(in.SessionID)
	if errRes != nil {
		return errRes, nil
	}
	if !sess.HasFiles() {
		return mcperr.New(mcperr.FileNotFound, "no files uploaded to this session"), nil
	}

	var summary string
	switch {
	case in.Query != "" && in.MaxTokens == 0:
		summary = t.Assistant.Explain(sess, in.Query)
	case in.Query != "":
		summary = t.Optimizer.QuerySummary(sess.CombinedContext(), in.Query, in.MaxTokens)
	default:
		maxTokens := in.MaxTokens
		if maxTokens == 0 {
			maxTokens = t.Optimizer.TokenLimit(t.Assistant.ModelName()) / 2
		}
		summary = optimizer.Digest(sess.CombinedContext(), maxTokens)
	}
	out := SummarizeContextOutput{SessionID: sess.ID, Summary: summary, Tokens: tokens.Estimate(summary)}
	return mcp.NewToolResultStructured(out, summary), nil
}

// TokenReport handles token_report.
func (t *Tools) TokenReport(ctx context.Context, _ mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, errRes := t.lookup(in.SessionID)
	if errRes != nil {
		return errRes, nil
	}
	r := t.Assistant.TokenReport(sess)
	summary := fmt.Sprintf("context=%d history=%d limit=%d estimated=%d compression=%v", r.ContextTokens, r.HistoryTokens, r.TokenLimit, r.EstimatedTotal, r.CompressionApplied)
	return mcp.NewToolResultStructured(r, summary), nil
}

// Ask handles ask.
func (t *Tools) Ask(ctx context.Context, _ mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, errRes := t.lookup(in.SessionID)
	if errRes != nil {
		return errRes, nil
	}
	ans, err := t.Assistant.Reply(ctx, sess, in.Message)
	switch {
	case errors.Is(err, chat.ErrNoModel):
		return mcperr.New(mcperr.ModelUnavailable, ""), nil
	case errors.Is(err, chat.ErrNoResponseBudget):
		return mcperr.New(mcperr.LimitExceeded, "no tokens left for a response; clear history or ask a narrower question"), nil
	case errors.Is(err, context.DeadlineExceeded):
		return mcperr.New(mcperr.Timeout, ""), nil
	case err != nil:
		t.Logger.Error().Err(err).Str("session_id", sess.ID).Msg("completion failed")
		return mcperr.Wrapf(mcperr.CompletionFailed, "%s", err.Error()), nil
	}
	// The optimized context can be large; the answer is what clients need.
	ans.Result.Context = ""
	return mcp.NewToolResultStructured(ans, ans.Text), nil
}
