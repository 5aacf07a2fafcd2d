// Package chat sends optimized spreadsheet context to a completion model.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/vinodismyname/xlsxctx/config"
	"github.com/vinodismyname/xlsxctx/internal/optimizer"
	"github.com/vinodismyname/xlsxctx/internal/session"
	"github.com/vinodismyname/xlsxctx/internal/tokens"
)

const (
	// NoFilesReply answers questions asked before any upload.
	NoFilesReply = "Please upload at least one Excel file before asking questions."
	// EmptyReply is used when the model returns no choices.
	EmptyReply = "I'm sorry, I couldn't generate a response."
	// CompressionNote is appended to replies built from compressed context.
	CompressionNote = "\n\n*Note: Due to the large amount of data, some Excel content may have been compressed or filtered to focus on the most relevant information for your query.*"
	// ProbeQuery is the sample question used for token reports.
	ProbeQuery = "What is the total revenue?"

	responseMargin = 100
)

var (
	// ErrNoModel is returned by Reply when no completion model is configured.
	ErrNoModel = errors.New("chat: no completion model configured")
	// ErrNoResponseBudget means the prompt leaves no tokens for an answer.
	ErrNoResponseBudget = errors.New("chat: no token budget left for a response")
)

// Config tunes completion requests.
type Config struct {
	ModelName          string
	Temperature        float64
	MaxResponseTokens  int
	MaxHistoryMessages int
	SummaryTokens      int
}

// FromConfig derives a chat Config from process configuration.
func FromConfig(cfg config.Config) Config {
	return Config{
		ModelName:          cfg.Model,
		Temperature:        cfg.Temperature,
		MaxResponseTokens:  cfg.MaxResponseTokens,
		MaxHistoryMessages: cfg.MaxHistoryMessages,
		SummaryTokens:      cfg.SummaryTokens,
	}
}

// Assistant answers questions about a session's spreadsheets.
type Assistant struct {
	model  llms.Model
	opt    *optimizer.Optimizer
	cfg    Config
	logger zerolog.Logger
}

// New constructs an Assistant. model may be nil, in which case only the
// token report and query summaries are available.
func New(model llms.Model, opt *optimizer.Optimizer, cfg Config, logger zerolog.Logger) *Assistant {
	if cfg.ModelName == "" {
		cfg.ModelName = config.DefaultModel
	}
	if cfg.MaxResponseTokens <= 0 {
		cfg.MaxResponseTokens = config.DefaultMaxResponseTokens
	}
	if cfg.MaxHistoryMessages < 0 {
		cfg.MaxHistoryMessages = 0
	}
	if cfg.SummaryTokens <= 0 {
		cfg.SummaryTokens = config.DefaultSummaryTokens
	}
	return &Assistant{model: model, opt: opt, cfg: cfg, logger: logger}
}

// HasModel reports whether Reply can reach a completion model.
func (a *Assistant) HasModel() bool { return a.model != nil }

// ModelName is the model identifier used for budgeting.
func (a *Assistant) ModelName() string { return a.cfg.ModelName }

// Answer is a model reply with the optimization it was built from.
type Answer struct {
	Text      string           `json:"text"`
	MaxTokens int              `json:"maxTokens"`
	Result    optimizer.Result `json:"optimization"`
}

// Reply optimizes the session context for message, asks the model and records
// the exchange in the session history.
func (a *Assistant) Reply(ctx context.Context, sess *session.Session, message string) (Answer, error) {
	if !sess.HasFiles() {
		return Answer{Text: NoFilesReply}, nil
	}
	if a.model == nil {
		return Answer{}, ErrNoModel
	}

	history := sess.History()
	res := a.opt.Optimize(optimizer.Request{
		Message: message,
		Context: sess.CombinedContext(),
		History: history,
		Model:   a.cfg.ModelName,
	})

	maxTokens := ResponseBudget(res, a.cfg.MaxResponseTokens)
	if maxTokens <= 0 {
		return Answer{Result: res}, ErrNoResponseBudget
	}

	recent := res.History
	if n := a.cfg.MaxHistoryMessages; len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	offset := len(history) - len(recent)
	messages := BuildMessages(SystemPrompt(a.opt.SystemPrompt(), res.Context, res.CompressionApplied), recent, offset, message)

	if res.CompressionApplied {
		a.logger.Info().
			Int("estimated_tokens", res.EstimatedTotalTokens).
			Int("token_limit", res.TokenLimit).
			Str("strategy", res.Strategy).
			Msg("context compressed")
	}
	a.logger.Debug().Int("messages", len(messages)).Int("max_tokens", maxTokens).Msg("sending completion request")

	resp, err := a.model.GenerateContent(ctx, messages,
		llms.WithTemperature(a.cfg.Temperature),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return Answer{Result: res}, fmt.Errorf("chat: completion: %w", err)
	}

	text := EmptyReply
	if resp != nil && len(resp.Choices) > 0 && resp.Choices[0].Content != "" {
		text = resp.Choices[0].Content
	}
	if res.CompressionApplied {
		text += CompressionNote
	}
	sess.AppendExchange(message, text)

	return Answer{Text: text, MaxTokens: maxTokens, Result: res}, nil
}

// ResponseBudget caps the response at maxResponse and at what the prompt
// leaves of the model's window, minus a safety margin.
func ResponseBudget(res optimizer.Result, maxResponse int) int {
	return min(maxResponse, res.TokenLimit-res.EstimatedTotalTokens-responseMargin)
}

// SystemPrompt appends the optimized data context to the instruction preamble.
func SystemPrompt(preamble, context string, compressed bool) string {
	note := ""
	if compressed {
		note = "\n\nNOTE: The Excel data below has been optimized to focus on the content most relevant to the user's query. Some information may not be visible."
	}
	return preamble + note + "\n\nThe financial data available to you:\n\n" + context
}

// BuildMessages assembles system, history and user messages. History roles
// follow absolute position in the conversation: offset+i even is a user turn.
func BuildMessages(system string, history []string, offset int, message string) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history)+2)
	out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))
	for i, h := range history {
		role := llms.ChatMessageTypeAI
		if (offset+i)%2 == 0 {
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, h))
	}
	return append(out, llms.TextParts(llms.ChatMessageTypeHuman, message))
}

// Report is the token analysis of a session.
type Report struct {
	ContextTokens      int    `json:"contextTokens"`
	HistoryTokens      int    `json:"historyTokens"`
	TokenLimit         int    `json:"tokenLimit"`
	EstimatedTotal     int    `json:"estimatedTotal"`
	CompressionApplied bool   `json:"compressionApplied"`
	Strategy           string `json:"strategy"`
}

// TokenReport estimates what the next question would cost, using ProbeQuery.
func (a *Assistant) TokenReport(sess *session.Session) Report {
	ctxText := sess.CombinedContext()
	history := sess.History()
	res := a.opt.Optimize(optimizer.Request{
		Message: ProbeQuery,
		Context: ctxText,
		History: history,
		Model:   a.cfg.ModelName,
	})
	return Report{
		ContextTokens:      tokens.Estimate(ctxText),
		HistoryTokens:      tokens.EstimateAll(history),
		TokenLimit:         res.TokenLimit,
		EstimatedTotal:     res.EstimatedTotalTokens,
		CompressionApplied: res.CompressionApplied,
		Strategy:           res.Strategy,
	}
}

// Explain returns the query-scoped summary of the session's data.
func (a *Assistant) Explain(sess *session.Session, query string) string {
	return a.opt.QuerySummary(sess.CombinedContext(), query, a.cfg.SummaryTokens)
}
