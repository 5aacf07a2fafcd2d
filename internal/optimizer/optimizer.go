// Package optimizer fits spreadsheet context and conversation history into a
// model's token budget.
package optimizer

import (
	"github.com/rs/zerolog"

	"github.com/vinodismyname/xlsxctx/config"
	"github.com/vinodismyname/xlsxctx/internal/relevance"
	"github.com/vinodismyname/xlsxctx/internal/tokens"
)

// Config is the read-only configuration injected at construction.
type Config struct {
	Limits       ModelLimits
	Vocabulary   relevance.Vocabulary
	SystemPrompt string
	// ReserveTokens is held back for the model's response when a Request
	// does not set its own.
	ReserveTokens int
	// HistoryShare divides the remaining budget; history gets 1/HistoryShare.
	HistoryShare int
}

// FromConfig derives an optimizer Config from the process configuration.
func FromConfig(cfg config.Config) Config {
	return Config{
		Limits:        NewModelLimits(cfg.ModelLimits),
		Vocabulary:    relevance.NewVocabulary(cfg.Vocabulary),
		SystemPrompt:  cfg.SystemPrompt,
		ReserveTokens: cfg.ReserveTokens,
		HistoryShare:  cfg.HistoryShare,
	}
}

// Optimizer runs the budget pipeline. It holds no per-call state and is safe
// for concurrent use.
type Optimizer struct {
	limits       ModelLimits
	vocab        relevance.Vocabulary
	systemPrompt string
	reserve      int
	share        int
	strategies   []Strategy
	logger       zerolog.Logger
}

// Option customizes an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger. The default discards output.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

// WithStrategies replaces the compression chain. An empty chain is ignored.
func WithStrategies(s ...Strategy) Option {
	return func(o *Optimizer) {
		if len(s) > 0 {
			o.strategies = s
		}
	}
}

// New constructs an Optimizer. Zero ReserveTokens and HistoryShare fall back to
// package defaults.
func New(cfg Config, opts ...Option) *Optimizer {
	o := &Optimizer{
		limits:       cfg.Limits,
		vocab:        cfg.Vocabulary,
		systemPrompt: cfg.SystemPrompt,
		reserve:      cfg.ReserveTokens,
		share:        cfg.HistoryShare,
		strategies:   DefaultStrategies(),
		logger:       zerolog.Nop(),
	}
	if o.reserve <= 0 {
		o.reserve = config.DefaultReserveTokens
	}
	if o.share <= 0 {
		o.share = config.DefaultHistoryShare
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request is one optimization call.
type Request struct {
	Message string
	Context string
	History []string
	Model   string
	// ReserveTokens overrides the configured response reserve when > 0.
	ReserveTokens int
}

// Budget records how the token limit was divided.
type Budget struct {
	TokenLimit    int `json:"tokenLimit"`
	Available     int `json:"available"`
	Fixed         int `json:"fixed"`
	HistoryBudget int `json:"historyBudget"`
	History       int `json:"history"`
	Remaining     int `json:"remaining"`
}

// Result is the optimized bundle handed to the completion service.
type Result struct {
	Context              string   `json:"context"`
	History              []string `json:"history"`
	EstimatedTotalTokens int      `json:"estimatedTotalTokens"`
	TokenLimit           int      `json:"tokenLimit"`
	WithinLimit          bool     `json:"withinLimit"`
	CompressionApplied   bool     `json:"compressionApplied"`
	Strategy             string   `json:"strategy"`
	Budget               Budget   `json:"budget"`
}

// TokenLimit resolves the model's context window, warning on unknown models.
func (o *Optimizer) TokenLimit(model string) int {
	limit, ok := o.limits.Lookup(model)
	if !ok {
		o.logger.Warn().Str("model", model).Int("token_limit", limit).Msg("unknown model, using default token limit")
	}
	return limit
}

// SystemPrompt returns the instruction preamble counted as fixed cost.
func (o *Optimizer) SystemPrompt() string { return o.systemPrompt }

// Vocabulary returns the keyword vocabulary.
func (o *Optimizer) Vocabulary() relevance.Vocabulary { return o.vocab }

// Optimize trims history to its share of the budget and then compresses the
// context through the strategy chain until it fits what is left.
func (o *Optimizer) Optimize(req Request) Result {
	reserve := req.ReserveTokens
	if reserve <= 0 {
		reserve = o.reserve
	}

	var bud Budget
	bud.TokenLimit = o.TokenLimit(req.Model)
	bud.Available = bud.TokenLimit - reserve
	bud.Fixed = tokens.Estimate(o.systemPrompt) + tokens.Estimate(req.Message)
	remaining := bud.Available - bud.Fixed
	bud.HistoryBudget = remaining / o.share

	history := TrimHistory(req.History, bud.HistoryBudget)
	bud.History = tokens.EstimateAll(history)
	remaining -= bud.History
	bud.Remaining = remaining

	o.logger.Info().
		Int("token_limit", bud.TokenLimit).
		Int("available", bud.Available).
		Int("fixed", bud.Fixed).
		Int("history_budget", bud.HistoryBudget).
		Int("remaining", bud.Remaining).
		Msg("token budget")
	o.logger.Debug().
		Int("history_in", len(req.History)).
		Int("history_kept", len(history)).
		Int("history_tokens", bud.History).
		Msg("history trimmed")

	in := Input{
		Context:  req.Context,
		Query:    req.Message,
		Keywords: o.vocab.Keywords(req.Message),
		Budget:   remaining,
	}
	ctxText, strategy := o.compress(in)

	full := tokens.Estimate(req.Context)
	used := tokens.Estimate(ctxText)
	total := bud.Fixed + bud.History + used

	o.logger.Info().
		Str("strategy", strategy).
		Int("context_tokens", full).
		Int("optimized_tokens", used).
		Int("total_tokens", total).
		Msg("context optimized")

	return Result{
		Context:              ctxText,
		History:              history,
		EstimatedTotalTokens: total,
		TokenLimit:           bud.TokenLimit,
		WithinLimit:          total <= bud.Available,
		CompressionApplied:   used < full,
		Strategy:             strategy,
		Budget:               bud,
	}
}

func (o *Optimizer) compress(in Input) (string, string) {
	last := len(o.strategies) - 1
	for i, s := range o.strategies {
		out, ok := s.Apply(in)
		if ok || i == last {
			return out, s.Name
		}
		o.logger.Debug().Str("strategy", s.Name).Msg("strategy did not fit budget")
	}
	return in.Context, StrategyPassThrough
}
