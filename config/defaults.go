package config

import "time"

// Default runtime limits and guardrails for the spreadsheet context server.
// They are referenced by internal/runtime and can be overridden through Load.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenWorkbooks      = 4
	DefaultMaxParallelSheets     = 4

	// Payload bounds
	DefaultMaxPayloadBytes = 128 * 1024 // 128KB
	DefaultChunkPageSize   = 20
)

const (
	// Timeouts
	DefaultOperationTimeout      = 30 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second

	// Workbook handles are closed after ingestion; the TTL only reclaims leaks.
	DefaultWorkbookIdleTTL       = 5 * time.Minute
	DefaultWorkbookCleanupPeriod = time.Minute

	DefaultSessionIdleTTL       = 2 * time.Hour
	DefaultSessionCleanupPeriod = 5 * time.Minute
)

// Token budgeting
const (
	DefaultModel              = "gpt-4"
	DefaultModelTokenLimit    = 8192
	DefaultReserveTokens      = 1000
	DefaultHistoryShare       = 3
	DefaultSummaryTokens      = 3000
	DefaultMaxResponseTokens  = 2000
	DefaultMaxHistoryMessages = 10
	DefaultTemperature        = 0.3
)

// ModelLimit pairs a model-name fragment with its context window.
type ModelLimit struct {
	Name   string `koanf:"name" yaml:"name" validate:"required"`
	Tokens int    `koanf:"tokens" yaml:"tokens" validate:"gt=0"`
}

// DefaultModelLimits lists known deployments. Lookup is first-match by
// containment, so longer fragments come before their prefixes.
func DefaultModelLimits() []ModelLimit {
	return []ModelLimit{
		{Name: "gpt-35-turbo-16k", Tokens: 16384},
		{Name: "gpt-4o-mini", Tokens: 128000},
		{Name: "gpt-4-32k", Tokens: 32768},
		{Name: "gpt-35-turbo", Tokens: 4096},
		{Name: "gpt-4o", Tokens: 128000},
		{Name: "gpt-4", Tokens: 8192},
	}
}

// DefaultFinanceTerms is the prioritized keyword vocabulary for relevance scoring.
func DefaultFinanceTerms() []string {
	return []string{
		"revenue", "income", "profit", "loss", "expense", "cost", "sales", "budget",
		"total", "sum", "average", "growth", "margin", "roi", "return", "investment",
		"assets", "liability", "equity", "cash", "flow", "balance", "sheet",
		"quarter", "monthly", "annual", "yearly", "period",
	}
}

// DefaultSystemPrompt is the instruction preamble sent ahead of the spreadsheet
// context. Its estimate is part of the fixed cost of every request.
const DefaultSystemPrompt = `You are a financial data analysis assistant. You have access to financial data from Excel files that has been converted to markdown format. Your role is to help users understand and analyze this data by answering their questions.

Instructions:
1. Always base your responses on the provided data
2. If asked about data that's not available in the context, clearly state that you don't have that information and suggest the user ask for specific sections
3. When referencing specific numbers or data points, cite the table and row where applicable
4. Provide clear, accurate financial analysis and insights
5. If calculations are needed, show your work step by step
6. If the data appears to be truncated or compressed, acknowledge this and offer to help with specific sections

Remember: You can only work with the data provided in the context. Do not make assumptions about data that is not explicitly shown.`
