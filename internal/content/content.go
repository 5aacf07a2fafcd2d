// Package content classifies spreadsheet cell text. The rules are heuristics
// with no locale awareness.
package content

import (
	"regexp"
	"strings"
)

var (
	numericPattern = regexp.MustCompile(`^[$€£]?[\d,]+\.?\d*%?$`)
	datePattern    = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`)
)

const currencySymbols = "$€£"

// IsNumeric reports whether text is a number with an optional leading currency
// symbol, grouping commas, decimal fraction and trailing percent.
func IsNumeric(text string) bool {
	return numericPattern.MatchString(strings.TrimSpace(text))
}

// HasCurrencySymbol reports whether text contains $, € or £.
func HasCurrencySymbol(text string) bool {
	return strings.ContainsAny(text, currencySymbols)
}

// IsPercentage reports whether text contains a percent sign.
func IsPercentage(text string) bool {
	return strings.Contains(text, "%")
}

// IsCurrency is the monetary flag: a currency symbol or a percent sign.
func IsCurrency(text string) bool {
	return HasCurrencySymbol(text) || IsPercentage(text)
}

// IsDate matches d/m/y shaped text with / or - separators.
func IsDate(text string) bool {
	return datePattern.MatchString(text)
}

// Flags is the classification of one cell or, merged, of a whole table.
type Flags struct {
	Numeric    bool `json:"numeric"`
	Currency   bool `json:"currency"`
	Percentage bool `json:"percentage"`
	Date       bool `json:"date"`
}

// Classify applies every predicate to text. Blank text yields zero Flags.
func Classify(text string) Flags {
	if strings.TrimSpace(text) == "" {
		return Flags{}
	}
	return Flags{
		Numeric:    IsNumeric(text),
		Currency:   IsCurrency(text),
		Percentage: IsPercentage(text),
		Date:       IsDate(text),
	}
}

// Merge ORs other into f.
func (f Flags) Merge(other Flags) Flags {
	return Flags{
		Numeric:    f.Numeric || other.Numeric,
		Currency:   f.Currency || other.Currency,
		Percentage: f.Percentage || other.Percentage,
		Date:       f.Date || other.Date,
	}
}

// Any reports whether any flag is set.
func (f Flags) Any() bool {
	return f.Numeric || f.Currency || f.Percentage || f.Date
}

// Describe lists the set flags as human-readable pattern names.
func (f Flags) Describe() []string {
	var out []string
	if f.Currency {
		out = append(out, "currency values")
	}
	if f.Percentage {
		out = append(out, "percentages")
	}
	if f.Date {
		out = append(out, "dates")
	}
	if f.Numeric {
		out = append(out, "numeric data")
	}
	return out
}
