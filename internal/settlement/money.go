// Package settlement holds the pure tab settlement rules: balance
// aggregation, strategy resolution, proportional distribution and
// closure detection. Nothing here performs I/O.
package settlement

import "github.com/shopspring/decimal"

const currencyScale = 2

// Tolerance is the remaining balance at or below which a tab counts as settled.
var Tolerance = decimal.New(1, -currencyScale)

// Format renders an amount with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(currencyScale)
}

// ParseAmount parses a decimal string and rejects sub-cent precision.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !HasCurrencyPrecision(d) {
		return decimal.Zero, ErrInvalidSelection
	}
	return d, nil
}

// HasCurrencyPrecision reports whether d carries at most two fractional digits.
func HasCurrencyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(currencyScale))
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(currencyScale).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -currencyScale)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
