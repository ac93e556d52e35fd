// Package core holds the domain model shared by the ledger, the budget
// evaluator and the scheduling engine.
//
// This file contains amount parsing and currency helpers. All monetary
// values are decimal.Decimal with a fixed scale; float64 never touches money.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept on every stored amount.
// Four digits survive FX conversion of two-decimal currencies without loss.
const AmountScale = 4

// ParseAmount converts a user-supplied decimal string to a positive amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half-up to AmountScale. Returns an error for invalid formats, negative
// values, or zero amounts.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		// Only positive values allowed
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(AmountScale)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// Quantize rounds an amount to the stored scale. Used after multiplying by an
// exchange rate, which can produce more fractional digits than we keep.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// ValidCurrency reports whether code is a plausible 3-letter ISO 4217 code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
