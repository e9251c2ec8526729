// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing user-entered amounts and for
// rendering them with a comma decimal separator, as the CSV export does.
package core

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts a user-entered decimal string to a decimal amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading minus sign. No rounding is applied.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,5")  -> 12.5, nil
//	ParseAmount("-3")    -> -3, nil
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	digits := strings.TrimPrefix(s, "-")
	parts := strings.Split(digits, ".")
	if len(parts) > 2 || parts[0] == "" && (len(parts) == 1 || parts[1] == "") {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatLocaleAmount renders the amount with a comma decimal separator and
// no trailing zeros: 12.50 -> "12,5".
func FormatLocaleAmount(d decimal.Decimal) string {
	return strings.Replace(d.String(), ".", ",", 1)
}

// FormatEuros formats an amount as a Euro currency string with two decimals (e.g., "€12,34").
func FormatEuros(d decimal.Decimal) string {
	s := strings.Replace(d.Abs().StringFixed(2), ".", ",", 1)
	if d.IsNegative() {
		return "-€" + s
	}
	return "€" + s
}
