// Package core holds the domain entities and the validation, money and
// period-window rules shared by the storage and service layers.
package core

import "github.com/shopspring/decimal"

// ValidateAmount accepts strictly positive amounts with at most two decimal
// places. Anything else (zero, negative, sub-cent precision) is rejected so
// that every amount maps exactly onto integer cents.
func ValidateAmount(d decimal.Decimal) error {
	if d.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !d.Equal(d.Truncate(2)) {
		return ErrInvalidAmount
	}
	return nil
}

// Cents converts an amount to integer minor units. The caller must have
// validated the precision; truncation here never loses value for a 2-dp
// amount.
func Cents(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

// FromCents converts integer minor units back to a 2-dp decimal amount.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
