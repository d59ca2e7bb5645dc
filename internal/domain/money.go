package domain

import (
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places carried by settlement amounts
const MoneyScale = 2

// ValidateAmount rejects negative amounts and sub-cent precision
func ValidateAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return NewValidationError(ErrorCodeValidationAmountInvalid, field, field+" must not be negative")
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return NewValidationError(ErrorCodeValidationAmountInvalid, field, field+" must have at most 2 decimal places")
	}
	return nil
}

// ToCents converts an amount to integer minor units
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(MoneyScale).Round(0).IntPart()
}

// FormatAmount renders an amount with exactly two decimals
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(MoneyScale)
}
