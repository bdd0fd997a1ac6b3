// Package money handles ledger amounts: fixed-point decimals with two
// fractional digits, matching the NUMERIC(20,2) wallet columns.
package money

import (
	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every ledger amount carries.
const Scale = 2

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse parses a decimal string and rejects more than two fractional digits.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Validationf("amount %q is not a decimal number", s)
	}
	if !d.Round(Scale).Equal(d) {
		return decimal.Zero, apperr.Validationf("amount %q has more than %d decimal places", s, Scale)
	}
	return d, nil
}

// ParsePositive parses a decimal string and requires it to be > 0.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, apperr.Validationf("amount must be greater than zero, got %q", s)
	}
	return d, nil
}

// MustParse parses a decimal string and panics on error. For constants
// and tests only.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic("money: " + err.Error())
	}
	return d
}

// Commission computes amount * rate rounded half-up to the ledger scale.
func Commission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(Scale)
}

// Convert converts an external-currency amount into ledger units using a
// fixed rate expressed as external units per ledger unit. The result is
// rounded half-up to the ledger scale.
func Convert(external, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, apperr.Validationf("conversion rate must be positive, got %s", rate)
	}
	return external.DivRound(rate, Scale), nil
}
