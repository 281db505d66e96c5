// Package money holds the fixed-scale decimal helpers shared by intake, the ledger and the limit stores.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every amount and balance carries.
const Scale = 8

// maxIntegerDigits matches NUMERIC(38,8).
const maxIntegerDigits = 30

var (
	// MinAmount is the smallest representable positive amount (1e-8).
	MinAmount = decimal.New(1, -Scale)

	unitFactor = decimal.New(1, Scale)

	ErrNotPositive   = errors.New("amount must be positive")
	ErrTooPrecise    = errors.New("amount has more than 8 fractional digits")
	ErrOutOfRange    = errors.New("amount out of range")
	ErrInvalidFormat = errors.New("amount is not a decimal number")
)

// Parse parses a positive decimal string with at most Scale fractional digits.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidFormat
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrNotPositive
	}
	if !d.Equal(d.Truncate(Scale)) {
		return decimal.Zero, ErrTooPrecise
	}
	if len(d.Truncate(0).String()) > maxIntegerDigits {
		return decimal.Zero, ErrOutOfRange
	}
	return d.Truncate(Scale), nil
}

// Fee returns amount*rate rounded to Scale fractional digits.
func Fee(amount, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(rate).Round(Scale)
}

// String formats d with exactly Scale fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// ToUnits converts d to an integer count of 1e-8 units.
func ToUnits(d decimal.Decimal) (int64, error) {
	u := d.Mul(unitFactor).Truncate(0)
	if u.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || u.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, ErrOutOfRange
	}
	return u.IntPart(), nil
}

// FromUnits converts an integer count of 1e-8 units back to a decimal.
func FromUnits(u int64) decimal.Decimal {
	return decimal.New(u, -Scale)
}
