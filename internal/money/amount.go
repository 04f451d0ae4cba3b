package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal digits carried by an Amount.
const Scale = 2

// Currency is the display currency for all ledger amounts.
const Currency = "FCFA"

var (
	// ErrTooPrecise indicates an amount with more than Scale decimal digits.
	ErrTooPrecise = errors.New("amount has more than 2 decimal digits")
	// ErrOutOfRange indicates an amount that does not fit the minor-unit representation.
	ErrOutOfRange = errors.New("amount out of range")
)

var maxAmount = decimal.New(1<<62, -Scale)

// Amount is a fixed-point currency value stored as minor units (1/100).
type Amount int64

// FromMinor wraps a minor-unit count.
func FromMinor(minor int64) Amount {
	return Amount(minor)
}

// FromDecimal converts d into an Amount, rejecting values that would lose precision.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.Equal(d.Round(Scale)) {
		return 0, ErrTooPrecise
	}
	if d.Abs().GreaterThan(maxAmount) {
		return 0, ErrOutOfRange
	}
	return Amount(d.Shift(Scale).IntPart()), nil
}

// Parse reads a decimal string such as "1000", "1000.5" or "1000.50".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Minor returns the amount in minor units.
func (a Amount) Minor() int64 {
	return int64(a)
}

// Decimal returns the amount as a decimal with Scale digits.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// Add returns a+b, or ErrOutOfRange when the sum does not fit in int64 minor units.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOutOfRange
	}
	return a + b, nil
}

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool {
	return a > 0
}

// String formats the amount with exactly two decimals, e.g. "1000.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

// MarshalJSON encodes the amount as a decimal string to avoid float rounding in clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
