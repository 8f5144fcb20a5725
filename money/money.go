/*
Package money provides exact-decimal monetary values and month keys.

PURPOSE:
  Every cost figure in the system (expense values, invoice totals, planned
  budgets) flows through this package. Monetary arithmetic uses
  decimal.Decimal to avoid floating-point errors; months are first-class
  keys because all cost aggregation is bucketed per calendar month.

KEY CONCEPTS:
  - Money:    An exact decimal amount (currency-agnostic, 2-place display)
  - MonthKey: A "YYYY-MM" calendar month with shift/compare operations

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64
  2. Value semantics: Money and MonthKey are small immutable values
  3. Parsing is explicit: malformed input returns an error, no silent zero

SEE ALSO:
  - month.go: MonthKey definition
  - billing/types.go: entities carrying Money fields
*/
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact decimal amount
// =============================================================================

// Money is an exact monetary amount. The zero value is zero money.
type Money struct {
	value decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{}

// New creates a Money from integer units and cents-style exponent,
// e.g. New(18000, -2) == 180.00.
func New(units int64, exp int32) Money {
	return Money{value: decimal.New(units, exp)}
}

// FromDecimal wraps an existing decimal.
func FromDecimal(d decimal.Decimal) Money {
	return Money{value: d}
}

// Parse parses a decimal string such as "180.00".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money value %q: %w", s, err)
	}
	return Money{value: d}, nil
}

// MustParse parses or panics. For tests and constants only.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.value }

// Arithmetic. All operations return new values.
func (m Money) Add(o Money) Money { return Money{value: m.value.Add(o.value)} }
func (m Money) Sub(o Money) Money { return Money{value: m.value.Sub(o.value)} }
func (m Money) Neg() Money        { return Money{value: m.value.Neg()} }

// Div divides by another amount, returning a bare ratio (not money).
// Division by zero is the caller's responsibility to guard.
func (m Money) Div(o Money) decimal.Decimal { return m.value.Div(o.value) }

// Comparison.
func (m Money) Cmp(o Money) int              { return m.value.Cmp(o.value) }
func (m Money) Equal(o Money) bool           { return m.value.Equal(o.value) }
func (m Money) GreaterThan(o Money) bool     { return m.value.GreaterThan(o.value) }
func (m Money) LessThan(o Money) bool        { return m.value.LessThan(o.value) }
func (m Money) IsZero() bool                 { return m.value.IsZero() }
func (m Money) IsNegative() bool             { return m.value.IsNegative() }
func (m Money) IsPositive() bool             { return m.value.IsPositive() }

// String renders with two decimal places, the display convention for
// all monetary fields in the system.
func (m Money) String() string { return m.value.StringFixed(2) }

// MarshalJSON renders Money as a JSON string ("180.00") so clients never
// see binary floating point.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both "180.00" and 180.00 forms.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid money value %s: %w", string(data), err)
	}
	m.value = d
	return nil
}

// Sum adds a series of amounts.
func Sum(amounts ...Money) Money {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
