package money

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH KEY - "YYYY-MM" calendar month
// =============================================================================

// MonthKey identifies one calendar month. All cost aggregation in the
// system is bucketed by MonthKey: invoices carry an issue month and a
// competency month, expenses and reimbursements fall into the month of
// their purchase date.
type MonthKey struct {
	Year  int
	Month time.Month
}

// NewMonthKey builds a key from year and month.
func NewMonthKey(year int, month time.Month) MonthKey {
	return MonthKey{Year: year, Month: month}
}

// ParseMonth parses a "YYYY-MM" string.
func ParseMonth(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return MonthKey{}, fmt.Errorf("invalid month key %q: %w", s, err)
	}
	return MonthKey{Year: t.Year(), Month: t.Month()}, nil
}

// MustParseMonth parses or panics. For tests only.
func MustParseMonth(s string) MonthKey {
	m, err := ParseMonth(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MonthOf returns the month containing the given date.
func MonthOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// CurrentMonth returns the month containing time.Now (UTC).
func CurrentMonth() MonthKey {
	return MonthOf(time.Now().UTC())
}

// Add shifts the key by n months (negative n shifts backwards).
func (k MonthKey) Add(n int) MonthKey {
	t := time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// Compare returns -1, 0 or +1 ordering keys chronologically.
func (k MonthKey) Compare(o MonthKey) int {
	switch {
	case k.Year != o.Year:
		if k.Year < o.Year {
			return -1
		}
		return 1
	case k.Month != o.Month:
		if k.Month < o.Month {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func (k MonthKey) Before(o MonthKey) bool { return k.Compare(o) < 0 }
func (k MonthKey) After(o MonthKey) bool  { return k.Compare(o) > 0 }
func (k MonthKey) Equal(o MonthKey) bool  { return k.Compare(o) == 0 }
func (k MonthKey) IsZero() bool           { return k.Year == 0 && k.Month == 0 }

// Contains reports whether the date falls inside this month.
func (k MonthKey) Contains(t time.Time) bool {
	return t.Year() == k.Year && t.Month() == k.Month
}

// Start returns the first instant of the month (UTC).
func (k MonthKey) Start() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the month at midnight (UTC).
func (k MonthKey) End() time.Time {
	return k.Start().AddDate(0, 1, -1)
}

// String renders the canonical "YYYY-MM" form.
func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// MarshalJSON renders the key as its "YYYY-MM" string.
func (k MonthKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON parses a "YYYY-MM" JSON string.
func (k *MonthKey) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid month key %s", s)
	}
	parsed, err := ParseMonth(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
