package money

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_ParseAndArithmetic(t *testing.T) {
	a := MustParse("180.00")
	b := MustParse("19.90")

	assert.Equal(t, "199.90", a.Add(b).String())
	assert.Equal(t, "160.10", a.Sub(b).String())
	assert.True(t, a.GreaterThan(b))
	assert.True(t, b.LessThan(a))
	assert.True(t, Zero.IsZero())
	assert.True(t, a.Sub(a).IsZero())
}

func TestMoney_ParseRejectsGarbage(t *testing.T) {
	_, err := Parse("abc")
	assert.Error(t, err)

	_, err = Parse("")
	assert.Error(t, err)
}

func TestMoney_Sum(t *testing.T) {
	total := Sum(MustParse("1.10"), MustParse("2.20"), MustParse("3.30"))
	assert.Equal(t, "6.60", total.String())

	assert.True(t, Sum().IsZero())
}

func TestMoney_JSONRoundTrip(t *testing.T) {
	out, err := json.Marshal(MustParse("180.5"))
	require.NoError(t, err)
	assert.Equal(t, `"180.50"`, string(out))

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`"42.07"`), &m))
	assert.Equal(t, "42.07", m.String())

	// Bare number form is accepted too.
	require.NoError(t, json.Unmarshal([]byte(`42.07`), &m))
	assert.Equal(t, "42.07", m.String())
}

func TestMonthKey_ParseAndFormat(t *testing.T) {
	k, err := ParseMonth("2026-01")
	require.NoError(t, err)
	assert.Equal(t, 2026, k.Year)
	assert.Equal(t, time.January, k.Month)
	assert.Equal(t, "2026-01", k.String())

	_, err = ParseMonth("2026-13")
	assert.Error(t, err)
	_, err = ParseMonth("garbage")
	assert.Error(t, err)
}

func TestMonthKey_AddCrossesYearBoundary(t *testing.T) {
	k := MustParseMonth("2025-11")

	assert.Equal(t, "2026-01", k.Add(2).String())
	assert.Equal(t, "2025-01", k.Add(-10).String())
	assert.Equal(t, "2024-12", k.Add(-11).String())
}

func TestMonthKey_Ordering(t *testing.T) {
	jan := MustParseMonth("2026-01")
	feb := MustParseMonth("2026-02")
	dec := MustParseMonth("2025-12")

	assert.True(t, jan.Before(feb))
	assert.True(t, jan.After(dec))
	assert.True(t, jan.Equal(MustParseMonth("2026-01")))
	assert.Equal(t, 0, jan.Compare(jan))
	assert.Equal(t, -1, dec.Compare(jan))
	assert.Equal(t, 1, feb.Compare(jan))
}

func TestMonthKey_Contains(t *testing.T) {
	k := MustParseMonth("2026-01")

	assert.True(t, k.Contains(time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)))
	assert.True(t, k.Contains(time.Date(2026, time.January, 31, 23, 0, 0, 0, time.UTC)))
	assert.False(t, k.Contains(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, k.Contains(time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)))
}

func TestMonthKey_StartEnd(t *testing.T) {
	k := MustParseMonth("2026-02")

	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), k.Start())
	assert.Equal(t, time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC), k.End())
}
