package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		minor int64
	}{
		{"1000", 100_000},
		{"1000.5", 100_050},
		{"1000.50", 100_050},
		{" 0.01 ", 1},
		{"-3.25", -325},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.minor, got.Minor(), tc.in)
	}
}

func TestParseRejectsExtraPrecision(t *testing.T) {
	_, err := Parse("10.001")
	assert.ErrorIs(t, err, ErrTooPrecise)

	_, err = Parse("abc")
	assert.Error(t, err)
}

func TestFromDecimalRejectsHugeValues(t *testing.T) {
	_, err := FromDecimal(decimal.New(1, 30))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestStringAlwaysTwoDecimals(t *testing.T) {
	assert.Equal(t, "1000.00", MustParse("1000").String())
	assert.Equal(t, "0.05", FromMinor(5).String())
	assert.Equal(t, "-3.10", FromMinor(-310).String())
}

func TestJSON(t *testing.T) {
	var payload struct {
		Amount Amount `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount": 250.5}`), &payload))
	assert.Equal(t, int64(25_050), payload.Amount.Minor())

	require.NoError(t, json.Unmarshal([]byte(`{"amount": "99.99"}`), &payload))
	assert.Equal(t, int64(9_999), payload.Amount.Minor())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"99.99"}`, string(out))
}

func TestAddDetectsOverflow(t *testing.T) {
	sum, err := MustParse("10.50").Add(MustParse("0.75"))
	require.NoError(t, err)
	assert.Equal(t, "11.25", sum.String())

	sum, err = MustParse("10").Add(-MustParse("12"))
	require.NoError(t, err)
	assert.Equal(t, "-2.00", sum.String())

	_, err = FromMinor(math.MaxInt64 - 1).Add(FromMinor(2))
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = FromMinor(math.MinInt64 + 1).Add(FromMinor(-2))
	assert.ErrorIs(t, err, ErrOutOfRange)
}
