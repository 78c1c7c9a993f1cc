package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonNegative(t *testing.T) {
	assert.True(t, NonNegative(decimal.NewFromInt(-5)).IsZero())
	assert.True(t, NonNegative(decimal.NewFromInt(5)).Equal(decimal.NewFromInt(5)))
}

func TestWholeRoundsUp(t *testing.T) {
	assert.Equal(t, int64(15000), Whole(decimal.RequireFromString("15000.00")))
	assert.Equal(t, int64(1001), Whole(decimal.RequireFromString("1000.01")))
}

func TestIsWhole(t *testing.T) {
	assert.True(t, IsWhole(decimal.RequireFromString("15000.00")))
	assert.True(t, IsWhole(decimal.Zero))
	assert.False(t, IsWhole(decimal.RequireFromString("15000.40")))
	assert.False(t, IsWhole(decimal.RequireFromString("0.01")))
}

func TestParse(t *testing.T) {
	for _, v := range []any{json.Number("5000"), "5000", 5000.0, 5000, int64(5000)} {
		d, err := Parse(v)
		require.NoError(t, err)
		assert.True(t, d.Equal(decimal.NewFromInt(5000)), "%T", v)
	}

	_, err := Parse(nil)
	assert.Error(t, err)
	_, err = Parse(true)
	assert.Error(t, err)
}
