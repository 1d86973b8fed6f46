package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(10_500_000, "USD") // 10.50 USD
	d := m.ToDecimal()
	assert.Equal(t, "10.5", d.String())
}

func TestFromDecimal(t *testing.T) {
	d := decimal.NewFromFloat(10.50)
	assert.Equal(t, int64(10_500_000), FromDecimal(d))
}

func TestTruncateMinor(t *testing.T) {
	d := decimal.NewFromFloat(110.0513)
	assert.Equal(t, "110.05", TruncateMinor(d).String())

	// Truncates, never rounds up.
	d = decimal.NewFromFloat(2.999)
	assert.Equal(t, "2.99", TruncateMinor(d).String())
}

func TestCollateralMicros(t *testing.T) {
	// 9000 / 81.78 = 110.0513... -> 110.05
	rate := decimal.NewFromFloat(81.78)
	got := CollateralMicros(9_000_000_000, rate)
	assert.Equal(t, int64(110_050_000), got)
}

func TestCollateralMicros_ZeroRate(t *testing.T) {
	assert.Equal(t, int64(0), CollateralMicros(9_000_000_000, decimal.Zero))
}

func TestPercentOfMicros(t *testing.T) {
	// trunc2(110.05 * 0.02) = 2.20
	pct := decimal.NewFromInt(2)
	assert.Equal(t, int64(2_200_000), PercentOfMicros(110_050_000, pct))
}
