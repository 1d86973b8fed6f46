package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217 fiat code, or SettlementUnit
}

// SettlementUnit is the accounting unit all principal balances are kept in.
// Trader collateral, aggregator balances and platform margin all settle here.
const SettlementUnit = "USDT"

var micros = decimal.NewFromInt(1_000_000)

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(micros)
}

// FromDecimal converts a decimal.Decimal to int64 micros.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(micros).IntPart()
}

// DecimalFromMicros converts int64 micros to a decimal value.
func DecimalFromMicros(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(micros)
}

// TruncateMinor truncates a decimal to the ledger's minor-unit precision
// (2 decimal places). Truncation, never rounding.
func TruncateMinor(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(2)
}

// MicrosTruncated converts a decimal value to micros after truncating to
// the minor-unit precision.
func MicrosTruncated(d decimal.Decimal) int64 {
	return FromDecimal(TruncateMinor(d))
}

// CollateralMicros computes the settlement-unit collateral for a fiat deal
// amount at the given rate: trunc2(amount / rate), in micros.
func CollateralMicros(amountMicros int64, rate decimal.Decimal) int64 {
	if rate.IsZero() {
		return 0
	}
	return MicrosTruncated(DecimalFromMicros(amountMicros).Div(rate))
}

// PercentOfMicros returns trunc2(base × percent/100) in micros.
func PercentOfMicros(baseMicros int64, percent decimal.Decimal) int64 {
	share := DecimalFromMicros(baseMicros).Mul(percent).Div(decimal.NewFromInt(100))
	return MicrosTruncated(share)
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}
