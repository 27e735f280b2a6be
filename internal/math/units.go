package math

import (
	"github.com/shopspring/decimal"
)

// DecimalConfig describes how minor units map to display amounts.
type DecimalConfig struct {
	DecimalPrecision int32
}

// USDConfig is six-decimal stablecoin precision.
var USDConfig = DecimalConfig{DecimalPrecision: 6}

// ToDecimal converts minor units to a decimal major-unit amount.
func (c DecimalConfig) ToDecimal(minor uint64) decimal.Decimal {
	return decimal.NewFromUint64(minor).Shift(-c.DecimalPrecision)
}

// Format renders minor units with the configured number of decimal places.
func (c DecimalConfig) Format(minor uint64) string {
	return c.ToDecimal(minor).StringFixed(c.DecimalPrecision)
}

// FormatSigned renders a signed minor-unit amount such as a fee.
func (c DecimalConfig) FormatSigned(minor int64) string {
	return decimal.NewFromInt(minor).Shift(-c.DecimalPrecision).StringFixed(c.DecimalPrecision)
}

// ParseMajor converts a major-unit string ("12.5") to minor units, truncating
// below the configured precision. Negative amounts are rejected with ErrUnderflow.
func (c DecimalConfig) ParseMajor(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, ErrUnderflow
	}
	minor := d.Shift(c.DecimalPrecision).Truncate(0)
	if !minor.BigInt().IsUint64() {
		return 0, ErrOverflow
	}
	return minor.BigInt().Uint64(), nil
}

// MinorUnits wraps an exact minor-unit amount for NUMERIC(20,0) columns,
// which database/sql cannot carry as uint64 above MaxInt64.
func MinorUnits(v uint64) decimal.Decimal {
	return decimal.NewFromUint64(v)
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, ErrUnderflow
	}
	b := d.Truncate(0).BigInt()
	if !b.IsUint64() {
		return 0, ErrOverflow
	}
	return b.Uint64(), nil
}
