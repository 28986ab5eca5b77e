package gateway

import "github.com/shopspring/decimal"

// ToMinor converts a major-unit amount (rupees) to the gateway's minor unit
// (paise), rounding half away from zero.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
