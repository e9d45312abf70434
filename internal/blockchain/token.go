package blockchain

import (
	"github.com/shopspring/decimal"
)

// NormalizeAmount converts a raw integer token amount to units: raw / 10^decimals.
// The result is a float64 and loses precision for very large amounts.
func NormalizeAmount(raw string, decimals uint8) (float64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	return d.Shift(-int32(decimals)).InexactFloat64(), nil
}
