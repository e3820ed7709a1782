package orderbook

import "github.com/shopspring/decimal"

const (
	// DefaultGroupingDigits buckets prices so that 1234.567 and 1234.568 land on one level.
	DefaultGroupingDigits int32 = 8

	groupingPlaces int32 = 8
)

// Grouping rounds raw prices onto visible price levels. The price is shifted left by
// the grouping digits, rounded to a fixed number of places and shifted back, so
// Apply(Apply(p)) == Apply(p).
type Grouping int32

func (g Grouping) Apply(price decimal.Decimal) decimal.Decimal {
	return price.Shift(-int32(g)).Round(groupingPlaces).Shift(int32(g))
}
